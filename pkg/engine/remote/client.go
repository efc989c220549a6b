// Package remote is an HTTP client for an external recommendation
// service. Transient failures are retried with exponential backoff;
// anything that still fails surfaces as an engine error the scheduler
// absorbs into timeline state.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/stylecore/internal/types"
	"github.com/user/stylecore/pkg/engine"
)

// Client implements engine.Engine against an HTTP recommender.
type Client struct {
	config     *engine.Config
	httpClient *http.Client
	retry      *RetryPolicy
}

// New creates a remote engine client with the given configuration.
func New(config *engine.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		retry: DefaultRetryPolicy(),
	}
}

// recommendRequest is the wire format sent to the recommender.
type recommendRequest struct {
	RequestID string          `json:"request_id"`
	Model     string          `json:"model,omitempty"`
	Utterance string          `json:"utterance"`
	Prompt    string          `json:"prompt,omitempty"`
	Wardrobe  []wireItem      `json:"wardrobe"`
	Flags     map[string]bool `json:"flags,omitempty"`
	StyleTags []string        `json:"style_tags,omitempty"`
}

// wireItem is the subset of a clothing item the recommender needs.
type wireItem struct {
	ID       string `json:"id"`
	ImageRef string `json:"image_ref"`
	Category string `json:"category,omitempty"`
}

// recommendResponse is the recommender's reply body.
type recommendResponse struct {
	Recommendation string `json:"recommendation"`
	Error          string `json:"error,omitempty"`
}

// Recommend sends the request, retrying transient failures, and returns
// the recommendation text.
func (c *Client) Recommend(ctx context.Context, req *engine.Request) (string, error) {
	wire := toWire(req)
	wire.Model = c.config.Model
	body, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var text string
	err = c.retry.Execute(ctx, func() error {
		var callErr error
		text, callErr = c.call(ctx, body)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func toWire(req *engine.Request) recommendRequest {
	out := recommendRequest{
		RequestID: string(req.ID),
		Utterance: req.Utterance,
		Prompt:    req.Prompt,
		Flags:     req.Preferences.Flags,
		StyleTags: req.Preferences.StyleTags,
		Wardrobe:  make([]wireItem, len(req.Catalog)),
	}
	for i, item := range req.Catalog {
		out.Wardrobe[i] = wireItem{
			ID:       string(item.ID),
			ImageRef: item.ImageRef,
			Category: string(item.Category),
		}
	}
	return out
}

// call performs one HTTP round trip.
func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	url := c.config.BaseURL + "/v1/recommendations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &statusError{status: 0, err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &statusError{status: resp.StatusCode, err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{
			status: resp.StatusCode,
			err:    fmt.Errorf("recommender status %d: %s: %w", resp.StatusCode, string(respBody), types.ErrEngine),
		}
	}

	var parsed recommendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("recommender error: %s: %w", parsed.Error, types.ErrEngine)
	}
	if parsed.Recommendation == "" {
		return "", fmt.Errorf("recommender returned empty recommendation: %w", types.ErrEngine)
	}
	return parsed.Recommendation, nil
}

// statusError carries the HTTP status so the retry policy can classify it.
// A status of 0 means the request never reached the server.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }
