// Package prompt assembles the token-budgeted context text attached to a
// recommendation request: a system line, a wardrobe summary, the owner's
// style tags, and as much recent conversation history as fits.
package prompt

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/stylecore/internal/types"
)

// Builder renders engine prompts within a token budget.
type Builder struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// New creates a Builder. encoding names the tokenizer (e.g. "cl100k_base");
// maxTokens is the total budget for the rendered prompt.
func New(encoding string, maxTokens int) (*Builder, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	return &Builder{tokenizer: enc, maxTokens: maxTokens}, nil
}

// countTokens returns the token count for a string.
func (b *Builder) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Build renders the prompt. History is walked newest-first and older
// messages are dropped once the budget is spent, so the most recent
// exchange always survives trimming. Pending placeholders are skipped.
func (b *Builder) Build(history []types.Message, catalog []types.ClothingItem, prefs types.PreferenceSet) string {
	header := b.header(catalog, prefs)
	remaining := b.maxTokens - b.countTokens(header)

	var kept []string
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Status == types.StatusPending {
			continue
		}
		line := fmt.Sprintf("%s: %s", msg.Sender, msg.Body)
		cost := b.countTokens(line)
		if cost > remaining {
			break
		}
		kept = append(kept, line)
		remaining -= cost
	}

	var sb strings.Builder
	sb.WriteString(header)
	for i := len(kept) - 1; i >= 0; i-- {
		sb.WriteString("\n")
		sb.WriteString(kept[i])
	}
	return sb.String()
}

// header summarizes the wardrobe snapshot and preferences.
func (b *Builder) header(catalog []types.ClothingItem, prefs types.PreferenceSet) string {
	counts := make(map[types.Category]int)
	var unclassified int
	for _, item := range catalog {
		if item.Category == "" {
			unclassified++
			continue
		}
		counts[item.Category]++
	}

	var parts []string
	for _, cat := range []types.Category{
		types.CategoryTop, types.CategoryBottom, types.CategoryDress,
		types.CategoryOuterwear, types.CategoryShoes, types.CategoryAccessory,
	} {
		if n := counts[cat]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, cat))
		}
	}
	if unclassified > 0 {
		parts = append(parts, fmt.Sprintf("%d unclassified", unclassified))
	}

	wardrobe := "empty wardrobe"
	if len(parts) > 0 {
		wardrobe = strings.Join(parts, ", ")
	}

	header := fmt.Sprintf("You are a personal stylist. Wardrobe: %s.", wardrobe)
	if len(prefs.StyleTags) > 0 {
		header += fmt.Sprintf(" Style preferences: %s.", strings.Join(prefs.StyleTags, ", "))
	}
	return header
}
