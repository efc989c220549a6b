// Package server is the client-facing HTTP surface: conversation
// lifecycle, message posting, revision polling, wardrobe, and
// preferences. A poller or push layer outside the core uses the revision
// endpoint to know when to re-fetch.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/user/stylecore/internal/session"
	"github.com/user/stylecore/internal/state"
	"github.com/user/stylecore/internal/types"
)

// Server implements http.Handler.
type Server struct {
	manager *session.Manager
	catalog types.CatalogStore
	prefs   types.PreferenceStore
	archive *state.Store
	mux     *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithArchive keeps conversation lifecycle records in the durable store.
func WithArchive(st *state.Store) Option {
	return func(s *Server) { s.archive = st }
}

// New creates a Server over the given manager and stores.
func New(manager *session.Manager, catalog types.CatalogStore, prefs types.PreferenceStore, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		catalog: catalog,
		prefs:   prefs,
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /conversations", s.handleCreateConversation)
	s.mux.HandleFunc("GET /conversations/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("POST /conversations/{id}/messages", s.handlePostMessage)
	s.mux.HandleFunc("GET /conversations/{id}/revision", s.handleRevision)
	s.mux.HandleFunc("POST /conversations/{id}/close", s.handleCloseConversation)
	s.mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("GET /wardrobe/items", s.handleListItems)
	s.mux.HandleFunc("POST /wardrobe/items", s.handleAddItem)
	s.mux.HandleFunc("DELETE /wardrobe/items/{id}", s.handleRemoveItem)
	s.mux.HandleFunc("PUT /wardrobe/items/{id}/category", s.handleSetCategory)
	s.mux.HandleFunc("GET /preferences/{owner}", s.handleGetPreferences)
	s.mux.HandleFunc("PUT /preferences/{owner}", s.handlePutPreferences)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: not-found is
// 404, contract violations and closed conversations are 409, everything
// else is a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrOrderingViolation),
		errors.Is(err, types.ErrConversationClosed):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- conversations -----------------------------------------------------

type createConversationRequest struct {
	OwnerID string `json:"owner_id"`
}

type conversationResponse struct {
	ConversationID string          `json:"conversation_id"`
	OwnerID        string          `json:"owner_id"`
	Revision       uint64          `json:"revision"`
	Messages       []types.Message `json:"messages,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
		return
	}

	sess, err := s.manager.Create(r.Context(), types.OwnerID(req.OwnerID))
	if err != nil {
		writeError(w, err)
		return
	}
	if s.archive != nil {
		if err := s.archive.CreateConversation(r.Context(), sess.ID(), sess.Owner(), sess.CreatedAt()); err != nil {
			slog.Error("archive conversation", "conversation_id", string(sess.ID()), "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, conversationResponse{
		ConversationID: string(sess.ID()),
		OwnerID:        string(sess.Owner()),
		Revision:       sess.Revision(),
		Messages:       sess.ListMessages(),
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	id := types.ConversationID(r.PathValue("id"))
	sess, err := s.manager.Get(id)
	if err != nil {
		writeError(w, err)
		return nil
	}
	return sess
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{
		ConversationID: string(sess.ID()),
		OwnerID:        string(sess.Owner()),
		Revision:       sess.Revision(),
		Messages:       sess.ListMessages(),
	})
}

func (s *Server) handleRevision(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"revision": sess.Revision()})
}

type postMessageRequest struct {
	Body string `json:"body"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body is required"})
		return
	}

	reqID, err := sess.PostMessage(r.Context(), req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": string(reqID),
		"revision":   sess.Revision(),
	})
}

func (s *Server) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	id := types.ConversationID(r.PathValue("id"))
	if err := s.manager.Close(id); err != nil {
		writeError(w, err)
		return
	}
	if s.archive != nil {
		if err := s.archive.SetClosed(r.Context(), id, true); err != nil && !errors.Is(err, types.ErrNotFound) {
			slog.Error("archive close", "conversation_id", string(id), "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := types.ConversationID(r.PathValue("id"))
	if err := s.manager.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	if s.archive != nil {
		if err := s.archive.DeleteConversation(r.Context(), id); err != nil && !errors.Is(err, types.ErrNotFound) {
			slog.Error("archive delete", "conversation_id", string(id), "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- wardrobe ----------------------------------------------------------

type addItemRequest struct {
	OwnerID  string `json:"owner_id"`
	ImageRef string `json:"image_ref"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.OwnerID == "" || req.ImageRef == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id and image_ref are required"})
		return
	}

	item := &types.ClothingItem{
		OwnerID:  types.OwnerID(req.OwnerID),
		ImageRef: req.ImageRef,
	}
	if err := s.catalog.AddItem(r.Context(), item); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
		return
	}
	items, err := s.catalog.SnapshotFor(r.Context(), types.OwnerID(owner))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id := types.ItemID(r.PathValue("id"))
	if err := s.catalog.RemoveItem(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type setCategoryRequest struct {
	Category string `json:"category"`
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	var req setCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if !types.ValidCategories[types.Category(req.Category)] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown category"})
		return
	}
	id := types.ItemID(r.PathValue("id"))
	if err := s.catalog.SetCategory(r.Context(), id, types.Category(req.Category)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "classified"})
}

// --- preferences -------------------------------------------------------

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	owner := types.OwnerID(r.PathValue("owner"))
	prefs, err := s.prefs.Get(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type putPreferencesRequest struct {
	Flags     map[string]bool `json:"flags"`
	StyleTags []string        `json:"style_tags"`
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var req putPreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	prefs := types.PreferenceSet{
		OwnerID:   types.OwnerID(r.PathValue("owner")),
		Flags:     req.Flags,
		StyleTags: req.StyleTags,
	}
	if err := s.prefs.Put(r.Context(), prefs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
