package handler

import (
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"voltiq/internal/gateway"
	"voltiq/internal/httputil"
	"voltiq/internal/store"
)

// greeting opens every new conversation as the first assistant turn.
const greeting = "Hello! I'm your AI assistant Jake. I can help you generate charts and text analysis. How can I assist you today?"

// defaultTitle names a conversation until the first user message arrives.
const defaultTitle = "New Chat"

// ChatHandler handles conversation HTTP requests.
type ChatHandler struct {
	store        store.Store
	orchestrator *gateway.Orchestrator
	logger       *slog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(st store.Store, orchestrator *gateway.Orchestrator, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		store:        st,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// CreateChat creates a new conversation seeded with the opening greeting.
// POST /api/chat/new
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.store.CreateChat(r.Context(), defaultTitle)
	if err != nil {
		handleError(w, err)
		return
	}

	greetingTurn := &store.Turn{
		ChatID:  chat.ID,
		Role:    store.RoleAssistant,
		Content: greeting,
	}
	if err := h.store.AppendTurn(r.Context(), greetingTurn); err != nil {
		handleError(w, err)
		return
	}
	chat.Turns = []store.Turn{*greetingTurn}

	httputil.RespondJSON(w, http.StatusCreated, chat)
}

// ListChats retrieves all conversations, most recently updated first.
// GET /api/chats
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.ListChats(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chats)
}

// GetChat retrieves a conversation together with its turns.
// GET /api/chat/{id}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	chat, err := h.store.GetChat(r.Context(), chatID)
	if err != nil {
		handleError(w, err)
		return
	}

	turns, err := h.store.ListTurns(r.Context(), chatID, 0)
	if err != nil {
		handleError(w, err)
		return
	}
	chat.Turns = turns

	httputil.RespondJSON(w, http.StatusOK, chat)
}

type updateChatRequest struct {
	Title string `json:"title"`
}

// UpdateChat renames a conversation.
// PATCH /api/chat/{id}
func (h *ChatHandler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	var req updateChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	if err := validation.Validate(req.Title,
		validation.Required.Error("title must not be empty"),
		validation.RuneLength(1, 200),
	); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid title", err.Error())
		return
	}

	if err := h.store.UpdateTitle(r.Context(), chatID, req.Title); err != nil {
		handleError(w, err)
		return
	}

	chat, err := h.store.GetChat(r.Context(), chatID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chat)
}

// DeleteChat deletes a conversation and its turns.
// DELETE /api/chat/{id}
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	if err := h.store.DeleteChat(r.Context(), chatID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Messages []gateway.TurnInput `json:"messages"`
}

// SendMessage runs one assistant generation and streams the reply.
// POST /api/chat/{id}/message
//
// The response is a chunked text/plain token stream. Errors before the
// first byte respond with the JSON error body; once partial output has
// been written the stream is simply closed, never patched up with a
// fabricated completion.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	var req sendMessageRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	sink := newStreamWriter(w)

	if err := h.orchestrator.SendMessage(r.Context(), chatID, req.Messages, sink); err != nil {
		if sink.wrote {
			h.logger.Error("generation failed after partial output",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()))
			return
		}
		handleError(w, err)
		return
	}

	// A generation can legitimately finish without text.
	if !sink.wrote {
		sink.writeHeader()
	}
}

// streamWriter defers the 200 and the text/plain headers until the first
// byte, so a failure before any output can still respond with the JSON
// error body. Every write is flushed so tokens reach the client as they
// arrive.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	flusher, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: flusher}
}

func (s *streamWriter) writeHeader() {
	s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.WriteHeader(http.StatusOK)
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if !s.wrote {
		s.writeHeader()
		s.wrote = true
	}
	n, err := s.w.Write(p)
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return n, err
}
