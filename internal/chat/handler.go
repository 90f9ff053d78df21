package chat

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
)

// Handler is the HTTP API layer for the chat relay.
type Handler struct {
	service Service
}

// NewHandler creates a new handler injecting the service.
func NewHandler(s Service) *Handler {
	return &Handler{
		service: s,
	}
}

// RegisterRoutes attaches the chat endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	// Streamed reply as server-sent events
	r.Post("/chat", h.handleChat)

	// Whole reply in one JSON body
	r.Post("/chat/reply", h.handleReply)
}

// --- DTOs ---

// chatRequest is the DTO for what the client app sends.
type chatRequest struct {
	Message   string    `json:"message"`
	History   []Message `json:"history"`
	EmojiHint bool      `json:"emoji_hint"`
}

func (c chatRequest) toRequest() *Request {
	return &Request{
		Message:   c.Message,
		History:   c.History,
		EmojiHint: c.EmojiHint,
	}
}

// chunkEvent is one server-sent event. FullText is only present on the last one.
type chunkEvent struct {
	Chunk    string  `json:"chunk"`
	Done     bool    `json:"done"`
	FullText *string `json:"full_text,omitempty"`
}

type replyResponse struct {
	Reply   string `json:"reply"`
	Success bool   `json:"success"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// --- Handlers ---

// handleChat relays the completion to the client as an event stream, one
// event per upstream delta.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for chunk := range h.service.Relay(r.Context(), req) {
		if err := writeEvent(w, chunk); err != nil {
			// Client went away; leaving the loop closes the upstream stream.
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
}

// handleReply returns the whole completion at once.
func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	reply, err := h.service.Reply(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not process chat")
		return
	}

	writeJSON(w, http.StatusOK, replyResponse{Reply: reply, Success: true})
}

// decodeRequest parses and validates the body, answering 400 itself on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request) (*Request, bool) {
	var body chatRequest
	if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return nil, false
	}

	req := body.toRequest()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return req, true
}

func writeEvent(w http.ResponseWriter, chunk StreamChunk) error {
	event := chunkEvent{Chunk: chunk.Text, Done: chunk.Done}
	if chunk.Done {
		full := chunk.FullText
		event.FullText = &full
	}

	payload, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal chunk: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// writeJSON is a helper function for sending json responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		payload, err := sonic.Marshal(data)
		if err != nil {
			return
		}
		w.Write(payload)
	}
}

// writeError is a helper for sending a standardized json error.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, Success: false})
}
