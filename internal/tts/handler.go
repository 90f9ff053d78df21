package tts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
)

// Handler is the HTTP API layer for speech synthesis.
type Handler struct {
	service Service
}

// NewHandler creates a new handler injecting the service.
func NewHandler(s Service) *Handler {
	return &Handler{
		service: s,
	}
}

// RegisterRoutes attaches the synthesis endpoint to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/tts", h.handleTTS)
}

// --- DTOs ---

type ttsRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// handleTTS synthesizes the text and answers with the mp3 bytes.
func (h *Handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrEmptyText.Error())
		return
	}

	result, err := h.service.Synthesize(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, ErrEmptyText) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "TTS synthesis failed")
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="speech.mp3"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Audio)))
	w.Header().Set("X-Session-ID", result.SessionID.String())
	w.WriteHeader(http.StatusOK)
	w.Write(result.Audio)
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
