package handler

import (
	"errors"
	"net/http"

	"github.com/bloomworks/bloom/internal/deepseek"
	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/store"
)

const defaultChatPrompt = "You are a helpful assistant for a flower shop. " +
	"Answer questions about bouquets, occasions, care tips, and ordering. " +
	"Keep replies short and friendly."

// Visitor chat limits. History is capped so a client cannot grow requests
// without bound.
const (
	maxChatMessage = 2000
	maxChatHistory = 20
)

// ChatHandler answers visitor questions through the configured chat model.
type ChatHandler struct {
	store *store.Store
	ai    *deepseek.Client
}

func NewChatHandler(st *store.Store, ai *deepseek.Client) *ChatHandler {
	return &ChatHandler{store: st, ai: ai}
}

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Message string     `json:"message"`
	History []chatTurn `json:"history,omitempty"`
}

// Converse handles one visitor chat turn.
// POST /api/v1/chat
func (h *ChatHandler) Converse(w http.ResponseWriter, r *http.Request) {
	if !h.ai.Configured() {
		writeError(w, http.StatusServiceUnavailable, "chat is not available")
		return
	}

	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Message) > maxChatMessage {
		writeError(w, http.StatusBadRequest, "message is too long")
		return
	}
	if len(req.History) > maxChatHistory {
		req.History = req.History[len(req.History)-maxChatHistory:]
	}

	prompt := defaultChatPrompt
	if custom, err := h.store.GetSetting(r.Context(), model.SettingChatPrompt); err == nil && custom != "" {
		prompt = custom
	}

	messages := make([]deepseek.Message, 0, len(req.History)+2)
	messages = append(messages, deepseek.Message{Role: "system", Content: prompt})
	for _, turn := range req.History {
		if turn.Role != "user" && turn.Role != "assistant" {
			writeError(w, http.StatusBadRequest, "history roles must be user or assistant")
			return
		}
		messages = append(messages, deepseek.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, deepseek.Message{Role: "user", Content: req.Message})

	reply, err := h.ai.Complete(r.Context(), messages)
	if err != nil {
		if errors.Is(err, deepseek.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "chat is not available")
			return
		}
		writeError(w, http.StatusBadGateway, "chat backend error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"reply": reply})
}
