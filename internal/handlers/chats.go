package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatstream/internal/models"
)

type chatsResponse struct {
	Chats []models.Chat `json:"chats"`
}

type chatResponse struct {
	Chat     models.Chat      `json:"chat"`
	Messages []models.Message `json:"messages"`
}

type createChatResponse struct {
	Chat models.Chat `json:"chat"`
}

type createChatRequest struct {
	Title string `json:"title"`
}

// HandleListChats writes every stored chat, most recently updated first.
func (m Main) HandleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := m.store.Chats(r.Context())
	if err != nil {
		m.logger.Error("Failed to get chats", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, "failed to load chats")
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}

	m.writeJSON(w, http.StatusOK, chatsResponse{Chats: chats})
}

// HandleGetChat writes a chat together with its full transcript.
func (m Main) HandleGetChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	chat, err := m.store.Chat(r.Context(), chatID)
	if err != nil {
		m.storeError(w, chatID, err)
		return
	}

	messages, err := m.store.Messages(r.Context(), chatID)
	if err != nil {
		m.storeError(w, chatID, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	m.writeJSON(w, http.StatusOK, chatResponse{Chat: chat, Messages: messages})
}

// HandleCreateChat creates a chat. The request body is optional; an untitled chat gets its title from the
// first reply.
func (m Main) HandleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		m.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chat, err := m.store.AddChat(r.Context(), models.Chat{Title: req.Title})
	if err != nil {
		m.logger.Error("Failed to add chat", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	m.writeJSON(w, http.StatusCreated, createChatResponse{Chat: chat})
}

// HandleDeleteChat deletes a chat with its transcript.
func (m Main) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	if err := m.store.DeleteChat(r.Context(), chatID); err != nil {
		m.storeError(w, chatID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (m Main) storeError(w http.ResponseWriter, chatID string, err error) {
	if errors.Is(err, models.ErrChatNotFound) {
		m.writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	m.logger.Error("Store request failed",
		slog.String("chatID", chatID),
		slog.String(errLoggerKey, err.Error()))
	m.writeError(w, http.StatusInternalServerError, "failed to load chat")
}
