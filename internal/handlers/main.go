package handlers

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// LLM represents a large language model interface that provides chat functionality. It accepts a context
// and a sequence of messages, returning an iterator that yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// TitleGenerator produces a short title for a conversation from its first user message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Store defines the interface for managing chat and message persistence. Lookups of a missing chat return
// models.ErrChatNotFound.
type Store interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	Chat(ctx context.Context, chatID string) (models.Chat, error)
	AddChat(ctx context.Context, chat models.Chat) (models.Chat, error)
	UpdateChat(ctx context.Context, chat models.Chat) error
	DeleteChat(ctx context.Context, chatID string) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) error
}

// Main serves the chat API: conversation CRUD as JSON and the streamed assistant replies as data records.
type Main struct {
	llm            LLM
	titleGenerator TitleGenerator
	store          Store

	metrics metrics

	logger *slog.Logger
}

const errLoggerKey = "err"

type errorResponse struct {
	Error string `json:"error"`
}

// NewMain creates a new Main instance with the provided LLM, TitleGenerator and Store implementations. The
// handler metrics are registered with reg.
func NewMain(
	llm LLM,
	titleGen TitleGenerator,
	store Store,
	reg prometheus.Registerer,
	logger *slog.Logger,
) (Main, error) {
	mtr, err := newMetrics(reg)
	if err != nil {
		return Main{}, err
	}

	return Main{
		llm:            llm,
		titleGenerator: titleGen,
		store:          store,
		metrics:        mtr,
		logger:         logger.With(slog.String("module", "main")),
	}, nil
}

// Handler returns the routes of the chat API.
func (m Main) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /chats", m.instrument("list_chats", m.HandleListChats))
	mux.Handle("POST /chats", m.instrument("create_chat", m.HandleCreateChat))
	mux.Handle("GET /chats/{id}", m.instrument("get_chat", m.HandleGetChat))
	mux.Handle("DELETE /chats/{id}", m.instrument("delete_chat", m.HandleDeleteChat))
	mux.Handle("POST /conversation/{id}/messages", m.instrument("send_message", m.HandleSendMessage))

	return mux
}

func (m Main) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("Failed to write response", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) writeError(w http.ResponseWriter, status int, msg string) {
	m.writeJSON(w, status, errorResponse{Error: msg})
}
