package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/tmaxmax/go-sse"
)

type sendMessageRequest struct {
	Message models.Message `json:"message"`
}

type replyRecord struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

const doneRecord = "[DONE]"

// HandleSendMessage appends the user message to a chat and streams the assistant reply back as data
// records, one per LLM chunk, closed by a [DONE] record. Once the reply is complete it is stored, and a chat
// without a title gets one generated from the user message.
//
// Problems found before the stream starts are reported as JSON errors with a matching status code. After
// that the status is already sent, so an LLM failure is reported as an error record and ends the stream.
func (m Main) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	logger := m.logger.With(slog.String("chatID", chatID))

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message.Role != models.RoleUser || strings.TrimSpace(req.Message.Content) == "" {
		m.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	chat, err := m.store.Chat(r.Context(), chatID)
	if err != nil {
		m.storeError(w, chatID, err)
		return
	}

	if err := m.store.AddMessage(r.Context(), chatID, req.Message); err != nil {
		m.storeError(w, chatID, err)
		return
	}

	messages, err := m.store.Messages(r.Context(), chatID)
	if err != nil {
		m.storeError(w, chatID, err)
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		logger.Error("Failed to upgrade session", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	reply, err := m.streamReply(r.Context(), sess, messages)
	if err != nil {
		logger.Error("Failed to stream reply", slog.String(errLoggerKey, err.Error()))
		m.metrics.streamFailures.Inc()
		if err := m.sendRecord(sess, replyRecord{Error: err.Error()}); err != nil {
			logger.Warn("Failed to send error record", slog.String(errLoggerKey, err.Error()))
		}
		return
	}

	// Providers end the sequence quietly on cancellation, so a gone client leaves a truncated reply.
	if err := r.Context().Err(); err != nil {
		logger.Warn("Client went away, reply discarded", slog.String(errLoggerKey, err.Error()))
		return
	}

	if reply != "" {
		err := m.store.AddMessage(r.Context(), chatID, models.Message{
			Role:    models.RoleAssistant,
			Content: reply,
		})
		if err != nil {
			logger.Error("Failed to add assistant message", slog.String(errLoggerKey, err.Error()))
			m.metrics.streamFailures.Inc()
			_ = m.sendRecord(sess, replyRecord{Error: "failed to save reply"})
			return
		}

		if chat.Title == "" {
			m.generateChatTitle(r.Context(), chat, req.Message.Content)
		}
	}

	if err := m.send(sess, doneRecord); err != nil {
		logger.Warn("Failed to send done record", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) streamReply(ctx context.Context, sess *sse.Session, messages []models.Message) (string, error) {
	var reply strings.Builder
	for chunk, err := range m.llm.Chat(ctx, messages) {
		if err != nil {
			return "", err
		}
		if chunk == "" {
			continue
		}
		reply.WriteString(chunk)
		if err := m.sendRecord(sess, replyRecord{Content: chunk}); err != nil {
			return "", fmt.Errorf("failed to send fragment: %w", err)
		}
		m.metrics.fragments.Inc()
	}
	return reply.String(), nil
}

func (m Main) generateChatTitle(ctx context.Context, chat models.Chat, message string) {
	title, err := m.titleGenerator.GenerateTitle(ctx, message)
	if err != nil {
		m.logger.Error("Failed to generate title",
			slog.String("chatID", chat.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	chat.Title = strings.TrimSpace(title)
	if err := m.store.UpdateChat(ctx, chat); err != nil {
		m.logger.Error("Failed to update chat title",
			slog.String("chatID", chat.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) sendRecord(sess *sse.Session, rec replyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return m.send(sess, string(data))
}

func (m Main) send(sess *sse.Session, data string) error {
	msg := &sse.Message{}
	msg.AppendData(data)
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}
