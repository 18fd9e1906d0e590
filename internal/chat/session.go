// Package chat drives a chat session: it sends user messages, folds the streamed assistant reply into the
// transcript as it arrives, and reconciles the transcript with the service once the reply is complete.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/api"
	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/store"
	"github.com/MegaGrindStone/chatstream/internal/stream"
)

// API is the chat service as seen by a session. *api.Client implements it.
type API interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	Chat(ctx context.Context, chatID string) (models.Chat, []models.Message, error)
	CreateChat(ctx context.Context, title string) (models.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	SendMessage(ctx context.Context, chatID string, msg models.Message) (io.ReadCloser, error)
}

var (
	// ErrDispatchTimeout is recorded when the service doesn't answer a send within Options.DispatchTimeout.
	ErrDispatchTimeout = errors.New("timed out waiting for the chat service to answer")
	// ErrStreamIdle is recorded when the reply stream stays silent for Options.IdleTimeout.
	ErrStreamIdle = errors.New("timed out waiting for the reply stream")
	// ErrEmptyReply is recorded when the reply stream ends without any content.
	ErrEmptyReply = errors.New("the assistant returned an empty reply")
)

// Options tunes the deadlines of a session. A zero duration disables the matching deadline.
type Options struct {
	// DispatchTimeout bounds the wait for the response status of a send.
	DispatchTimeout time.Duration
	// IdleTimeout bounds the wait for every chunk of the reply stream, including the first one.
	IdleTimeout time.Duration
	// RequestTimeout bounds the non-streaming requests: conversation list, detail, create and delete.
	RequestTimeout time.Duration
}

// Session owns the state of one client: the transcript of the active conversation, the cached
// conversation list and the flags, all kept in a store.Store.
//
// Writers of the transcript (Send, FetchChat, DeleteChat) are serialized: a Send that starts while another
// one streams waits for it to finish instead of interleaving on the transcript tail.
type Session struct {
	api   API
	store *store.Store
	opts  Options

	writeMu sync.Mutex

	logger *slog.Logger
}

// NewSession creates a session over the given service and store.
func NewSession(service API, st *store.Store, opts Options, logger *slog.Logger) *Session {
	return &Session{
		api:    service,
		store:  st,
		opts:   opts,
		logger: logger.With(slog.String("module", "chat")),
	}
}

// Store returns the store the session writes to.
func (s *Session) Store() *store.Store {
	return s.store
}

// Send appends content as a user message of the conversation chatID, streams the assistant reply into
// the transcript and, once the reply is complete, replaces the transcript with the service's copy.
//
// Send never returns an error: the outcome is reported through the store flags, and on failure the
// partially streamed reply is removed while the user message stays. Send blocks until the send is over.
func (s *Session) Send(ctx context.Context, chatID, content string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	logger := s.logger.With(slog.String("chatID", chatID))

	defer s.store.SetFlags(func(f *models.Flags) {
		f.Phase = models.PhaseIdle
		f.CompletedOnce = false
	})

	s.setPhase(models.PhaseDispatching)
	s.store.Append(models.Message{Role: models.RoleUser, Content: content})

	placeholder, err := s.streamReply(ctx, chatID, content)
	if err != nil {
		logger.Error("Failed to stream reply",
			slog.Bool("placeholder", placeholder),
			slog.String(errLoggerKey, err.Error()))
		s.fail(err, placeholder)
		return
	}

	if err := s.reconcile(ctx, chatID); err != nil {
		// The streamed reply is kept: only the canonical copy is missing.
		logger.Error("Failed to reconcile transcript", slog.String(errLoggerKey, err.Error()))
		s.fail(err, false)
		return
	}

	s.setPhase(models.PhaseCompleted)
	logger.Debug("Send completed", slog.Int("messages", s.store.Len()))
}

// streamReply dispatches the user message and folds the reply into a placeholder assistant message. It
// reports whether the placeholder was appended, so a failure can roll it back.
func (s *Session) streamReply(ctx context.Context, chatID, content string) (bool, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	dispatchTimer := s.deadline(s.opts.DispatchTimeout, func() { cancel(ErrDispatchTimeout) })
	body, err := s.api.SendMessage(ctx, chatID, models.Message{Role: models.RoleUser, Content: content})
	dispatchTimer.stop()
	if err != nil {
		return false, causeOf(ctx, err)
	}
	defer body.Close()
	if errors.Is(context.Cause(ctx), ErrDispatchTimeout) {
		return false, ErrDispatchTimeout
	}

	s.store.Append(models.Message{Role: models.RoleAssistant})
	s.setPhase(models.PhaseStreamingFirstFragment)

	var r io.Reader = body
	if s.opts.IdleTimeout > 0 {
		ir := newIdleReader(body, s.opts.IdleTimeout, func() { cancel(ErrStreamIdle) })
		defer ir.stop()
		r = ir
	}

	var reply strings.Builder
	accumulating := false
	for fragment, err := range stream.Fragments(r) {
		if err != nil {
			return true, causeOf(ctx, err)
		}
		if fragment == "" {
			continue
		}
		// Leave the responding phase before the content shows, so no observer sees both.
		if !accumulating {
			accumulating = true
			s.setPhase(models.PhaseStreamingAccumulating)
		}
		reply.WriteString(fragment)
		s.store.UpdateLastIfRole(models.RoleAssistant, reply.String())
	}

	if reply.Len() == 0 {
		return true, ErrEmptyReply
	}
	return true, nil
}

// reconcile refreshes the conversation list after the first non-empty reply, so a new conversation shows
// the title the service gave it, then replaces the transcript with the service's copy.
func (s *Session) reconcile(ctx context.Context, chatID string) error {
	s.setPhase(models.PhaseReconciling)

	if !s.store.Flags().CompletedOnce {
		last, ok := s.store.Last()
		if ok && last.Role == models.RoleAssistant && strings.TrimSpace(last.Content) != "" {
			if err := s.FetchChats(ctx); err != nil {
				s.logger.Warn("Failed to refresh chats after reply", slog.String(errLoggerKey, err.Error()))
			}
			s.store.SetFlags(func(f *models.Flags) { f.CompletedOnce = true })
		}
	}

	return s.fetchChat(ctx, chatID)
}

func (s *Session) fail(err error, rollback bool) {
	s.store.SetFlags(func(f *models.Flags) {
		f.Phase = models.PhaseFailed
		f.Error = api.Message(err)
	})
	if rollback {
		s.store.RemoveLastIfRole(models.RoleAssistant)
	}
}

func (s *Session) setPhase(p models.Phase) {
	s.logger.Debug("Phase", slog.String("phase", p.String()))
	s.store.SetFlags(func(f *models.Flags) { f.Phase = p })
}

// FetchChats refreshes the cached conversation list.
func (s *Session) FetchChats(ctx context.Context) error {
	s.store.SetFlags(func(f *models.Flags) {
		f.Error = ""
		f.ChatsLoading = true
	})

	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	chats, err := s.api.Chats(ctx)
	if err != nil {
		s.store.SetFlags(func(f *models.Flags) {
			f.Error = api.Message(err)
			f.ChatsLoading = false
		})
		return fmt.Errorf("failed to fetch chats: %w", err)
	}

	s.store.SetChats(chats)
	s.store.SetFlags(func(f *models.Flags) { f.ChatsLoading = false })
	return nil
}

// FetchChat makes chatID the current conversation and loads its transcript from the service. It waits for
// a running Send to finish.
func (s *Session) FetchChat(ctx context.Context, chatID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.fetchChat(ctx, chatID)
}

func (s *Session) fetchChat(ctx context.Context, chatID string) error {
	s.store.SetFlags(func(f *models.Flags) {
		f.Error = ""
		f.ChatLoading = true
	})

	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	chat, messages, err := s.api.Chat(ctx, chatID)
	if err != nil {
		s.store.SetFlags(func(f *models.Flags) {
			f.Error = api.Message(err)
			f.ChatLoading = false
		})
		return fmt.Errorf("failed to fetch chat %s: %w", chatID, err)
	}

	s.store.SetCurrent(chat)
	s.store.ReplaceAll(messages)
	s.store.SetFlags(func(f *models.Flags) { f.ChatLoading = false })
	return nil
}

// CreateChat creates a conversation and puts it at the top of the cached list.
func (s *Session) CreateChat(ctx context.Context, title string) (models.Chat, error) {
	s.store.SetFlags(func(f *models.Flags) {
		f.Error = ""
		f.ChatLoading = true
	})

	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	chat, err := s.api.CreateChat(ctx, title)
	if err != nil {
		s.store.SetFlags(func(f *models.Flags) {
			f.Error = api.Message(err)
			f.ChatLoading = false
		})
		return models.Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}

	s.store.PrependChat(chat)
	s.store.SetFlags(func(f *models.Flags) { f.ChatLoading = false })
	return chat, nil
}

// DeleteChat deletes a conversation and drops it from the cache. Deleting the current conversation also
// clears the transcript, so it waits for a running Send to finish.
func (s *Session) DeleteChat(ctx context.Context, chatID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.store.SetFlags(func(f *models.Flags) {
		f.Error = ""
		f.ChatLoading = true
	})

	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.api.DeleteChat(ctx, chatID); err != nil {
		s.store.SetFlags(func(f *models.Flags) {
			f.Error = api.Message(err)
			f.ChatLoading = false
		})
		return fmt.Errorf("failed to delete chat %s: %w", chatID, err)
	}

	s.store.RemoveChat(chatID)
	s.store.SetFlags(func(f *models.Flags) { f.ChatLoading = false })
	return nil
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.RequestTimeout)
}

// causeOf replaces err with the deadline that cancelled ctx, if any.
func causeOf(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrDispatchTimeout) || errors.Is(cause, ErrStreamIdle) {
		return cause
	}
	return err
}
