package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/api"
	"github.com/MegaGrindStone/chatstream/internal/models"
)

func newClient(t *testing.T, h http.Handler) *api.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL+"/", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientChats(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"chats": []models.Chat{{ID: "c1", Title: "First", CreatedAt: created, UpdatedAt: created}},
		})
	})

	chats, err := newClient(t, mux).Chats(context.Background())
	if err != nil {
		t.Fatalf("Chats() error = %v", err)
	}
	if len(chats) != 1 || chats[0].ID != "c1" || !chats[0].CreatedAt.Equal(created) {
		t.Errorf("Chats() = %+v", chats)
	}
}

func TestClientChat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "c 1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "chat not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"chat": models.Chat{ID: "c 1", Title: "Spaces"},
			"messages": []models.Message{
				{Role: models.RoleUser, Content: "hi"},
				{Role: models.RoleAssistant, Content: "Hello", Comment: "greeting"},
			},
		})
	})
	client := newClient(t, mux)

	chat, msgs, err := client.Chat(context.Background(), "c 1")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if chat.Title != "Spaces" || len(msgs) != 2 || msgs[1].Comment != "greeting" {
		t.Errorf("Chat() = %+v, %+v", chat, msgs)
	}

	_, _, err = client.Chat(context.Background(), "missing")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Chat() error = %v, want *api.Error", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "chat not found" {
		t.Errorf("Chat() error = %+v", apiErr)
	}
	if !errors.Is(err, api.ErrUnexpectedStatus) {
		t.Error("api.Error should wrap ErrUnexpectedStatus")
	}
	if got := api.Message(err); got != "chat not found" {
		t.Errorf("Message() = %q", got)
	}
}

func TestClientCreateAndDeleteChat(t *testing.T) {
	var gotTitle string
	deleted := ""
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotTitle = req.Title
		writeJSON(w, http.StatusCreated, map[string]any{"chat": models.Chat{ID: "new", Title: req.Title}})
	})
	mux.HandleFunc("DELETE /chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted = r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})
	client := newClient(t, mux)

	chat, err := client.CreateChat(context.Background(), "Trip")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if chat.ID != "new" || gotTitle != "Trip" {
		t.Errorf("CreateChat() = %+v, server saw title %q", chat, gotTitle)
	}

	if err := client.DeleteChat(context.Background(), "new"); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	if deleted != "new" {
		t.Errorf("DeleteChat() deleted %q", deleted)
	}
}

func TestClientSendMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversation/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "broken" {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		var req struct {
			Message models.Message `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message.Role != models.RoleUser {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad message"})
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"content\":\""+req.Message.Content+"\"}\n\ndata: [DONE]\n\n")
	})
	client := newClient(t, mux)

	body, err := client.SendMessage(context.Background(), "c1", models.Message{Role: models.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if want := "data: {\"content\":\"hi\"}\n\ndata: [DONE]\n\n"; string(raw) != want {
		t.Errorf("SendMessage() body = %q, want %q", raw, want)
	}

	_, err = client.SendMessage(context.Background(), "broken", models.Message{Role: models.RoleUser, Content: "hi"})
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("SendMessage() error = %v, want 502 *api.Error", err)
	}
	if apiErr != nil && apiErr.Message != "" {
		t.Errorf("plain text body should not become a message, got %q", apiErr.Message)
	}
}

func TestClientCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		writeJSON(w, http.StatusCreated, map[string]any{"chat": models.Chat{ID: "c1"}})
	})
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err != nil || c.Value != "abc" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no session"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chats": []models.Chat{}})
	})
	client := newClient(t, mux)

	if _, err := client.CreateChat(context.Background(), ""); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, err := client.Chats(context.Background()); err != nil {
		t.Errorf("Chats() error = %v, cookie should have been sent back", err)
	}
}
