package store_test

import (
	"sync"
	"testing"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/store"
)

func TestStoreTailMutations(t *testing.T) {
	s := store.New()

	if s.UpdateLastIfRole(models.RoleAssistant, "x") {
		t.Error("UpdateLastIfRole() on empty store should be a no-op")
	}
	if s.RemoveLastIfRole(models.RoleAssistant) {
		t.Error("RemoveLastIfRole() on empty store should be a no-op")
	}

	s.Append(models.Message{Role: models.RoleUser, Content: "hi"})
	if s.UpdateLastIfRole(models.RoleAssistant, "x") {
		t.Error("UpdateLastIfRole() should not touch a user message")
	}

	s.Append(models.Message{Role: models.RoleAssistant})
	if !s.UpdateLastIfRole(models.RoleAssistant, "Hel") {
		t.Error("UpdateLastIfRole() should update the assistant message")
	}
	if !s.UpdateLastIfRole(models.RoleAssistant, "Hello") {
		t.Error("UpdateLastIfRole() should update the assistant message")
	}

	last, ok := s.Last()
	if !ok || last.Content != "Hello" {
		t.Errorf("Last() = %+v, %v, want content Hello", last, ok)
	}

	if s.RemoveLastIfRole(models.RoleUser) {
		t.Error("RemoveLastIfRole(user) should not pop an assistant message")
	}
	if !s.RemoveLastIfRole(models.RoleAssistant) {
		t.Error("RemoveLastIfRole(assistant) should pop the assistant message")
	}
	if got := s.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestStoreReplaceAllCopies(t *testing.T) {
	s := store.New()
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleAssistant, Content: "b"},
	}
	s.ReplaceAll(msgs)
	msgs[0].Content = "mutated"

	got := s.Messages()
	if got[0].Content != "a" {
		t.Errorf("ReplaceAll() kept a reference to the caller's slice: %+v", got)
	}

	got[1].Content = "mutated"
	if last, _ := s.Last(); last.Content != "b" {
		t.Errorf("Messages() returned a reference to internal state: %+v", last)
	}
}

func TestStoreSetFlagsMerges(t *testing.T) {
	s := store.New()
	s.SetFlags(func(f *models.Flags) {
		f.ChatsLoading = true
		f.Error = "boom"
	})
	s.SetFlags(func(f *models.Flags) {
		f.Phase = models.PhaseDispatching
	})

	f := s.Flags()
	if !f.ChatsLoading || f.Error != "boom" || f.Phase != models.PhaseDispatching {
		t.Errorf("Flags() = %+v", f)
	}
}

func TestStoreChats(t *testing.T) {
	s := store.New()
	s.SetChats([]models.Chat{{ID: "1"}, {ID: "2"}})
	s.PrependChat(models.Chat{ID: "3"})

	chats := s.Chats()
	if len(chats) != 3 || chats[0].ID != "3" {
		t.Fatalf("Chats() = %+v", chats)
	}

	s.SetCurrent(models.Chat{ID: "2"})
	s.Append(models.Message{Role: models.RoleUser, Content: "x"})

	s.RemoveChat("1")
	if _, ok := s.Current(); !ok {
		t.Error("RemoveChat() of another chat should keep the current chat")
	}

	s.RemoveChat("2")
	if _, ok := s.Current(); ok {
		t.Error("RemoveChat() of the current chat should clear it")
	}
	if s.Len() != 0 {
		t.Error("RemoveChat() of the current chat should clear the transcript")
	}
	if got := s.Chats(); len(got) != 1 || got[0].ID != "3" {
		t.Errorf("Chats() = %+v", got)
	}
}

func TestStoreObservers(t *testing.T) {
	s := store.New()

	var snaps []store.Snapshot
	unsubscribe := s.Subscribe(func(snap store.Snapshot) {
		snaps = append(snaps, snap)
		// Observers run outside the lock and may read the store.
		_ = s.Len()
	})

	s.Append(models.Message{Role: models.RoleUser, Content: "hi"})
	s.UpdateLastIfRole(models.RoleAssistant, "ignored")
	s.Append(models.Message{Role: models.RoleAssistant})
	s.UpdateLastIfRole(models.RoleAssistant, "yo")

	if len(snaps) != 3 {
		t.Fatalf("observer called %d times, want 3", len(snaps))
	}
	if got := snaps[2].Messages[1].Content; got != "yo" {
		t.Errorf("last snapshot content = %q, want %q", got, "yo")
	}
	if got := snaps[1].Messages[1].Content; got != "" {
		t.Errorf("earlier snapshot changed to %q", got)
	}

	unsubscribe()
	s.Append(models.Message{Role: models.RoleUser, Content: "again"})
	if len(snaps) != 3 {
		t.Errorf("observer called after unsubscribe")
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := store.New()
	s.Subscribe(func(store.Snapshot) {})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Append(models.Message{Role: models.RoleUser, Content: "x"})
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()

	if got := s.Len(); got != 800 {
		t.Errorf("Len() = %d, want 800", got)
	}
}
