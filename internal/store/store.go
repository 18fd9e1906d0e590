// Package store holds the client-side state of a chat session: the transcript of the active conversation,
// the cached conversation list and the loading/error flags.
package store

import (
	"maps"
	"slices"
	"sync"

	"github.com/MegaGrindStone/chatstream/internal/models"
)

// Snapshot is a consistent copy of the store state handed to observers.
type Snapshot struct {
	Messages []models.Message
	Chats    []models.Chat
	Current  *models.Chat
	Flags    models.Flags
}

// Observer is notified synchronously after every mutation of the store.
type Observer func(Snapshot)

// Store is safe for concurrent use. Mutations of the transcript are restricted to its tail, so folding a
// streamed fragment costs O(1) regardless of the transcript length. Observers are called after the lock
// is released, so they may read the store but must not assume they see the latest state.
type Store struct {
	mu sync.RWMutex

	messages []models.Message
	chats    []models.Chat
	current  *models.Chat
	flags    models.Flags

	observers map[int]Observer
	nextID    int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		observers: make(map[int]Observer),
	}
}

// Subscribe registers o and returns a function that unregisters it.
func (s *Store) Subscribe(o Observer) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = o
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Append adds msg to the end of the transcript.
func (s *Store) Append(msg models.Message) {
	s.mutate(func() bool {
		s.messages = append(s.messages, msg)
		return true
	})
}

// UpdateLastIfRole replaces the content of the last message if it has the given role, and reports whether
// it did.
func (s *Store) UpdateLastIfRole(role models.Role, content string) bool {
	return s.mutate(func() bool {
		if len(s.messages) == 0 || s.messages[len(s.messages)-1].Role != role {
			return false
		}
		s.messages[len(s.messages)-1].Content = content
		return true
	})
}

// RemoveLastIfRole pops the last message if it has the given role, and reports whether it did.
func (s *Store) RemoveLastIfRole(role models.Role) bool {
	return s.mutate(func() bool {
		if len(s.messages) == 0 || s.messages[len(s.messages)-1].Role != role {
			return false
		}
		s.messages = s.messages[:len(s.messages)-1]
		return true
	})
}

// ReplaceAll replaces the whole transcript with messages.
func (s *Store) ReplaceAll(messages []models.Message) {
	s.mutate(func() bool {
		s.messages = slices.Clone(messages)
		return true
	})
}

// SetFlags applies update to the flags. Fields update doesn't touch keep their values.
func (s *Store) SetFlags(update func(*models.Flags)) {
	s.mutate(func() bool {
		update(&s.flags)
		return true
	})
}

// SetChats replaces the cached conversation list.
func (s *Store) SetChats(chats []models.Chat) {
	s.mutate(func() bool {
		s.chats = slices.Clone(chats)
		return true
	})
}

// PrependChat puts chat at the top of the cached conversation list.
func (s *Store) PrependChat(chat models.Chat) {
	s.mutate(func() bool {
		s.chats = slices.Insert(s.chats, 0, chat)
		return true
	})
}

// RemoveChat drops the conversation with the given id from the cache. If it is the current conversation,
// the current conversation and its transcript are cleared as well.
func (s *Store) RemoveChat(id string) {
	s.mutate(func() bool {
		before := len(s.chats)
		s.chats = slices.DeleteFunc(s.chats, func(c models.Chat) bool { return c.ID == id })
		changed := len(s.chats) != before
		if s.current != nil && s.current.ID == id {
			s.current = nil
			s.messages = nil
			changed = true
		}
		return changed
	})
}

// SetCurrent records the conversation whose transcript the store holds.
func (s *Store) SetCurrent(chat models.Chat) {
	s.mutate(func() bool {
		s.current = &chat
		return true
	})
}

// Messages returns a copy of the transcript.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Len returns the number of messages in the transcript.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Last returns the last message of the transcript, if any.
func (s *Store) Last() (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return models.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Chats returns a copy of the cached conversation list.
func (s *Store) Chats() []models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chats)
}

// Current returns the conversation whose transcript the store holds.
func (s *Store) Current() (models.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Chat{}, false
	}
	return *s.current, true
}

// Flags returns the current flags.
func (s *Store) Flags() models.Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// Snapshot returns a copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Store) snapshot() Snapshot {
	snap := Snapshot{
		Messages: slices.Clone(s.messages),
		Chats:    slices.Clone(s.chats),
		Flags:    s.flags,
	}
	if s.current != nil {
		c := *s.current
		snap.Current = &c
	}
	return snap
}

// mutate runs fn under the write lock and, if fn reports a change, notifies the observers.
func (s *Store) mutate(fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	if !changed || len(s.observers) == 0 {
		s.mu.Unlock()
		return changed
	}
	snap := s.snapshot()
	observers := make([]Observer, 0, len(s.observers))
	for _, id := range slices.Sorted(maps.Keys(s.observers)) {
		observers = append(observers, s.observers[id])
	}
	s.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
	return changed
}
