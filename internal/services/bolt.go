package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the handlers.Store interface using a BoltDB backend for persistent storage of chats
// and messages. Chats live in a single bucket keyed by ID; every chat gets its own message bucket whose
// keys are sequence numbers, so a ForEach walks the transcript in insertion order.
type BoltDB struct {
	db *bolt.DB

	now func() time.Time
}

var chatsBucket = []byte("chats")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chatsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create chats bucket: %w", err)
	}

	return BoltDB{db: db, now: time.Now}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(chatID string) []byte {
	return []byte(fmt.Sprintf("chat-%s", chatID))
}

func itob(v uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

// Chats retrieves all stored chats, most recently updated first.
func (b BoltDB) Chats(context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chatsBucket).ForEach(func(_, v []byte) error {
			var chat models.Chat
			if err := json.Unmarshal(v, &chat); err != nil {
				return fmt.Errorf("failed to unmarshal chat: %w", err)
			}
			chats = append(chats, chat)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(chats, func(a, b models.Chat) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return chats, nil
}

// Chat retrieves a single chat. It returns models.ErrChatNotFound if there is none with the given ID.
func (b BoltDB) Chat(_ context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(chatsBucket).Get([]byte(chatID))
		if v == nil {
			return models.ErrChatNotFound
		}
		if err := json.Unmarshal(v, &chat); err != nil {
			return fmt.Errorf("failed to unmarshal chat: %w", err)
		}
		return nil
	})
	return chat, err
}

// AddChat stores a new chat record and creates its message bucket. The chat gets a fresh ID and
// timestamps, and the stored record is returned.
func (b BoltDB) AddChat(_ context.Context, chat models.Chat) (models.Chat, error) {
	chat.ID = uuid.New().String()
	chat.CreatedAt = b.now().UTC()
	chat.UpdatedAt = chat.CreatedAt

	err := b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(messageBucketName(chat.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(chat)
		if err != nil {
			return fmt.Errorf("failed to marshal chat: %w", err)
		}
		return tx.Bucket(chatsBucket).Put([]byte(chat.ID), v)
	})
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// UpdateChat modifies the title and description of an existing chat and bumps its update time. It
// returns models.ErrChatNotFound if the chat doesn't exist.
func (b BoltDB) UpdateChat(_ context.Context, chat models.Chat) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return b.touch(tx, chat.ID, func(stored *models.Chat) {
			stored.Title = chat.Title
			stored.Description = chat.Description
		})
	})
}

// DeleteChat removes a chat and all of its messages. Deleting a missing chat returns
// models.ErrChatNotFound.
func (b BoltDB) DeleteChat(_ context.Context, chatID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		chats := tx.Bucket(chatsBucket)
		if chats.Get([]byte(chatID)) == nil {
			return models.ErrChatNotFound
		}
		if err := chats.Delete([]byte(chatID)); err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		err := tx.DeleteBucket(messageBucketName(chatID))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete message bucket: %w", err)
		}
		return nil
	})
}

// Messages retrieves all messages associated with the specified chat ID in the order they were added.
func (b BoltDB) Messages(_ context.Context, chatID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(messageBucketName(chatID))
		if bucket == nil {
			return models.ErrChatNotFound
		}

		return bucket.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to the chat's transcript and bumps the chat's update time.
func (b BoltDB) AddMessage(_ context.Context, chatID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(messageBucketName(chatID))
		if bucket == nil {
			return models.ErrChatNotFound
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := bucket.Put(itob(seq), v); err != nil {
			return err
		}

		return b.touch(tx, chatID, func(*models.Chat) {})
	})
}

func (b BoltDB) touch(tx *bolt.Tx, chatID string, update func(*models.Chat)) error {
	chats := tx.Bucket(chatsBucket)
	v := chats.Get([]byte(chatID))
	if v == nil {
		return models.ErrChatNotFound
	}

	var chat models.Chat
	if err := json.Unmarshal(v, &chat); err != nil {
		return fmt.Errorf("failed to unmarshal chat: %w", err)
	}
	update(&chat)
	chat.UpdatedAt = b.now().UTC()

	v, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}
	return chats.Put([]byte(chatID), v)
}
