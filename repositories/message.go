//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"market-chat/domain"
	"market-chat/errors"
)

// IMessageRepository is the message store: atomic creation, status
// updates, and the chronological scans backing the replay protocol.
type IMessageRepository interface {
	// Create persists the message as SENT. When jobID has already been
	// persisted the stored message is returned with created == false,
	// which makes queue redeliveries idempotent.
	Create(message domain.Message, jobID string) (stored domain.Message, created bool, err error)
	GetByID(messageID uuid.UUID) (domain.Message, error)
	MarkRead(messageID uuid.UUID, readAt time.Time) (domain.Message, error)
	// MessagesSince returns every message of the given chats with
	// CreatedAt strictly greater than since, ascending by CreatedAt.
	MessagesSince(chatIDs []uuid.UUID, since time.Time) ([]domain.Message, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// Key layout:
//
//	msg:{chat_id}:{unix_nano_19}:{message_id} -> message record
//	msgidx:{message_id}                       -> primary key, for id lookups
//	job:{job_id}                              -> message id, idempotency marker
//
// The 19-digit zero padding keeps lexicographic and chronological order
// aligned; the message id disambiguates two messages landing on the
// same nanosecond.
func messageKey(chatID uuid.UUID, at time.Time, messageID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", chatID, at.UnixNano(), messageID))
}

func messageIndexKey(messageID uuid.UUID) []byte {
	return []byte("msgidx:" + messageID.String())
}

func jobKey(jobID string) []byte {
	return []byte("job:" + jobID)
}

func (r MessageRepository) Create(message domain.Message, jobID string) (domain.Message, bool, error) {
	if err := domain.ValidateContent(message.Content); err != nil {
		return domain.Message{}, false, err
	}

	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	message.Status = domain.StatusSent
	message.ReadAt = nil

	created := true
	stored := message
	err := r.db.Update(func(txn *badger.Txn) error {
		if jobID != "" {
			item, err := txn.Get(jobKey(jobID))
			if err == nil {
				// Redelivered job: hand back what the first attempt wrote.
				created = false
				return r.messageByIndexValue(txn, item, &stored)
			}
			if err != badger.ErrKeyNotFound {
				return err
			}
		}

		bytes, err := json.Marshal(message)
		if err != nil {
			return err
		}
		primary := messageKey(message.ChatID, message.CreatedAt, message.ID)
		if err := txn.Set(primary, bytes); err != nil {
			return err
		}
		if err := txn.Set(messageIndexKey(message.ID), primary); err != nil {
			return err
		}
		if jobID != "" {
			return txn.Set(jobKey(jobID), []byte(message.ID.String()))
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return stored, created, nil
}

func (r MessageRepository) GetByID(messageID uuid.UUID) (domain.Message, error) {
	var message domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		return r.loadByID(txn, messageID, &message)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// MarkRead transitions the message to READ and stamps readAt. The read
// and the write happen inside one transaction; concurrent readers of
// the same message resolve as last write wins.
func (r MessageRepository) MarkRead(messageID uuid.UUID, readAt time.Time) (domain.Message, error) {
	var message domain.Message
	err := r.db.Update(func(txn *badger.Txn) error {
		if err := r.loadByID(txn, messageID, &message); err != nil {
			return err
		}
		message.MarkRead(readAt)
		bytes, err := json.Marshal(message)
		if err != nil {
			return err
		}
		return txn.Set(messageKey(message.ChatID, message.CreatedAt, message.ID), bytes)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

func (r MessageRepository) MessagesSince(chatIDs []uuid.UUID, since time.Time) ([]domain.Message, error) {
	// Seek past the cursor instead of filtering: keys sort by UnixNano,
	// so starting at since+1ns yields exactly the strictly-newer set.
	cursor := int64(0)
	if !since.IsZero() && since.UnixNano() > 0 {
		cursor = since.UnixNano() + 1
	}

	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for _, chatID := range chatIDs {
			prefix := []byte(fmt.Sprintf("msg:%s:", chatID))
			seek := []byte(fmt.Sprintf("msg:%s:%019d", chatID, cursor))
			for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
				var message domain.Message
				err := it.Item().Value(func(value []byte) error {
					return json.Unmarshal(value, &message)
				})
				if err != nil {
					return err
				}
				messages = append(messages, message)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Per-chat scans come back chronological already; the final sort
	// interleaves the chats into one ascending timeline.
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (r MessageRepository) loadByID(txn *badger.Txn, messageID uuid.UUID, out *domain.Message) error {
	item, err := txn.Get(messageIndexKey(messageID))
	if err == badger.ErrKeyNotFound {
		return errors.ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	return r.messageByPrimaryKey(txn, item, out)
}

func (r MessageRepository) messageByPrimaryKey(txn *badger.Txn, indexItem *badger.Item, out *domain.Message) error {
	var primary []byte
	if err := indexItem.Value(func(value []byte) error {
		primary = append([]byte(nil), value...)
		return nil
	}); err != nil {
		return err
	}
	item, err := txn.Get(primary)
	if err == badger.ErrKeyNotFound {
		return errors.ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(value []byte) error {
		return json.Unmarshal(value, out)
	})
}

func (r MessageRepository) messageByIndexValue(txn *badger.Txn, jobItem *badger.Item, out *domain.Message) error {
	var rawID []byte
	if err := jobItem.Value(func(value []byte) error {
		rawID = append([]byte(nil), value...)
		return nil
	}); err != nil {
		return err
	}
	messageID, err := uuid.Parse(string(rawID))
	if err != nil {
		return err
	}
	return r.loadByID(txn, messageID, out)
}
