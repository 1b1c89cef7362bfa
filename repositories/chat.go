//go:generate go run go.uber.org/mock/mockgen -source=chat.go -destination=../mocks/mock_chat_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"market-chat/domain"
	"market-chat/errors"
)

// IChatRepository is the chat directory: membership lookups and
// create-or-reuse of direct chats.
type IChatRepository interface {
	Create(chat domain.Chat) (domain.Chat, error)
	GetByID(chatID uuid.UUID) (domain.Chat, error)
	FindOrCreateDirect(userA, userB string) (domain.Chat, error)
	ChatIDsForUser(userID string) ([]uuid.UUID, error)
}

type ChatRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChatRepository(db *badger.DB, log *slog.Logger) ChatRepository {
	return ChatRepository{db: db, log: log}
}

// Key layout:
//
//	chat:{chat_id}            -> chat record (participants embedded)
//	direct:{user_a}:{user_b}  -> chat id, participants sorted, direct chats only
//	uchat:{user_id}:{chat_id} -> empty, membership index for replay
func chatKey(chatID uuid.UUID) []byte {
	return []byte("chat:" + chatID.String())
}

func directKey(userIDs []string) []byte {
	return []byte("direct:" + strings.Join(userIDs, ":"))
}

func userChatKey(userID string, chatID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("uchat:%s:%s", userID, chatID))
}

// Create persists a chat after checking its membership invariants and
// that every participant references an existing user. Creating a direct
// chat whose pair already exists returns the existing chat instead, so
// the direct index stays unique.
func (r ChatRepository) Create(chat domain.Chat) (domain.Chat, error) {
	if err := chat.Validate(); err != nil {
		return domain.Chat{}, err
	}

	ids := domain.NormalizeParticipants(chat.ParticipantIDs())
	result := chat
	err := r.db.Update(func(txn *badger.Txn) error {
		for _, userID := range ids {
			if _, err := txn.Get(userKey(userID)); err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: %s", errors.ErrUserNotFound, userID)
			} else if err != nil {
				return err
			}
		}

		if !chat.IsGroup {
			existing, err := r.directChatInTxn(txn, ids)
			if err == nil {
				result = existing
				return nil
			}
			if err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(directKey(ids), []byte(chat.ID.String())); err != nil {
				return err
			}
		}

		bytes, err := json.Marshal(chat)
		if err != nil {
			return err
		}
		if err := txn.Set(chatKey(chat.ID), bytes); err != nil {
			return err
		}
		for _, userID := range ids {
			if err := txn.Set(userChatKey(userID, chat.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return result, nil
}

func (r ChatRepository) GetByID(chatID uuid.UUID) (domain.Chat, error) {
	var chat domain.Chat
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chatKey(chatID))
		if err == badger.ErrKeyNotFound {
			return errors.ErrChatNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &chat)
		})
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

// FindOrCreateDirect resolves the direct chat between two users,
// creating it on first contact. The pair is normalized so the argument
// order never produces a second chat.
func (r ChatRepository) FindOrCreateDirect(userA, userB string) (domain.Chat, error) {
	ids := domain.NormalizeParticipants([]string{userA, userB})
	if len(ids) != 2 {
		return domain.Chat{}, errors.ErrParticipantCount
	}

	existing, err := r.lookupDirect(ids)
	if err == nil {
		return existing, nil
	}
	if err != badger.ErrKeyNotFound {
		return domain.Chat{}, err
	}

	chat, err := domain.NewDirectChat(userA, userB)
	if err != nil {
		return domain.Chat{}, err
	}
	// Create re-checks the direct index inside its transaction. When two
	// first contacts race, badger aborts one of the transactions instead
	// of letting both commit; the loser re-reads the winner's chat.
	created, err := r.Create(chat)
	if err == badger.ErrConflict {
		return r.lookupDirect(ids)
	}
	if err != nil {
		return domain.Chat{}, err
	}
	return created, nil
}

func (r ChatRepository) lookupDirect(ids []string) (domain.Chat, error) {
	var chat domain.Chat
	err := r.db.View(func(txn *badger.Txn) error {
		found, err := r.directChatInTxn(txn, ids)
		if err != nil {
			return err
		}
		chat = found
		return nil
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

// ChatIDsForUser lists every chat the user participates in, via a
// prefix scan over the membership index. Values are never read, only keys.
func (r ChatRepository) ChatIDsForUser(userID string) ([]uuid.UUID, error) {
	var chatIDs []uuid.UUID
	prefix := []byte("uchat:" + userID + ":")
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := string(it.Item().Key()[len(prefix):])
			chatID, err := uuid.Parse(raw)
			if err != nil {
				r.log.Warn("Skipping unparsable membership key", "key", string(it.Item().Key()))
				continue
			}
			chatIDs = append(chatIDs, chatID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chatIDs, nil
}

func (r ChatRepository) directChatInTxn(txn *badger.Txn, ids []string) (domain.Chat, error) {
	item, err := txn.Get(directKey(ids))
	if err != nil {
		return domain.Chat{}, err
	}
	var chatID uuid.UUID
	if err := item.Value(func(value []byte) error {
		parsed, err := uuid.Parse(string(value))
		chatID = parsed
		return err
	}); err != nil {
		return domain.Chat{}, err
	}

	chatItem, err := txn.Get(chatKey(chatID))
	if err != nil {
		return domain.Chat{}, err
	}
	var chat domain.Chat
	if err := chatItem.Value(func(value []byte) error {
		return json.Unmarshal(value, &chat)
	}); err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}
