//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"market-chat/domain"
	"market-chat/errors"
)

// IUserRepository keeps the local shadow of identity-provider accounts.
// The gateway resolves the authenticated user here after token
// verification; the chat directory checks participant existence
// against the same records.
type IUserRepository interface {
	Save(user domain.User) error
	GetByID(userID string) (domain.User, error)
}

type UserRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewUserRepository(db *badger.DB, log *slog.Logger) UserRepository {
	return UserRepository{db: db, log: log}
}

func userKey(userID string) []byte {
	return []byte("user:" + userID)
}

func (r UserRepository) Save(user domain.User) error {
	bytes, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(user.ID), bytes)
	})
}

func (r UserRepository) GetByID(userID string) (domain.User, error) {
	var user domain.User
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(userID))
		if err == badger.ErrKeyNotFound {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &user)
		})
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}
