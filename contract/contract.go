//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"market-chat/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself: the supervisor owns restarts
// and panic recovery. Keep implementations small and focused.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IPresenceStore maps a user to their currently reachable connection.
// Last write wins: a user has at most one live entry at any time.
// Save and Remove must be atomic per user key since gateway instances
// and fan-out workers touch the store concurrently.
type IPresenceStore interface {
	Save(ctx context.Context, userID, connectionID string) error
	// Get returns the live connection id, or "" when the user is offline.
	Get(ctx context.Context, userID string) (string, error)
	// Remove deletes the entry only if it still points at connectionID,
	// so a superseded socket's late disconnect cannot evict its successor.
	Remove(ctx context.Context, userID, connectionID string) error
	// Refresh extends the entry's TTL without changing its value.
	Refresh(ctx context.Context, userID, connectionID string) error
}

// IIngestionQueue accepts deliver-this-message jobs. Enqueue returns
// once the job is durably accepted, not once it is processed.
type IIngestionQueue interface {
	Enqueue(ctx context.Context, job domain.ChatJob) error
}

// IEventPusher emits one named event to one connection. It reports
// false when the connection is unknown to this gateway instance or
// its send buffer is saturated.
type IEventPusher interface {
	Push(connectionID, event string, payload any) bool
}

// ITokenVerifier is the identity collaborator: it turns a bearer
// credential into a user id or fails.
type ITokenVerifier interface {
	Verify(token string) (string, error)
}
