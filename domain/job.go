package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatJob is the unit of deferred work placed on the ingestion queue.
// It lives only for the duration of the queue round-trip and carries
// the participant list resolved at enqueue time, so the fan-out worker
// never has to re-read the chat directory.
type ChatJob struct {
	ID              string    `json:"id"`
	ChatID          uuid.UUID `json:"chatId"`
	SenderID        string    `json:"senderId"`
	Content         string    `json:"content"`
	ParticipantIDs  []string  `json:"participantIds"`
	ClientRequestID string    `json:"clientRequestId,omitempty"`
	EnqueuedAt      time.Time `json:"enqueuedAt"`
}

// User is the local shadow of an identity-provider account. Only the id
// matters to the delivery pipeline; profile data stays with the provider.
type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}
