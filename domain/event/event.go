// Package event defines the wire vocabulary exchanged with connected
// clients. Both the gateway and the fan-out worker speak this dialect,
// so it lives in the domain rather than behind either of them.
package event

import (
	"time"

	"market-chat/domain"
)

// Client -> server events.
const (
	SendMessage    = "sendMessage"
	SyncMessages   = "syncMessages"
	MarkAsRead     = "markAsRead"
	SearchMessages = "searchMessages"
)

// Server -> client events.
const (
	Error               = "error"
	MessageSent         = "messageSent"
	Message             = "message"
	MissedMessages      = "missedMessages"
	SyncComplete        = "syncComplete"
	MessageRead         = "messageRead"
	MessageMarkedAsRead = "messageMarkedAsRead"
	SearchResults       = "searchResults"
)

// ErrorPayload is reported on the offending connection. The correlation
// id and chat id echo the request so the client can reconcile; both may
// be null when the failure happened before they were known.
type ErrorPayload struct {
	Error           string  `json:"error"`
	ClientRequestID *string `json:"clientRequestId"`
	ChatID          *string `json:"chatId"`
}

// MessageSentPayload acknowledges the producer once its message has been
// persisted. It is a confirmation, not a delivery notice.
type MessageSentPayload struct {
	Success         bool           `json:"success"`
	ChatID          string         `json:"chatId"`
	ClientRequestID *string        `json:"clientRequestId"`
	Message         domain.Message `json:"message"`
}

// SyncCompletePayload terminates a replay stream, zero or not.
type SyncCompletePayload struct {
	Total int `json:"total"`
}

// MessageReadPayload notifies the original sender of a read receipt.
type MessageReadPayload struct {
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
	ReadBy    string    `json:"readBy"`
}

// MessageMarkedAsReadPayload acknowledges the reader locally.
type MessageMarkedAsReadPayload struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

// SearchResultsPayload carries full-text search hits back to the requester.
type SearchResultsPayload struct {
	ChatID   string           `json:"chatId"`
	Query    string           `json:"query"`
	Messages []domain.Message `json:"messages"`
}
