package gateway

// Inbound payloads. Validation tags mirror what the storage layer
// enforces so malformed requests die at the edge with a useful error
// instead of deep inside a worker.

type SendMessagePayload struct {
	ChatID          string `json:"chatId" validate:"omitempty,uuid"`
	RecipientID     string `json:"recipientId"`
	Content         string `json:"content" validate:"required,min=1,max=5000"`
	ClientRequestID string `json:"clientRequestId"`
}

type SyncMessagesPayload struct {
	Since                string `json:"since"`
	LastMessageCreatedAt string `json:"lastMessageCreatedAt"`
}

// cursor prefers since; lastMessageCreatedAt is accepted for clients
// that reuse the handshake query field name.
func (p SyncMessagesPayload) cursor() string {
	if p.Since != "" {
		return p.Since
	}
	return p.LastMessageCreatedAt
}

type MarkAsReadPayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
}

type SearchMessagesPayload struct {
	ChatID string `json:"chatId" validate:"required,uuid"`
	Query  string `json:"query" validate:"required,min=1"`
	Limit  int    `json:"limit" validate:"omitempty,min=1,max=100"`
}
