// Package domain contains core concepts of the marketplace chat system.
// This file defines Message records and the delivery status machine.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"market-chat/errors"
)

// MessageStatus tracks how far a message has travelled.
// SENDING only exists on the client side and is never persisted:
// a message enters storage as SENT.
type MessageStatus string

const (
	StatusSending   MessageStatus = "SENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// MaxContentLength bounds the size of a single message body, counted
// in runes so multibyte text gets the same budget the gateway
// validator grants it.
const MaxContentLength = 5000

// Message is one persisted chat message. CreatedAt is immutable and
// serves as the ordering and replay cursor. ReadAt is set only on the
// transition to READ.
type Message struct {
	ID        uuid.UUID     `json:"id"`
	ChatID    uuid.UUID     `json:"chatId"`
	SenderID  string        `json:"senderId"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	ReadAt    *time.Time    `json:"readAt,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ValidateContent rejects empty and oversized message bodies.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return errors.ErrContentTooLong
	}
	return nil
}

// MarkRead flips the status to READ and stamps the read time.
// Re-reading an already read message just moves the timestamp
// forward, last write wins.
func (m *Message) MarkRead(at time.Time) {
	m.Status = StatusRead
	m.ReadAt = &at
}
