// Package domain contains core concepts of the marketplace chat system.
// This file defines Chat and Participant entities and their invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"market-chat/errors"
)

// Chat groups a set of participants exchanging messages.
// A direct chat has exactly two distinct participants, a group chat
// has at least three and carries a name.
type Chat struct {
	ID           uuid.UUID     `json:"id"`
	IsGroup      bool          `json:"isGroup"`
	Name         string        `json:"name,omitempty"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Participant ties a user to a chat. It is a back-reference only,
// the user record itself belongs to the identity collaborator.
type Participant struct {
	ChatID uuid.UUID `json:"chatId"`
	UserID string    `json:"userId"`
}

// NewDirectChat builds a two-party chat. The participant pair is
// normalized so (a, b) and (b, a) describe the same chat.
func NewDirectChat(userA, userB string) (Chat, error) {
	ids := NormalizeParticipants([]string{userA, userB})
	if len(ids) != 2 {
		return Chat{}, errors.ErrParticipantCount
	}
	chat := Chat{
		ID:        uuid.New(),
		IsGroup:   false,
		CreatedAt: time.Now().UTC(),
	}
	chat.UpdatedAt = chat.CreatedAt
	chat.Participants = toParticipants(chat.ID, ids)
	return chat, nil
}

// NewGroupChat builds a named chat with at least three participants.
func NewGroupChat(name string, userIDs []string) (Chat, error) {
	if name == "" {
		return Chat{}, errors.ErrGroupNameRequired
	}
	ids := NormalizeParticipants(userIDs)
	if len(ids) < 3 {
		return Chat{}, errors.ErrParticipantCount
	}
	chat := Chat{
		ID:        uuid.New(),
		IsGroup:   true,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	chat.UpdatedAt = chat.CreatedAt
	chat.Participants = toParticipants(chat.ID, ids)
	return chat, nil
}

// HasParticipant reports whether the user currently belongs to the chat.
func (c Chat) HasParticipant(userID string) bool {
	return lo.ContainsBy(c.Participants, func(p Participant) bool {
		return p.UserID == userID
	})
}

// ParticipantIDs returns the user ids of every participant.
func (c Chat) ParticipantIDs() []string {
	return lo.Map(c.Participants, func(p Participant, _ int) string {
		return p.UserID
	})
}

// Validate checks the membership invariants.
func (c Chat) Validate() error {
	unique := NormalizeParticipants(c.ParticipantIDs())
	if len(unique) != len(c.Participants) {
		return errors.ErrParticipantCount
	}
	if c.IsGroup {
		if c.Name == "" {
			return errors.ErrGroupNameRequired
		}
		if len(unique) < 3 {
			return errors.ErrParticipantCount
		}
		return nil
	}
	if len(unique) != 2 {
		return errors.ErrParticipantCount
	}
	return nil
}

// NormalizeParticipants drops empty and duplicate ids and sorts the rest,
// so a participant set has a single canonical form.
func NormalizeParticipants(userIDs []string) []string {
	ids := lo.Uniq(lo.Filter(userIDs, func(id string, _ int) bool {
		return id != ""
	}))
	slices.Sort(ids)
	return ids
}

func toParticipants(chatID uuid.UUID, userIDs []string) []Participant {
	return lo.Map(userIDs, func(id string, _ int) Participant {
		return Participant{ChatID: chatID, UserID: id}
	})
}
