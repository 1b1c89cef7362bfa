package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"market-chat/contract"
	"market-chat/domain"
	"market-chat/domain/event"
	"market-chat/moderation"
	"market-chat/observability"
	"market-chat/repositories"
	"market-chat/search"
)

// FanOut turns one accepted chat job into a persisted message and live
// websocket pushes. It runs as the queue consumer's handler: a non-nil
// error from Handle leaves the job pending for redelivery, so every
// step before the pushes must be idempotent.
type FanOut struct {
	messages  repositories.IMessageRepository
	presence  contract.IPresenceStore
	pusher    contract.IEventPusher
	moderator *moderation.Moderator
	index     *search.MessageIndex
	log       *slog.Logger
	stats     *observability.Manager
}

func NewFanOut(
	messages repositories.IMessageRepository,
	presence contract.IPresenceStore,
	pusher contract.IEventPusher,
	moderator *moderation.Moderator,
	index *search.MessageIndex,
	log *slog.Logger,
	stats *observability.Manager,
) *FanOut {
	return &FanOut{
		messages:  messages,
		presence:  presence,
		pusher:    pusher,
		moderator: moderator,
		index:     index,
		log:       log,
		stats:     stats,
	}
}

func (f *FanOut) Handle(ctx context.Context, job domain.ChatJob) error {
	content := job.Content
	if f.moderator != nil {
		censored, found := f.moderator.Censor(job.Content)
		if len(found) > 0 {
			f.log.Warn("Censored message content",
				"chat_id", job.ChatID,
				"sender_id", job.SenderID,
				"matches", len(found),
				"lang", moderation.DetectLanguage(job.Content))
			content = censored
		}
	}

	message, created, err := f.messages.Create(domain.Message{
		ChatID:   job.ChatID,
		SenderID: job.SenderID,
		Content:  content,
	}, job.ID)
	if err != nil {
		return fmt.Errorf("persisting message for job %s: %w", job.ID, err)
	}
	if created {
		f.stats.MessagePersisted()
		if f.index != nil {
			if err := f.index.Index(message); err != nil {
				f.log.Warn("Failed to index message", "message_id", message.ID, "err", err)
			}
		}
	}

	// Online participants get the message immediately; offline ones pick
	// it up through replay on their next connection.
	for _, participantID := range lo.Uniq(job.ParticipantIDs) {
		connectionID, err := f.presence.Get(ctx, participantID)
		if err != nil {
			f.log.Warn("Presence lookup failed", "user_id", participantID, "err", err)
			continue
		}
		if connectionID == "" {
			f.stats.DeliveryMiss()
			continue
		}

		delivered := false
		if participantID == job.SenderID {
			delivered = f.pusher.Push(connectionID, event.MessageSent, event.MessageSentPayload{
				Success:         true,
				ChatID:          job.ChatID.String(),
				ClientRequestID: clientRequestID(job),
				Message:         message,
			})
		} else {
			delivered = f.pusher.Push(connectionID, event.Message, message)
		}
		if delivered {
			f.stats.EventDelivered()
		} else {
			f.stats.DeliveryMiss()
		}
	}
	return nil
}

func clientRequestID(job domain.ChatJob) *string {
	if job.ClientRequestID == "" {
		return nil
	}
	return &job.ClientRequestID
}
