package gateway

import (
	"context"
	"log/slog"
	"time"

	"market-chat/contract"
	"market-chat/domain"
	"market-chat/domain/event"
	"market-chat/observability"
	"market-chat/repositories"
)

// Replayer streams the messages a user missed while offline, batched so
// a long absence does not land as one giant frame. The stream always
// terminates with syncComplete, even when nothing was missed, so the
// client knows it is caught up.
type Replayer struct {
	chats     repositories.IChatRepository
	messages  repositories.IMessageRepository
	pusher    contract.IEventPusher
	batchSize int
	pause     time.Duration
	log       *slog.Logger
	stats     *observability.Manager
}

func NewReplayer(
	chats repositories.IChatRepository,
	messages repositories.IMessageRepository,
	pusher contract.IEventPusher,
	batchSize int,
	pause time.Duration,
	log *slog.Logger,
	stats *observability.Manager,
) *Replayer {
	if batchSize < 1 {
		batchSize = 20
	}
	return &Replayer{
		chats:     chats,
		messages:  messages,
		pusher:    pusher,
		batchSize: batchSize,
		pause:     pause,
		log:       log,
		stats:     stats,
	}
}

// Replay pushes every message newer than since across all of the user's
// chats to the given connection, oldest first.
func (r *Replayer) Replay(ctx context.Context, connectionID, userID string, since time.Time) error {
	chatIDs, err := r.chats.ChatIDsForUser(userID)
	if err != nil {
		return err
	}

	var missed []domain.Message
	if len(chatIDs) > 0 {
		missed, err = r.messages.MessagesSince(chatIDs, since)
		if err != nil {
			return err
		}
	}

	for start := 0; start < len(missed); start += r.batchSize {
		end := min(start+r.batchSize, len(missed))
		r.pusher.Push(connectionID, event.MissedMessages, missed[start:end])

		// Breathe between batches so the client can render incrementally.
		if end < len(missed) && r.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pause):
			}
		}
	}

	r.pusher.Push(connectionID, event.SyncComplete, event.SyncCompletePayload{Total: len(missed)})
	if len(missed) > 0 {
		r.stats.MessagesReplayed(len(missed))
		r.log.Info("Replayed missed messages", "user_id", userID, "total", len(missed))
	}
	return nil
}
