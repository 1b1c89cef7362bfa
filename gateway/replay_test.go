package gateway

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"market-chat/domain"
	"market-chat/domain/event"
	"market-chat/mocks"
	"market-chat/observability"
)

func newReplayFixture(t *testing.T, batchSize int) (*Replayer, *mocks.MockIChatRepository, *mocks.MockIMessageRepository, *mocks.MockIEventPusher) {
	t.Helper()
	ctrl := gomock.NewController(t)
	chats := mocks.NewMockIChatRepository(ctrl)
	messages := mocks.NewMockIMessageRepository(ctrl)
	pusher := mocks.NewMockIEventPusher(ctrl)

	replayer := NewReplayer(chats, messages, pusher, batchSize, 0, slog.Default(), observability.NewManager())
	return replayer, chats, messages, pusher
}

func Test_Replay_Batches_Missed_Messages(t *testing.T) {
	req := require.New(t)
	replayer, chats, messages, pusher := newReplayFixture(t, 20)

	chatID := uuid.New()
	since := time.Now().UTC().Add(-time.Hour)

	// Given 45 missed messages
	missed := make([]domain.Message, 45)
	for i := range missed {
		missed[i] = domain.Message{
			ID:        uuid.New(),
			ChatID:    chatID,
			SenderID:  "bob",
			Content:   "missed",
			CreatedAt: since.Add(time.Duration(i+1) * time.Second),
		}
	}

	chats.EXPECT().ChatIDsForUser("alice").Return([]uuid.UUID{chatID}, nil)
	messages.EXPECT().MessagesSince([]uuid.UUID{chatID}, since).Return(missed, nil)

	// Then the stream arrives as 20 + 20 + 5
	var batchSizes []int
	pusher.EXPECT().
		Push("conn-1", event.MissedMessages, gomock.Any()).
		DoAndReturn(func(_, _ string, payload any) bool {
			batch, ok := payload.([]domain.Message)
			req.True(ok)
			batchSizes = append(batchSizes, len(batch))
			return true
		}).
		Times(3)
	pusher.EXPECT().
		Push("conn-1", event.SyncComplete, event.SyncCompletePayload{Total: 45}).
		Return(true)

	req.NoError(replayer.Replay(context.Background(), "conn-1", "alice", since))
	req.Equal([]int{20, 20, 5}, batchSizes)
}

func Test_Replay_Terminates_With_Zero_Total(t *testing.T) {
	req := require.New(t)
	replayer, chats, _, pusher := newReplayFixture(t, 20)

	// Given a user with no chats at all
	chats.EXPECT().ChatIDsForUser("alice").Return(nil, nil)

	// Then syncComplete still fires so the client knows it is caught up
	pusher.EXPECT().
		Push("conn-1", event.SyncComplete, event.SyncCompletePayload{Total: 0}).
		Return(true)

	req.NoError(replayer.Replay(context.Background(), "conn-1", "alice", time.Time{}))
}

func Test_Replay_Preserves_Order_Within_Batches(t *testing.T) {
	req := require.New(t)
	replayer, chats, messages, pusher := newReplayFixture(t, 2)

	chatID := uuid.New()
	base := time.Now().UTC()
	missed := []domain.Message{
		{ID: uuid.New(), ChatID: chatID, CreatedAt: base.Add(1 * time.Second)},
		{ID: uuid.New(), ChatID: chatID, CreatedAt: base.Add(2 * time.Second)},
		{ID: uuid.New(), ChatID: chatID, CreatedAt: base.Add(3 * time.Second)},
	}

	chats.EXPECT().ChatIDsForUser("alice").Return([]uuid.UUID{chatID}, nil)
	messages.EXPECT().MessagesSince([]uuid.UUID{chatID}, gomock.Any()).Return(missed, nil)

	var replayed []uuid.UUID
	pusher.EXPECT().
		Push("conn-1", event.MissedMessages, gomock.Any()).
		DoAndReturn(func(_, _ string, payload any) bool {
			for _, message := range payload.([]domain.Message) {
				replayed = append(replayed, message.ID)
			}
			return true
		}).
		Times(2)
	pusher.EXPECT().
		Push("conn-1", event.SyncComplete, event.SyncCompletePayload{Total: 3}).
		Return(true)

	req.NoError(replayer.Replay(context.Background(), "conn-1", "alice", time.Time{}))
	req.Equal([]uuid.UUID{missed[0].ID, missed[1].ID, missed[2].ID}, replayed)
}
