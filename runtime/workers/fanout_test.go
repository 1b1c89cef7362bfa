package workers

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"market-chat/domain"
	"market-chat/domain/event"
	"market-chat/mocks"
	"market-chat/observability"
)

func newFanOutFixture(t *testing.T) (*FanOut, *mocks.MockIMessageRepository, *mocks.MockIPresenceStore, *mocks.MockIEventPusher) {
	t.Helper()
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	presence := mocks.NewMockIPresenceStore(ctrl)
	pusher := mocks.NewMockIEventPusher(ctrl)

	fanOut := NewFanOut(messages, presence, pusher, nil, nil, slog.Default(), observability.NewManager())
	return fanOut, messages, presence, pusher
}

func Test_FanOut_Acks_Sender_And_Notifies_Recipient(t *testing.T) {
	req := require.New(t)
	fanOut, messages, presence, pusher := newFanOutFixture(t)

	chatID := uuid.New()
	job := domain.ChatJob{
		ID:              "job-1",
		ChatID:          chatID,
		SenderID:        "alice",
		Content:         "is the turntable still available?",
		ParticipantIDs:  []string{"alice", "bob"},
		ClientRequestID: "req-42",
	}
	stored := domain.Message{ID: uuid.New(), ChatID: chatID, SenderID: "alice", Content: job.Content, Status: domain.StatusSent}

	messages.EXPECT().Create(gomock.Any(), "job-1").Return(stored, true, nil)
	presence.EXPECT().Get(gomock.Any(), "alice").Return("conn-alice", nil)
	presence.EXPECT().Get(gomock.Any(), "bob").Return("conn-bob", nil)

	// Then the sender gets the acknowledgement with its correlation id
	pusher.EXPECT().
		Push("conn-alice", event.MessageSent, gomock.Any()).
		DoAndReturn(func(_, _ string, payload any) bool {
			ack, ok := payload.(event.MessageSentPayload)
			req.True(ok)
			req.True(ack.Success)
			req.Equal(chatID.String(), ack.ChatID)
			req.NotNil(ack.ClientRequestID)
			req.Equal("req-42", *ack.ClientRequestID)
			req.Equal(stored.ID, ack.Message.ID)
			return true
		})

	// And the recipient gets the message itself
	pusher.EXPECT().Push("conn-bob", event.Message, stored).Return(true)

	req.NoError(fanOut.Handle(context.Background(), job))
}

func Test_FanOut_Skips_Offline_Participants(t *testing.T) {
	req := require.New(t)
	fanOut, messages, presence, pusher := newFanOutFixture(t)

	job := domain.ChatJob{
		ID:             "job-2",
		ChatID:         uuid.New(),
		SenderID:       "alice",
		Content:        "ping",
		ParticipantIDs: []string{"alice", "bob"},
	}
	stored := domain.Message{ID: uuid.New(), ChatID: job.ChatID, SenderID: "alice", Content: "ping"}

	messages.EXPECT().Create(gomock.Any(), "job-2").Return(stored, true, nil)

	// Given both participants offline
	presence.EXPECT().Get(gomock.Any(), "alice").Return("", nil)
	presence.EXPECT().Get(gomock.Any(), "bob").Return("", nil)

	// Then nothing is pushed; pusher has no expectations
	_ = pusher
	req.NoError(fanOut.Handle(context.Background(), job))
}

func Test_FanOut_Pushes_Duplicated_Participants_Once(t *testing.T) {
	req := require.New(t)
	fanOut, messages, presence, pusher := newFanOutFixture(t)

	job := domain.ChatJob{
		ID:             "job-3",
		ChatID:         uuid.New(),
		SenderID:       "alice",
		Content:        "ping",
		ParticipantIDs: []string{"bob", "bob", "alice"},
	}
	stored := domain.Message{ID: uuid.New(), ChatID: job.ChatID, SenderID: "alice", Content: "ping"}

	messages.EXPECT().Create(gomock.Any(), "job-3").Return(stored, true, nil)
	presence.EXPECT().Get(gomock.Any(), "bob").Return("conn-bob", nil).Times(1)
	presence.EXPECT().Get(gomock.Any(), "alice").Return("", nil)
	pusher.EXPECT().Push("conn-bob", event.Message, stored).Return(true).Times(1)

	req.NoError(fanOut.Handle(context.Background(), job))
}

func Test_FanOut_Propagates_Persistence_Failure(t *testing.T) {
	req := require.New(t)
	fanOut, messages, _, _ := newFanOutFixture(t)

	job := domain.ChatJob{
		ID:             "job-4",
		ChatID:         uuid.New(),
		SenderID:       "alice",
		Content:        "ping",
		ParticipantIDs: []string{"alice", "bob"},
	}

	boom := fmt.Errorf("disk full")
	messages.EXPECT().Create(gomock.Any(), "job-4").Return(domain.Message{}, false, boom)

	// Then the error reaches the queue so the job stays pending
	err := fanOut.Handle(context.Background(), job)
	req.ErrorIs(err, boom)
}
