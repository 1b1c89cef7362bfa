package gateway

import (
	"encoding/json"
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

type gatewayFixture struct {
	gateway  *Gateway
	chats    *mocks.MockIChatRepository
	messages *mocks.MockIMessageRepository
	presence *mocks.MockIPresenceStore
	queue    *mocks.MockIIngestionQueue
	registry *Registry
}

func newGatewayFixture(t *testing.T) gatewayFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := slog.Default()
	stats := observability.NewManager()

	verifier := mocks.NewMockITokenVerifier(ctrl)
	users := mocks.NewMockIUserRepository(ctrl)
	chats := mocks.NewMockIChatRepository(ctrl)
	messages := mocks.NewMockIMessageRepository(ctrl)
	presence := mocks.NewMockIPresenceStore(ctrl)
	queue := mocks.NewMockIIngestionQueue(ctrl)
	registry := NewRegistry(log)
	replayer := NewReplayer(chats, messages, registry, 20, 0, log, stats)

	return gatewayFixture{
		gateway: NewGateway(
			verifier, users, chats, messages, presence, queue,
			registry, replayer, nil, nil, log, stats,
		),
		chats:    chats,
		messages: messages,
		presence: presence,
		queue:    queue,
		registry: registry,
	}
}

func frameOf(t *testing.T, eventName string, payload any) Frame {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return Frame{Event: eventName, Data: data}
}

func Test_Send_Message_Requires_A_Target(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	conn := newConn("conn-1", "alice", nil, slog.Default())

	// Given a send with neither chatId nor recipientId
	f.gateway.dispatch(conn, frameOf(t, event.SendMessage, SendMessagePayload{
		Content:         "hello",
		ClientRequestID: "req-1",
	}))

	// Then an error frame is queued and nothing reaches the queue
	frame := nextFrame(t, conn)
	req.Equal(event.Error, frame.Event)

	var payload event.ErrorPayload
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.NotNil(payload.ClientRequestID)
	req.Equal("req-1", *payload.ClientRequestID)
	req.Nil(payload.ChatID)
}

func Test_Send_Message_Validation_Error_Echoes_Request_ID(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	conn := newConn("conn-1", "alice", nil, slog.Default())

	// Given a payload that decodes but fails validation (empty content)
	f.gateway.dispatch(conn, frameOf(t, event.SendMessage, SendMessagePayload{
		ClientRequestID: "req-9",
	}))

	// Then the client can still correlate the failure to its request
	frame := nextFrame(t, conn)
	req.Equal(event.Error, frame.Event)

	var payload event.ErrorPayload
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.NotNil(payload.ClientRequestID)
	req.Equal("req-9", *payload.ClientRequestID)
}

func Test_Send_Message_Rejects_Non_Participant(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	conn := newConn("conn-1", "mallory", nil, slog.Default())

	chat, err := domain.NewDirectChat("alice", "bob")
	req.NoError(err)
	f.chats.EXPECT().GetByID(chat.ID).Return(chat, nil)

	f.gateway.dispatch(conn, frameOf(t, event.SendMessage, SendMessagePayload{
		ChatID:  chat.ID.String(),
		Content: "let me in",
	}))

	frame := nextFrame(t, conn)
	req.Equal(event.Error, frame.Event)
}

func Test_Send_Message_Enqueues_Job_With_Participants(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	conn := newConn("conn-1", "alice", nil, slog.Default())

	chat, err := domain.NewDirectChat("alice", "bob")
	req.NoError(err)
	f.chats.EXPECT().GetByID(chat.ID).Return(chat, nil)

	var job domain.ChatJob
	f.queue.EXPECT().
		Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, j domain.ChatJob) error {
			job = j
			return nil
		})

	f.gateway.dispatch(conn, frameOf(t, event.SendMessage, SendMessagePayload{
		ChatID:          chat.ID.String(),
		Content:         "is the turntable still available?",
		ClientRequestID: "req-7",
	}))

	req.Equal(chat.ID, job.ChatID)
	req.Equal("alice", job.SenderID)
	req.Equal("req-7", job.ClientRequestID)
	req.ElementsMatch([]string{"alice", "bob"}, job.ParticipantIDs)
}

func Test_Send_Message_Resolves_Direct_Chat_On_First_Contact(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	conn := newConn("conn-1", "alice", nil, slog.Default())

	chat, err := domain.NewDirectChat("alice", "bob")
	req.NoError(err)
	f.chats.EXPECT().FindOrCreateDirect("alice", "bob").Return(chat, nil)
	f.queue.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(nil)

	f.gateway.dispatch(conn, frameOf(t, event.SendMessage, SendMessagePayload{
		RecipientID: "bob",
		Content:     "first contact",
	}))
}

func Test_Mark_As_Read_Acks_The_Reader(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	conn := newConn("conn-1", "bob", nil, slog.Default())

	readAt := time.Now().UTC()
	message := domain.Message{
		ID:       uuid.New(),
		ChatID:   uuid.New(),
		SenderID: "alice",
		Status:   domain.StatusRead,
		ReadAt:   &readAt,
	}
	f.messages.EXPECT().MarkRead(message.ID, gomock.Any()).Return(message, nil)

	// The sender is offline; the receipt is simply dropped
	f.presence.EXPECT().Get(gomock.Any(), "alice").Return("", nil)

	f.gateway.dispatch(conn, frameOf(t, event.MarkAsRead, MarkAsReadPayload{
		MessageID: message.ID.String(),
	}))

	frame := nextFrame(t, conn)
	req.Equal(event.MessageMarkedAsRead, frame.Event)

	var payload event.MessageMarkedAsReadPayload
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.True(payload.Success)
	req.Equal(message.ID.String(), payload.MessageID)
}

func Test_Mark_As_Read_Notifies_A_Live_Sender(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	reader := newConn("conn-reader", "bob", nil, slog.Default())
	sender := newConn("conn-sender", "alice", nil, slog.Default())
	f.registry.Add(sender)

	readAt := time.Now().UTC()
	message := domain.Message{
		ID:       uuid.New(),
		ChatID:   uuid.New(),
		SenderID: "alice",
		Status:   domain.StatusRead,
		ReadAt:   &readAt,
	}
	f.messages.EXPECT().MarkRead(message.ID, gomock.Any()).Return(message, nil)
	f.presence.EXPECT().Get(gomock.Any(), "alice").Return("conn-sender", nil)

	f.gateway.dispatch(reader, frameOf(t, event.MarkAsRead, MarkAsReadPayload{
		MessageID: message.ID.String(),
	}))

	// Then the sender receives the read receipt
	frame := nextFrame(t, sender)
	req.Equal(event.MessageRead, frame.Event)

	var receipt event.MessageReadPayload
	req.NoError(json.Unmarshal(frame.Data, &receipt))
	req.Equal(message.ID.String(), receipt.MessageID)
	req.Equal("bob", receipt.ReadBy)

	// And the reader still gets its acknowledgement
	ack := nextFrame(t, reader)
	req.Equal(event.MessageMarkedAsRead, ack.Event)
}

func Test_Sync_Messages_Honours_The_Since_Cursor(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	conn := newConn("conn-1", "alice", nil, slog.Default())

	chatID := uuid.New()
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.chats.EXPECT().ChatIDsForUser("alice").Return([]uuid.UUID{chatID}, nil)

	var cursor time.Time
	f.messages.EXPECT().
		MessagesSince([]uuid.UUID{chatID}, gomock.Any()).
		DoAndReturn(func(_ []uuid.UUID, s time.Time) ([]domain.Message, error) {
			cursor = s
			return nil, nil
		})

	f.gateway.dispatch(conn, frameOf(t, event.SyncMessages, SyncMessagesPayload{
		Since: since.Format(time.RFC3339),
	}))

	// The cursor reaches the store instead of degrading to a full replay
	req.True(since.Equal(cursor))
}

func Test_Sync_Messages_Accepts_The_Handshake_Field_Name(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	conn := newConn("conn-1", "alice", nil, slog.Default())

	chatID := uuid.New()
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.chats.EXPECT().ChatIDsForUser("alice").Return([]uuid.UUID{chatID}, nil)

	var cursor time.Time
	f.messages.EXPECT().
		MessagesSince([]uuid.UUID{chatID}, gomock.Any()).
		DoAndReturn(func(_ []uuid.UUID, s time.Time) ([]domain.Message, error) {
			cursor = s
			return nil, nil
		})

	f.gateway.dispatch(conn, frameOf(t, event.SyncMessages, SyncMessagesPayload{
		LastMessageCreatedAt: since.Format(time.RFC3339),
	}))

	req.True(since.Equal(cursor))
}

func Test_Unknown_Event_Reports_An_Error(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	conn := newConn("conn-1", "alice", nil, slog.Default())

	f.gateway.dispatch(conn, Frame{Event: "teleport"})

	frame := nextFrame(t, conn)
	req.Equal(event.Error, frame.Event)
}

func Test_Parse_Since_Tolerates_Garbage(t *testing.T) {
	req := require.New(t)

	req.True(parseSince("").IsZero())
	req.True(parseSince("not-a-date").IsZero())
	req.True(parseSince("-42").IsZero())

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	req.Equal(at, parseSince(at.Format(time.RFC3339)).UTC())
	req.Equal(at, parseSince("1788091200000").UTC())
}
