package repositories

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"market-chat/domain"
	"market-chat/errors"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_Create_Is_Idempotent_On_Job_ID(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	chatID := uuid.New()
	message := domain.Message{ChatID: chatID, SenderID: "alice", Content: "is the turntable still available?"}

	// Given a job processed once
	first, created, err := repository.Create(message, "job-1")
	req.NoError(err)
	req.True(created)
	req.Equal(domain.StatusSent, first.Status)

	// When the same job is redelivered
	second, created, err := repository.Create(message, "job-1")
	req.NoError(err)

	// Then no second message is written
	req.False(created)
	req.Equal(first.ID, second.ID)

	all, err := repository.MessagesSince([]uuid.UUID{chatID}, time.Time{})
	req.NoError(err)
	req.Len(all, 1)
}

func Test_Create_Rejects_Invalid_Content(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	_, _, err := repository.Create(domain.Message{ChatID: uuid.New(), SenderID: "alice"}, "")
	req.ErrorIs(err, errors.ErrEmptyContent)

	long := make([]byte, domain.MaxContentLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, _, err = repository.Create(domain.Message{ChatID: uuid.New(), SenderID: "alice", Content: string(long)}, "")
	req.ErrorIs(err, errors.ErrContentTooLong)
}

func Test_Create_Counts_Content_Length_In_Runes(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	// 3000 two-byte characters exceed the budget in bytes but not in
	// characters, which is the unit the edge validation promises
	_, created, err := repository.Create(domain.Message{
		ChatID: uuid.New(), SenderID: "alice", Content: strings.Repeat("é", 3000),
	}, "")
	req.NoError(err)
	req.True(created)

	_, _, err = repository.Create(domain.Message{
		ChatID: uuid.New(), SenderID: "alice", Content: strings.Repeat("é", domain.MaxContentLength+1),
	}, "")
	req.ErrorIs(err, errors.ErrContentTooLong)
}

func Test_Mark_Read_Stamps_Status(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	stored, _, err := repository.Create(domain.Message{
		ChatID: uuid.New(), SenderID: "alice", Content: "shipping tomorrow",
	}, "")
	req.NoError(err)

	readAt := time.Now().UTC()
	read, err := repository.MarkRead(stored.ID, readAt)
	req.NoError(err)
	req.Equal(domain.StatusRead, read.Status)
	req.NotNil(read.ReadAt)
	req.WithinDuration(readAt, *read.ReadAt, time.Second)

	// The stored record reflects the transition
	fetched, err := repository.GetByID(stored.ID)
	req.NoError(err)
	req.Equal(domain.StatusRead, fetched.Status)

	_, err = repository.MarkRead(uuid.New(), readAt)
	req.ErrorIs(err, errors.ErrMessageNotFound)
}

func Test_Messages_Since_Is_Strictly_Greater_And_Ascending(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default())

	chatA := uuid.New()
	chatB := uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)

	// Given messages interleaved across two chats
	for i, spec := range []struct {
		chat uuid.UUID
		at   time.Time
	}{
		{chatA, base},
		{chatB, base.Add(1 * time.Minute)},
		{chatA, base.Add(2 * time.Minute)},
		{chatB, base.Add(3 * time.Minute)},
	} {
		_, _, err := repository.Create(domain.Message{
			ChatID:    spec.chat,
			SenderID:  "alice",
			Content:   "message",
			CreatedAt: spec.at,
		}, "")
		req.NoError(err, "message %d", i)
	}

	// When syncing from the first message's timestamp
	missed, err := repository.MessagesSince([]uuid.UUID{chatA, chatB}, base)
	req.NoError(err)

	// Then the cursor message itself is excluded and order is ascending
	req.Len(missed, 3)
	for i := 1; i < len(missed); i++ {
		req.True(missed[i-1].CreatedAt.Before(missed[i].CreatedAt))
	}

	// A zero cursor replays everything
	all, err := repository.MessagesSince([]uuid.UUID{chatA, chatB}, time.Time{})
	req.NoError(err)
	req.Len(all, 4)
}
