package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"market-chat/domain"
)

func Test_Decode_Job_Roundtrip(t *testing.T) {
	req := require.New(t)

	job := domain.ChatJob{
		ID:             "job-1",
		ChatID:         uuid.New(),
		SenderID:       "alice",
		Content:        "hello",
		ParticipantIDs: []string{"alice", "bob"},
	}
	payload, err := json.Marshal(job)
	req.NoError(err)

	decoded, err := decodeJob(redis.XMessage{
		ID:     "1-0",
		Values: map[string]any{"job": string(payload)},
	})
	req.NoError(err)
	req.Equal(job, decoded)
}

func Test_Decode_Job_Rejects_Malformed_Entries(t *testing.T) {
	req := require.New(t)

	// No job field at all
	_, err := decodeJob(redis.XMessage{ID: "1-0", Values: map[string]any{}})
	req.Error(err)

	// Job field of the wrong type
	_, err = decodeJob(redis.XMessage{ID: "1-1", Values: map[string]any{"job": 42}})
	req.Error(err)

	// Job field that is not JSON
	_, err = decodeJob(redis.XMessage{ID: "1-2", Values: map[string]any{"job": "{broken"}})
	req.Error(err)
}
