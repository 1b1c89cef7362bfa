package queue

import (
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
)

// DeadLetterStream collects jobs that exhausted their retry budget.
// They stay inspectable there instead of being silently discarded.
const DeadLetterStream = "chatjobs:dead"

// Partition maps a chat onto one of n streams. All jobs of one chat
// land on the same stream and each stream has a single consumer, which
// preserves enqueue order within a chat while chats spread across
// partitions run in parallel.
func Partition(chatID uuid.UUID, n int) int {
	h := fnv.New32a()
	h.Write(chatID[:])
	return int(h.Sum32() % uint32(n))
}

// StreamName returns the redis stream key for a partition.
func StreamName(partition int) string {
	return fmt.Sprintf("chatjobs:%d", partition)
}
