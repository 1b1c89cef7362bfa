// Package search maintains a bluge full-text index over persisted
// messages. Indexing is best effort: a failed index write never fails
// the delivery job, it only degrades search results.
package search

import (
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"

	"market-chat/domain"
)

type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

// OpenWriter opens (or creates) the index at the given path.
func OpenWriter(path string) (*bluge.Writer, error) {
	return bluge.OpenWriter(bluge.DefaultConfig(path))
}

// Index upserts one message document. The chat id is a keyword field so
// searches stay scoped to a single chat.
func (s *MessageIndex) Index(message domain.Message) error {
	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewTextField("content", message.Content).StoreValue()).
		AddField(bluge.NewKeywordField("chat", message.ChatID.String())).
		AddField(bluge.NewKeywordField("sender", message.SenderID)).
		AddField(bluge.NewDateTimeField("created_at", message.CreatedAt))
	return s.writer.Update(doc.ID(), doc)
}

// Search returns the ids of the best-matching messages within one chat.
func (s *MessageIndex) Search(ctx context.Context, chatID uuid.UUID, text string, limit int) ([]uuid.UUID, error) {
	reader, err := s.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			s.log.Warn("Failed to close index reader", "err", err)
		}
	}()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(text).SetField("content")).
		AddMust(bluge.NewTermQuery(chatID.String()).SetField("chat"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				if id, parseErr := uuid.Parse(string(value)); parseErr == nil {
					ids = append(ids, id)
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}
