// Package consumer feeds articles from the Kafka ingest topic into the local
// index and drops cached match results that the new article may change.
package consumer

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/kafka"
)

// Ingester is the part of the engine the consumer drives.
type Ingester interface {
	IngestArticle(key, text string, source indexer.Source) string
	Replayed(archiveID int64) bool
}

// Invalidator drops cached match results.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that ingests every
// ArticleEvent into engine. Undecodable messages are logged and committed so
// they cannot block the partition. Events for articles that start-up replay
// already restored from the archive are skipped, so each archived article is
// indexed once. cache may be nil. A failed invalidation
// is logged only: the index already holds the article and cached entries
// expire on their TTL.
func HandleMessage(engine Ingester, cache Invalidator) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.ArticleEvent](value)
		if err != nil {
			logger.Error("failed to decode article event", "error", err, "key", string(key))
			return nil
		}
		if event.Key == "" {
			logger.Error("article event without key, skipping", "kafka_key", string(key))
			return nil
		}

		if engine.Replayed(event.ArchiveID) {
			logger.Debug("article already replayed, skipping", "archive_id", event.ArchiveID, "kafka_key", string(key))
			return nil
		}

		keyHash := engine.IngestArticle(event.Key, event.Text, indexer.SourceStream)
		if event.KeyHash != "" && event.KeyHash != keyHash {
			logger.Warn("event key hash disagrees with local digest",
				"event_key_hash", event.KeyHash,
				"key_hash", keyHash,
			)
		}

		if cache != nil {
			if err := cache.Invalidate(ctx); err != nil {
				logger.Warn("match cache invalidation failed", "key_hash", keyHash, "error", err)
			}
		}
		logger.Debug("article indexed from stream",
			"key_hash", keyHash,
			"archive_id", event.ArchiveID,
		)
		return nil
	}
}
