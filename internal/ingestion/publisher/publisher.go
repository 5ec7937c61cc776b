// Package publisher archives articles in PostgreSQL and publishes ingest
// events to Kafka for every matcher to index.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/hasher"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/articlematch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/resilience"
)

// Archive stores the canonical copy of an article.
type Archive interface {
	Save(ctx context.Context, a archive.Article) (int64, error)
}

// EventPublisher writes events to the ingest stream.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher coordinates archiving and event production. Either side may be
// nil, but not both.
type Publisher struct {
	archive  Archive
	producer EventPublisher
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Publisher. breaker guards the producer and may be nil.
func New(arc Archive, producer EventPublisher, breaker *resilience.CircuitBreaker) *Publisher {
	return &Publisher{
		archive:  arc,
		producer: producer,
		breaker:  breaker,
		retry:    resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond},
		logger:   slog.Default().With("component", "publisher"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest archives req and then publishes it. An article that was archived
// but could not be published is still accepted: matchers pick it up on
// their next replay. If neither side accepted it, an error is returned.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.ArticleRequest) (*ingestion.ArticleResponse, error) {
	event := ingestion.ArticleEvent{
		Key:        req.Key,
		KeyHash:    hasher.DigestString(req.Key),
		Text:       req.Text,
		IngestedAt: p.now(),
	}
	resp := &ingestion.ArticleResponse{Key: event.Key, KeyHash: event.KeyHash}

	if p.archive != nil {
		// One ID for every attempt, so a retry after a lost reply finds the
		// row the earlier attempt wrote.
		ingestID := uuid.NewString()
		err := resilience.Retry(ctx, "archive-save", p.retry, func() error {
			id, err := p.archive.Save(ctx, archive.Article{
				IngestID:   ingestID,
				KeyHash:    event.KeyHash,
				Key:        event.Key,
				Body:       event.Text,
				IngestedAt: event.IngestedAt,
			})
			event.ArchiveID = id
			return err
		})
		if errors.Is(err, apperrors.ErrInvalidInput) {
			return nil, apperrors.New(err, http.StatusBadRequest, "article rejected by archive")
		}
		if err != nil {
			return nil, apperrors.New(fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err),
				http.StatusServiceUnavailable, "archive unavailable")
		}
		resp.ArchiveID = event.ArchiveID
		resp.Status = ingestion.StatusArchived
	}

	if p.producer == nil {
		return resp, nil
	}

	err := p.publish(ctx, kafka.Event{Key: event.KeyHash, Value: event})
	if err == nil {
		resp.Status = ingestion.StatusQueued
		return resp, nil
	}
	if p.archive != nil {
		p.logger.Error("publish failed, article waits for replay",
			"key_hash", event.KeyHash,
			"archive_id", event.ArchiveID,
			"error", err,
		)
		return resp, nil
	}
	return nil, apperrors.New(fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err),
		http.StatusServiceUnavailable, "ingest stream unavailable")
}

func (p *Publisher) publish(ctx context.Context, event kafka.Event) error {
	send := func() error {
		return resilience.Retry(ctx, "kafka-publish", p.retry, func() error {
			return p.producer.Publish(ctx, event)
		})
	}
	if p.breaker == nil {
		return send()
	}
	err := p.breaker.Execute(send)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		p.logger.Warn("publish skipped, circuit open", "key_hash", event.Key)
	}
	return err
}
