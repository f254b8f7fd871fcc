package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-tracker/internal/metrics"
)

const relaySource = "price-tracker"

// StreamWriter is the part of the redis client the relay publishes with.
type StreamWriter interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen trims streams approximately to this length; 0 keeps all.
	StreamMaxLen int64
}

// Relay moves committed price events from the outbox onto their streams
// and keeps the outbox backlog gauge current.
type Relay struct {
	streams StreamWriter
	outbox  OutboxRepo
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     RelayConfig
}

func NewRelay(outbox OutboxRepo, streams StreamWriter, m *metrics.Metrics, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		streams: streams,
		outbox:  outbox,
		metrics: m,
		logger:  logger.With("component", "relay"),
		cfg:     cfg,
	}
}

// Run relays a batch right away and then once per poll interval until ctx
// ends. It always returns the context error.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started",
		"interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize,
		"stream_max_len", r.cfg.StreamMaxLen)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.poll(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) poll(ctx context.Context) {
	res, err := r.relayBatch(ctx)
	if err != nil {
		r.logger.Error("outbox poll failed", "error", err)
	} else if res.published+res.failed > 0 {
		r.logger.Info("outbox batch relayed", "published", res.published, "failed", res.failed)
	}
	r.refreshBacklog(ctx)
}

type batchResult struct {
	published int
	failed    int
}

// relayBatch publishes up to BatchSize pending events. A publish failure is
// recorded on the event and does not stop the batch.
func (r *Relay) relayBatch(ctx context.Context) (batchResult, error) {
	var res batchResult

	pending, err := r.outbox.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, ev := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		log := r.logger.With("event_id", ev.ID, "event_type", ev.EventType, "item_id", ev.AggregateID)
		if err := r.publish(ctx, ev); err != nil {
			res.failed++
			r.metrics.OutboxRelayed("failed")
			log.Warn("event publish failed", "retry_count", ev.RetryCount, "error", err)
			if markErr := r.outbox.MarkFailed(ctx, ev.ID, err); markErr != nil {
				log.Error("failed to record publish failure", "error", markErr)
			}
			continue
		}

		if err := r.outbox.MarkProcessed(ctx, ev.ID); err != nil {
			// The event stays pending and is published again next poll.
			log.Error("failed to mark event as processed", "error", err)
			continue
		}
		res.published++
		r.metrics.OutboxRelayed("published")
		log.Debug("event relayed", "stream", ev.TargetStream)
	}
	return res, nil
}

func (r *Relay) refreshBacklog(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	counts, err := r.outbox.CountByStatus(ctx)
	if err != nil {
		r.logger.Warn("failed to count outbox events", "error", err)
		return
	}
	r.metrics.OutboxBacklog(counts)
}

// streamMessage is the JSON document stored in the data field of each
// stream entry.
type streamMessage struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Aggregate  string          `json:"aggregate_type"`
	ItemID     string          `json:"item_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Attempt    int             `json:"attempt"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
}

func (r *Relay) publish(ctx context.Context, ev *OutboxEvent) error {
	values, err := streamValues(ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{Stream: ev.TargetStream, Values: values}
	if args.Stream == "" {
		args.Stream = DefaultStream
	}
	if r.cfg.StreamMaxLen > 0 {
		args.MaxLen = r.cfg.StreamMaxLen
		args.Approx = true
	}

	if err := r.streams.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// streamValues flattens an event into stream fields. The type and item id
// are duplicated outside data so consumers can filter without decoding.
func streamValues(ev *OutboxEvent) (map[string]interface{}, error) {
	if !json.Valid(ev.Payload) {
		return nil, fmt.Errorf("event %s has an invalid JSON payload", ev.ID)
	}

	data, err := json.Marshal(streamMessage{
		ID:         ev.ID.String(),
		Type:       ev.EventType,
		Aggregate:  ev.AggregateType,
		ItemID:     ev.AggregateID,
		OccurredAt: ev.CreatedAt.UTC(),
		Attempt:    ev.RetryCount + 1,
		Source:     relaySource,
		Payload:    ev.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
	}

	return map[string]interface{}{
		"data":     string(data),
		"type":     ev.EventType,
		"item_id":  ev.AggregateID,
		"event_id": ev.ID.String(),
	}, nil
}
