package kafka

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/config"
	"github.com/yokitheyo/cutout/internal/domain"
	internalretry "github.com/yokitheyo/cutout/internal/retry"
)

type SnapshotHandler func(ctx context.Context, s domain.Snapshot) error

type fetcher interface {
	FetchWithRetry(ctx context.Context, strategy retry.Strategy) (kafkago.Message, error)
	Commit(ctx context.Context, msg kafkago.Message) error
	Close() error
}

type wbfConsumer struct {
	c *wbfkafka.Consumer
}

func (w wbfConsumer) FetchWithRetry(ctx context.Context, strategy retry.Strategy) (kafkago.Message, error) {
	return w.c.FetchWithRetry(ctx, strategy)
}

func (w wbfConsumer) Commit(ctx context.Context, msg kafkago.Message) error {
	return w.c.Commit(ctx, msg)
}

func (w wbfConsumer) Close() error {
	return w.c.Close()
}

const maxHandleBackoff = 30 * time.Second

type Consumer struct {
	client   fetcher
	handler  SnapshotHandler
	topic    string
	strategy retry.Strategy
	backoff  time.Duration
}

func NewConsumer(cfg *config.KafkaConfig, handler SnapshotHandler) (*Consumer, error) {
	client := wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID)

	zlog.Logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("group_id", cfg.GroupID).
		Msg("Kafka consumer initialized (WB)")

	return &Consumer{
		client:   wbfConsumer{c: client},
		handler:  handler,
		topic:    cfg.Topic,
		strategy: internalretry.DefaultStrategy,
		backoff:  time.Second,
	}, nil
}

// Start consumes until ctx is cancelled. Malformed messages are committed
// and skipped. A message whose handler fails is handled again, with growing
// backoff, before anything after it is fetched; if ctx ends first it stays
// uncommitted and the group redelivers it on the next start.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("Kafka consumer stopped")
			return nil
		default:
		}

		msg, err := c.client.FetchWithRetry(ctx, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				zlog.Logger.Info().Msg("Kafka consumer stopped")
				return nil
			}
			zlog.Logger.Error().Err(err).Msg("Failed to fetch Kafka message")
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) {
	snap, err := DecodeSnapshot(msg.Value)
	if err != nil {
		zlog.Logger.Error().
			Err(err).
			Bytes("msg", msg.Value).
			Msg("Failed to unmarshal snapshot, skipping")
		c.commit(ctx, msg, "")
		return
	}

	if snap.Phase == "" {
		zlog.Logger.Error().Str("session_id", snap.SessionID).Msg("Invalid snapshot: empty phase, skipping")
		c.commit(ctx, msg, snap.SessionID)
		return
	}

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, snap)
		if err == nil {
			break
		}
		zlog.Logger.Error().
			Err(err).
			Str("session_id", snap.SessionID).
			Str("phase", string(snap.Phase)).
			Int64("offset", msg.Offset).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Snapshot handling failed")

		select {
		case <-ctx.Done():
			zlog.Logger.Warn().
				Str("session_id", snap.SessionID).
				Int64("offset", msg.Offset).
				Msg("Consumer stopping, message left uncommitted")
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxHandleBackoff {
			delay = maxHandleBackoff
		}
	}

	c.commit(ctx, msg, snap.SessionID)
}

func (c *Consumer) commit(ctx context.Context, msg kafkago.Message, sessionID string) {
	if err := c.client.Commit(ctx, msg); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Msg("Failed to commit message")
		return
	}
	zlog.Logger.Debug().
		Str("session_id", sessionID).
		Int64("offset", msg.Offset).
		Msg("Message committed")
}

func (c *Consumer) Close() error {
	if err := c.client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close Kafka consumer")
		return err
	}
	zlog.Logger.Info().Msg("Kafka consumer closed successfully")
	return nil
}
