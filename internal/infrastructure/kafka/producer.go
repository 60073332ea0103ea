package kafka

import (
	"context"
	"encoding/json"
	"sync"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/config"
	"github.com/yokitheyo/cutout/internal/domain"
	internalretry "github.com/yokitheyo/cutout/internal/retry"
)

const defaultBufferSize = 64

type sender interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key, value []byte) error
	Close() error
}

type wbfProducer struct {
	p *wbfkafka.Producer
}

func (w wbfProducer) SendWithRetry(ctx context.Context, strategy retry.Strategy, key, value []byte) error {
	return w.p.SendWithRetry(ctx, strategy, key, value)
}

func (w wbfProducer) Close() error {
	return w.p.Close()
}

// SnapshotPublisher forwards snapshots to Kafka from its own goroutine.
// OnSnapshot never blocks; when the buffer is full the snapshot is dropped.
type SnapshotPublisher struct {
	client   sender
	topic    string
	strategy retry.Strategy

	events chan domain.Snapshot
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ domain.EventPublisher = (*SnapshotPublisher)(nil)

func NewSnapshotPublisher(cfg *config.KafkaConfig) *SnapshotPublisher {
	client := wbfkafka.NewProducer(cfg.Brokers, cfg.Topic)
	zlog.Logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Int("buffer_size", cfg.BufferSize).
		Msg("Kafka snapshot publisher initialized (wbf)")
	return newSnapshotPublisher(wbfProducer{p: client}, cfg.Topic, cfg.BufferSize, internalretry.PublishStrategy)
}

func newSnapshotPublisher(client sender, topic string, buffer int, strategy retry.Strategy) *SnapshotPublisher {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	p := &SnapshotPublisher{
		client:   client,
		topic:    topic,
		strategy: strategy,
		events:   make(chan domain.Snapshot, buffer),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *SnapshotPublisher) OnSnapshot(s domain.Snapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.events <- s:
	default:
		zlog.Logger.Warn().
			Str("session_id", s.SessionID).
			Uint64("seq", s.Seq).
			Msg("snapshot buffer full, event dropped")
	}
}

func (p *SnapshotPublisher) loop() {
	defer close(p.done)
	for s := range p.events {
		_ = p.publish(context.Background(), s)
	}
}

func (p *SnapshotPublisher) publish(ctx context.Context, s domain.Snapshot) error {
	data, err := EncodeSnapshot(s)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("session_id", s.SessionID).Msg("Failed to marshal snapshot")
		return err
	}

	if err := p.client.SendWithRetry(ctx, p.strategy, []byte(s.SessionID), data); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("session_id", s.SessionID).
			Str("phase", string(s.Phase)).
			Msg("Failed to send snapshot to Kafka")
		return err
	}

	zlog.Logger.Debug().
		Str("session_id", s.SessionID).
		Str("phase", string(s.Phase)).
		Uint64("seq", s.Seq).
		Msg("Snapshot sent to Kafka")
	return nil
}

// Close drains buffered snapshots and closes the producer.
func (p *SnapshotPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.done

	if err := p.client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close Kafka producer")
		return err
	}
	zlog.Logger.Info().Msg("Kafka producer closed successfully")
	return nil
}

func EncodeSnapshot(s domain.Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSnapshot(data []byte) (domain.Snapshot, error) {
	var s domain.Snapshot
	err := json.Unmarshal(data, &s)
	return s, err
}
