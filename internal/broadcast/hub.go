// Package broadcast fans snapshots out to any number of subscribers without
// ever blocking the publisher.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
)

const DefaultBuffer = 32

type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[uint64]chan domain.Snapshot
	nextID uint64
	closed bool

	dropped atomic.Uint64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[uint64]chan domain.Snapshot)}
}

// Subscribe returns a channel of snapshots and a function that detaches it.
// The channel is closed on unsubscribe or when the hub closes.
func (h *Hub) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// OnSnapshot delivers s to every subscriber. A subscriber whose buffer is
// full loses its oldest queued snapshot instead, so the latest state,
// terminal ones included, always reaches it.
func (h *Hub) OnSnapshot(s domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- s:
			continue
		default:
		}

		// Only the hub sends, and it holds mu, so one eviction makes room.
		select {
		case old := <-ch:
			n := h.dropped.Add(1)
			zlog.Logger.Warn().
				Uint64("subscriber", id).
				Uint64("evicted_seq", old.Seq).
				Uint64("seq", s.Seq).
				Uint64("dropped_total", n).
				Msg("subscriber too slow, oldest snapshot evicted")
		default:
		}
		ch <- s
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return nil
}
