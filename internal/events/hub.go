package events

import (
	"context"
	"errors"
	"sync"

	"github.com/pdf-batch/backend/internal/models"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when using a closed bus.
var ErrClosed = errors.New("event bus closed")

const defaultBuffer = 256

// Hub is an in-process Bus. Each subscription has its own buffered queue
// and delivery goroutine, so a slow handler never blocks publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*hubSub
	nextID uint64
	buffer int
	closed bool
	logger zerolog.Logger
}

type hubSub struct {
	id     uint64
	hub    *Hub
	filter Filter
	queue  chan models.Event
	done   chan struct{}
	once   sync.Once
}

// NewHub creates an in-memory bus. buffer <= 0 selects the default queue size.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[uint64]*hubSub),
		buffer: buffer,
		logger: logger.With().Str("component", "events.hub").Logger(),
	}
}

// Publish enqueues ev for every matching subscriber. Events for a full
// queue are dropped and logged.
func (h *Hub) Publish(ctx context.Context, ev models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}

	for _, s := range h.subs {
		if !s.filter.Matches(ev) {
			continue
		}
		select {
		case <-s.done:
		case s.queue <- ev:
		default:
			h.logger.Warn().
				Str("collection", string(ev.Collection)).
				Str("record_id", ev.RecordID).
				Msg("subscriber queue full, event dropped")
		}
	}
	return nil
}

// Subscribe registers h for events matching f.
func (h *Hub) Subscribe(ctx context.Context, f Filter, handler Handler) (Subscription, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	h.nextID++
	s := &hubSub{
		id:     h.nextID,
		hub:    h,
		filter: f,
		queue:  make(chan models.Event, h.buffer),
		done:   make(chan struct{}),
	}
	h.subs[s.id] = s
	go s.run(handler)
	return s, nil
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close releases every subscription. Further calls fail with ErrClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*hubSub)
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

func (s *hubSub) run(handler Handler) {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			handler(ev)
		}
	}
}

func (s *hubSub) stop() {
	s.once.Do(func() { close(s.done) })
}

// Unsubscribe removes the subscription. Queued events are discarded.
func (s *hubSub) Unsubscribe() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	s.stop()
}
