// Package feed distributes committed row changes to connected observers.
package feed

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/bloodlink/internal/model"
)

var (
	// ErrSlowConsumer ends a subscription whose buffer overflowed; the observer must resync.
	ErrSlowConsumer = errors.New("feed: subscriber fell behind")
	// ErrFeedGap ends every subscription after the upstream source lost events.
	ErrFeedGap = errors.New("feed: upstream gap, resync required")
	// ErrClosed ends subscriptions when the hub shuts down.
	ErrClosed = errors.New("feed: closed")
)

// Publisher accepts committed changes in commit order.
type Publisher interface {
	Publish(evt model.ChangeEvent)
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Hub fans events out to subscribers and stamps each with a sequence number.
// A subscriber is never skipped silently: when its buffer is full it is
// dropped with ErrSlowConsumer.
type Hub struct {
	mu     sync.Mutex
	seq    int64
	subs   map[*Subscription]struct{}
	buf    int
	closed bool
	log    *zap.Logger
}

// NewHub creates a hub. buf <= 0 selects DefaultBuffer; a nil logger is replaced by a no-op one.
func NewHub(buf int, log *zap.Logger) *Hub {
	if buf <= 0 {
		buf = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buf: buf, log: log}
}

// Subscription is one observer's view of the feed.
type Subscription struct {
	ch     chan model.ChangeEvent
	tables map[model.Table]bool
	err    error
	closed bool
}

// Events delivers changes in commit order. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan model.ChangeEvent { return s.ch }

// Err reports why the subscription ended; nil after a plain Unsubscribe.
// Only meaningful once Events is closed.
func (s *Subscription) Err() error { return s.err }

func (s *Subscription) wants(t model.Table) bool {
	return len(s.tables) == 0 || s.tables[t]
}

// Subscribe registers an observer for the given tables (all when none given).
func (h *Hub) Subscribe(tables ...model.Table) *Subscription {
	s := &Subscription{ch: make(chan model.ChangeEvent, h.buf)}
	if len(tables) > 0 {
		s.tables = make(map[model.Table]bool, len(tables))
		for _, t := range tables {
			s.tables[t] = true
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.end(ErrClosed)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.end(nil)
	}
}

// end must be called with h.mu held.
func (s *Subscription) end(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Publish stamps evt with the next sequence number and delivers it.
func (h *Hub) Publish(evt model.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	evt.Seq = h.seq
	for s := range h.subs {
		if !s.wants(evt.Table) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			h.log.Warn("dropping slow feed subscriber", zap.Int64("seq", evt.Seq), zap.Int("buffer", cap(s.ch)))
			delete(h.subs, s)
			s.end(ErrSlowConsumer)
		}
	}
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Invalidate ends every subscription with err so observers rebuild from a snapshot.
func (h *Hub) Invalidate(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		s.end(err)
	}
}

// Close ends all subscriptions and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		s.end(ErrClosed)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
