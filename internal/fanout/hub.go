// Package fanout pushes materialized views to live subscriptions.
//
// A subscription is keyed by (Kind, ID) and owns a loader that rebuilds its
// full view. Writers call Publish after committing; every subscription on the
// key is marked dirty and its pump reloads and delivers the new view. Dirty
// marks coalesce, so a slow consumer sees the latest state rather than a
// backlog. Because a view is always loaded after the write that dirtied it
// committed, a delivery never reflects an older state than an earlier one on
// the same subscription.
package fanout

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Kind string

const (
	KindChats    Kind = "chats"
	KindMessages Kind = "messages"
	KindPresence Kind = "presence"
	KindUnread   Kind = "unread"
)

func (k Kind) Valid() bool {
	switch k {
	case KindChats, KindMessages, KindPresence, KindUnread:
		return true
	}
	return false
}

// Key identifies the entity a subscription depends on. For KindChats the ID is
// a user id, for KindMessages and KindUnread a chat id, for KindPresence a
// user id.
type Key struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

type Hub struct {
	mu      sync.Mutex
	subs    map[Key]map[*entry]struct{}
	logger  *zap.Logger
	metrics *Metrics
}

type entry struct {
	dirty chan struct{}
}

func (e *entry) mark() {
	select {
	case e.dirty <- struct{}{}:
	default:
	}
}

func NewHub(logger *zap.Logger, metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		subs:    make(map[Key]map[*entry]struct{}),
		logger:  logger.With(zap.String("component", "fanout")),
		metrics: metrics,
	}
}

// Publish marks every subscription on key dirty.
func (h *Hub) Publish(key Key) {
	h.metrics.publishes.WithLabelValues(string(key.Kind)).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for e := range h.subs[key] {
		e.mark()
	}
}

// PublishKind marks every subscription of the given kind dirty. Used when a
// change may affect views keyed by entities the writer cannot enumerate.
func (h *Hub) PublishKind(kind Kind) {
	h.metrics.publishes.WithLabelValues(string(kind)).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for key, set := range h.subs {
		if key.Kind != kind {
			continue
		}
		for e := range set {
			e.mark()
		}
	}
}

// Subscribers returns the number of live subscriptions on key.
func (h *Hub) Subscribers(key Key) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

func (h *Hub) add(key Key, e *entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*entry]struct{})
		h.subs[key] = set
	}
	set[e] = struct{}{}
	h.metrics.active.WithLabelValues(string(key.Kind)).Inc()
}

func (h *Hub) remove(key Key, e *entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[key]
	if _, ok := set[e]; !ok {
		return
	}
	delete(set, e)
	if len(set) == 0 {
		delete(h.subs, key)
	}
	h.metrics.active.WithLabelValues(string(key.Kind)).Dec()
}

// Update is one delivery: the full view and its position in the
// subscription's delivery sequence, starting at 1.
type Update[T any] struct {
	Seq   uint64
	Value T
}

// Loader rebuilds a subscription's view.
type Loader[T any] func(ctx context.Context) (T, error)

type Subscription[T any] struct {
	key     Key
	hub     *Hub
	entry   *entry
	load    Loader[T]
	updates chan Update[T]
	cancel  context.CancelFunc
	exited  chan struct{}
	once    sync.Once
}

// Subscribe registers a subscription on key. The first delivery is the view at
// subscription time. The subscription lives until Cancel is called or ctx is
// done; either way the Updates channel is closed once the pump has stopped.
func Subscribe[T any](ctx context.Context, h *Hub, key Key, load Loader[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		key:     key,
		hub:     h,
		entry:   &entry{dirty: make(chan struct{}, 1)},
		load:    load,
		updates: make(chan Update[T]),
		cancel:  cancel,
		exited:  make(chan struct{}),
	}
	s.entry.mark()
	h.add(key, s.entry)
	go s.pump(ctx)
	return s
}

func (s *Subscription[T]) Key() Key {
	return s.key
}

func (s *Subscription[T]) Updates() <-chan Update[T] {
	return s.updates
}

// Cancel stops the subscription. When it returns no further update will be
// sent; one that was already being received may still arrive first.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.cancel()
		s.hub.remove(s.key, s.entry)
	})
	<-s.exited
}

func (s *Subscription[T]) pump(ctx context.Context) {
	defer close(s.exited)
	defer close(s.updates)
	defer s.hub.remove(s.key, s.entry)

	kind := string(s.key.Kind)
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.entry.dirty:
		}

		view, err := s.load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.hub.metrics.loadErrors.WithLabelValues(kind).Inc()
			s.hub.logger.Warn("loading view failed",
				zap.String("kind", kind),
				zap.String("id", s.key.ID),
				zap.Error(err),
			)
			continue
		}

		seq++
		select {
		case <-ctx.Done():
			return
		case s.updates <- Update[T]{Seq: seq, Value: view}:
			s.hub.metrics.deliveries.WithLabelValues(kind).Inc()
		}
	}
}
