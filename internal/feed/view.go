package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Fetch re-derives the full scoped collection from storage.
type Fetch[T any] func(ctx context.Context) ([]T, error)

// View keeps an in-memory copy of one table's scoped contents consistent
// with storage. Any change event marks the view dirty and schedules a
// re-fetch; the snapshot is replaced wholesale, never patched from event
// payloads. Concurrent invalidations collapse into a single in-flight
// re-fetch, and a re-fetch that completes after Close is discarded.
type View[T any] struct {
	name         string
	table        string
	assignmentID string
	fetch        Fetch[T]
	pubsub       *redis.PubSub

	mu       sync.Mutex
	snapshot []T
	dirty    bool
	inflight bool
	closed   bool
	settled  chan struct{}
	updates  chan struct{}
}

// Open subscribes to a table's change channel, primes the snapshot with an
// initial fetch, and starts consuming events. The subscription is confirmed
// before the priming fetch runs, so a mutation published between the fetch's
// storage read and Open returning still invalidates the view instead of
// being lost. assignmentID optionally narrows the view to events carrying
// that foreign key; events without one always invalidate.
func Open[T any](ctx context.Context, client *redis.Client, table, assignmentID string, fetch Fetch[T]) (*View[T], error) {
	v := &View[T]{
		name:         uuid.NewString(),
		table:        table,
		assignmentID: assignmentID,
		fetch:        fetch,
		settled:      make(chan struct{}),
		updates:      make(chan struct{}, 1),
	}
	close(v.settled)

	v.pubsub = client.Subscribe(ctx, Channel(table))
	// Force the SUBSCRIBE round-trip so callers do not race the first event.
	if _, err := v.pubsub.Receive(ctx); err != nil {
		_ = v.pubsub.Close()
		return nil, err
	}

	initial, err := fetch(ctx)
	if err != nil {
		_ = v.pubsub.Close()
		return nil, err
	}
	v.snapshot = initial

	go v.consume()
	return v, nil
}

// Snapshot returns the current view contents.
func (v *View[T]) Snapshot() []T {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]T, len(v.snapshot))
	copy(out, v.snapshot)
	return out
}

// Settled returns a channel that is closed once no re-fetch is pending or in
// flight. Each invalidation replaces it.
func (v *View[T]) Settled() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settled
}

// Updates signals each snapshot replacement. The channel is buffered so a
// slow reader collapses a burst into one wakeup, and it is closed by Close.
func (v *View[T]) Updates() <-chan struct{} {
	return v.updates
}

// Close releases the channel subscription. Idempotent; any re-fetch still in
// flight becomes a no-op.
func (v *View[T]) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	select {
	case <-v.settled:
	default:
		close(v.settled)
	}
	close(v.updates)
	v.mu.Unlock()
	_ = v.pubsub.Close()
}

func (v *View[T]) consume() {
	for msg := range v.pubsub.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Printf("feed: view %s: bad event payload: %v", v.name, err)
			continue
		}
		if v.assignmentID != "" && event.AssignmentID != "" && event.AssignmentID != v.assignmentID {
			continue
		}
		v.invalidate()
	}
}

// invalidate is level-triggered: it marks the view dirty and starts a
// re-fetch worker unless one is already running.
func (v *View[T]) invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.dirty = true
	select {
	case <-v.settled:
		v.settled = make(chan struct{})
	default:
	}
	if v.inflight {
		return
	}
	v.inflight = true
	go v.refetch()
}

func (v *View[T]) refetch() {
	for {
		v.mu.Lock()
		if v.closed {
			v.inflight = false
			v.mu.Unlock()
			return
		}
		v.dirty = false
		v.mu.Unlock()

		items, err := v.fetch(context.Background())

		v.mu.Lock()
		if v.closed {
			v.inflight = false
			v.mu.Unlock()
			return
		}
		if err != nil {
			// Keep the last-known snapshot; the view is stale until the
			// next event arrives.
			log.Printf("feed: view %s: refetch %s: %v", v.name, v.table, err)
		} else {
			v.snapshot = items
			select {
			case v.updates <- struct{}{}:
			default:
			}
		}
		if v.dirty {
			v.mu.Unlock()
			continue
		}
		v.inflight = false
		select {
		case <-v.settled:
		default:
			close(v.settled)
		}
		v.mu.Unlock()
		return
	}
}
