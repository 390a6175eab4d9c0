// Package playback serializes reconstructed audio replies onto a playback
// sink. Items play one at a time in strict arrival order; items that arrive
// faster than real time accumulate in the FIFO instead of being dropped or
// mixed.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultQueueCap is the initial capacity hint for the FIFO.
const defaultQueueCap = 16

// Item is one ready-to-render audio container. The queue owns it from
// [Queue.Enqueue] until the sink returns; afterwards it is discarded.
type Item struct {
	// ID identifies the item in logs and sink output.
	ID string

	// Seq is the arrival position assigned by the queue.
	Seq uint64

	// Container is a complete WAV file.
	Container []byte

	// SampleRate of the PCM payload in Container.
	SampleRate int

	// Enqueued is when the item entered the queue.
	Enqueued time.Time
}

// Sink renders audio containers. Play must block until the item has finished
// rendering, or until ctx is cancelled; its return is the playback-completion
// signal that releases the next queued item.
type Sink interface {
	Play(ctx context.Context, item *Item) error
}

// PlayedFunc is invoked after every item leaves the sink, with the time spent
// in Play and the sink's error (if any).
type PlayedFunc func(item *Item, played time.Duration, err error)

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithOnPlayed registers a callback invoked from the dispatch goroutine after
// each item finishes. It must not block.
func WithOnPlayed(fn PlayedFunc) Option {
	return func(q *Queue) { q.onPlayed = fn }
}

// WithOnDiscarded registers a callback invoked once by [Queue.Close] with the
// number of accepted items that will never reach the played callback: the
// pending ones and an active item whose playback was cut off. Every item
// passed to Enqueue is reported exactly once, by either callback.
func WithOnDiscarded(fn func(n int)) Option {
	return func(q *Queue) { q.onDiscarded = fn }
}

// WithQueueCapacity sets the initial capacity hint for the FIFO. This does
// not impose a hard limit.
func WithQueueCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.items = make([]*Item, 0, n)
		}
	}
}

// Queue is a FIFO of playback items with a single active-playback slot.
//
// All exported methods are safe for concurrent use. The active flag is the
// only mutual-exclusion point between the producer (Enqueue) and the
// completion path (the dispatch goroutine).
type Queue struct {
	sink        Sink
	onPlayed    PlayedFunc
	onDiscarded func(n int)

	mu     sync.Mutex
	items  []*Item
	seq    uint64
	active *Item // currently rendering item, or nil when idle
	closed bool

	// interrupted is set by dispatch before it exits when the active item was
	// cancelled mid-play. Read only after done is closed.
	interrupted bool

	ctx    context.Context
	cancel context.CancelFunc
	notify chan struct{} // signalled on Enqueue
	done   chan struct{} // closed when the dispatch goroutine exits
}

// New creates a Queue that renders items on sink and starts its dispatch
// goroutine. Call [Queue.Close] to stop it.
func New(sink Sink, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		sink:   sink,
		items:  make([]*Item, 0, defaultQueueCap),
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.dispatch()
	return q
}

// Enqueue appends item to the FIFO and returns its arrival sequence number.
// If the queue is idle the item starts immediately. Returns false once the
// queue has been closed.
func (q *Queue) Enqueue(item *Item) (uint64, bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, false
	}
	q.seq++
	item.Seq = q.seq
	if item.Enqueued.IsZero() {
		item.Enqueued = time.Now()
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	// Wake the dispatch goroutine.
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return item.Seq, true
}

// Len returns the number of items waiting behind the active one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Playing reports whether an item is currently being rendered.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active != nil
}

// Done returns a channel that is closed once the dispatch goroutine exits.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Close abandons the queue: the active item's Play context is cancelled and
// every pending item is discarded without being rendered. Close waits for the
// dispatch goroutine to exit and is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()

	q.cancel()
	<-q.done

	if q.interrupted {
		dropped++
	}
	if dropped > 0 {
		slog.Debug("playback: queue abandoned", "dropped_items", dropped)
		if q.onDiscarded != nil {
			q.onDiscarded(dropped)
		}
	}
	return nil
}

// dispatch is the background goroutine that hands queued items to the sink
// one at a time. It runs until [Queue.Close] is called.
func (q *Queue) dispatch() {
	defer close(q.done)

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.notify:
		}

		item, ok := q.advance()
		for ok {
			start := time.Now()
			err := q.sink.Play(q.ctx, item)
			if q.ctx.Err() != nil {
				q.interrupted = true
				q.advance()
				return
			}
			if err != nil {
				slog.Warn("playback: item failed, skipping", "item", item.ID, "seq", item.Seq, "err", err)
			}
			if q.onPlayed != nil {
				q.onPlayed(item, time.Since(start), err)
			}
			item, ok = q.advance()
		}
	}
}

// advance clears the active slot and, in the same critical section, promotes
// the head of the FIFO. The active flag therefore only drops to idle when the
// FIFO is empty.
func (q *Queue) advance() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.active = nil
	if q.closed || len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.active = item
	return item, true
}
