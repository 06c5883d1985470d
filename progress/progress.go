// Package progress carries progress events from the engines to the status message editor
// over a bounded channel, dropping events the throttle does not let through.
package progress

import (
	"context"
	"sync"
	"time"

	"feedrelay/models"
)

// Sink receives progress events from an engine.
type Sink interface {
	Emit(ctx context.Context, ev models.ProgressEvent)
}

// Emit forwards ev to sink when sink is not nil.
func Emit(ctx context.Context, sink Sink, ev models.ProgressEvent) {
	if sink == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	sink.Emit(ctx, ev)
}

// Throttle lets an event through on a stage change, after MinInterval has passed,
// or once the percentage moved by at least MinDelta.
type Throttle struct {
	MinInterval time.Duration
	MinDelta    float64

	started     bool
	lastStage   models.Stage
	lastPercent float64
	lastAt      time.Time
}

// Allow reports whether ev should be forwarded and, if so, remembers it.
func (t *Throttle) Allow(ev models.ProgressEvent) bool {
	ok := !t.started ||
		ev.Stage != t.lastStage ||
		ev.At.Sub(t.lastAt) >= t.MinInterval ||
		(t.MinDelta > 0 && ev.Percent-t.lastPercent >= t.MinDelta)
	if !ok {
		return false
	}
	t.started = true
	t.lastStage = ev.Stage
	t.lastPercent = ev.Percent
	t.lastAt = ev.At
	return true
}

// Reporter is the producer end of the channel.
type Reporter struct {
	mu       sync.Mutex
	throttle Throttle
	ch       chan models.ProgressEvent
	closed   bool
	dropped  int
}

// NewReporter creates a reporter with a channel of the given capacity.
func NewReporter(buffer int, minInterval time.Duration, minDelta float64) *Reporter {
	if buffer < 1 {
		buffer = 1
	}
	return &Reporter{
		throttle: Throttle{MinInterval: minInterval, MinDelta: minDelta},
		ch:       make(chan models.ProgressEvent, buffer),
	}
}

// Events is the consumer end.
func (r *Reporter) Events() <-chan models.ProgressEvent {
	return r.ch
}

// Emit applies the throttle and queues ev. Stage changes wait for room in the channel
// (or for ctx); other events are dropped when the consumer is behind.
func (r *Reporter) Emit(ctx context.Context, ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	stageChange := !r.throttle.started || ev.Stage != r.throttle.lastStage
	if !r.throttle.Allow(ev) {
		return
	}

	if stageChange {
		select {
		case r.ch <- ev:
		case <-ctx.Done():
		}
		return
	}
	select {
	case r.ch <- ev:
	default:
		r.dropped++
	}
}

// Dropped returns how many throttled-in events were dropped for lack of room.
func (r *Reporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close ends the stream. Emit after Close is a no-op.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

// Consume calls fn for every event until the channel closes or ctx ends.
func Consume(ctx context.Context, events <-chan models.ProgressEvent, fn func(models.ProgressEvent)) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			fn(ev)
		case <-ctx.Done():
			return
		}
	}
}
