// Package ratelimit enforces the daily publish cap and owns the overflow queue.
package ratelimit

import (
	"fmt"
	"log"
	"time"

	"feedrelay/models"
)

const dateLayout = "2006-01-02"

// Store is the part of the registry the limiter works on.
type Store interface {
	DailyCount(today string) (int, error)
	IncrementDailyCount(today string) (int, error)
	Enqueue(item models.Item, now time.Time) (bool, error)
	DequeueNext() (*models.QueueEntry, error)
	PendingEntries(limit int) ([]models.QueueEntry, error)
	PendingCount() (int, error)
	MarkProcessed(fingerprint string) error
}

// Limiter counts publishes per calendar day in its time zone.
type Limiter struct {
	store     Store
	maxPerDay int
	loc       *time.Location
	now       func() time.Time
}

// New creates a limiter. A nil location means UTC.
func New(store Store, maxPerDay int, loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{store: store, maxPerDay: maxPerDay, loc: loc, now: time.Now}
}

// FromConfig builds a limiter from the worker settings.
func FromConfig(store Store, cfg models.WorkerConfig) (*Limiter, error) {
	loc := time.UTC
	if cfg.TimeZone != "" {
		l, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", cfg.TimeZone, err)
		}
		loc = l
	}
	return New(store, cfg.MaxPerDay, loc), nil
}

// SetClock replaces the clock, for tests and tools.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Today is the current date in the limiter's zone.
func (l *Limiter) Today() string {
	return l.now().In(l.loc).Format(dateLayout)
}

// CanProceed reports whether another publish fits today's cap. A stale counter is reset
// to zero before it is compared.
func (l *Limiter) CanProceed() (bool, error) {
	n, err := l.store.DailyCount(l.Today())
	if err != nil {
		return false, err
	}
	return n < l.maxPerDay, nil
}

// Remaining is how many publishes are left today.
func (l *Limiter) Remaining() (int, error) {
	n, err := l.store.DailyCount(l.Today())
	if err != nil {
		return 0, err
	}
	if n >= l.maxPerDay {
		return 0, nil
	}
	return l.maxPerDay - n, nil
}

// RecordPublish counts one publish against today.
func (l *Limiter) RecordPublish() (int, error) {
	n, err := l.store.IncrementDailyCount(l.Today())
	if err != nil {
		return 0, err
	}
	log.Printf("Daily publish count is now %d/%d", n, l.maxPerDay)
	return n, nil
}

// Enqueue defers an item. Enqueueing the same fingerprint twice is a no-op.
func (l *Limiter) Enqueue(item models.Item) (bool, error) {
	added, err := l.store.Enqueue(item, l.now())
	if err != nil {
		return false, err
	}
	if added {
		log.Printf("Queued %q for a later cycle", item.Title)
	}
	return added, nil
}

// DequeueNext returns the oldest pending entry, or nil when the queue is empty.
func (l *Limiter) DequeueNext() (*models.QueueEntry, error) {
	return l.store.DequeueNext()
}

// Backlog lists up to limit pending entries in FIFO order.
func (l *Limiter) Backlog(limit int) ([]models.QueueEntry, error) {
	return l.store.PendingEntries(limit)
}

// Pending is the number of queued entries.
func (l *Limiter) Pending() (int, error) {
	return l.store.PendingCount()
}

// MarkProcessed removes an entry from the pending set.
func (l *Limiter) MarkProcessed(fingerprint string) error {
	return l.store.MarkProcessed(fingerprint)
}

// MaxPerDay is the configured cap.
func (l *Limiter) MaxPerDay() int {
	return l.maxPerDay
}
