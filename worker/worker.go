// Package worker runs the publishing cycle: poll, admit or queue, download, prepare,
// upload, record and notify, under a persisted lease so only one cycle runs at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"feedrelay/database"
	"feedrelay/downloader"
	"feedrelay/models"
	"feedrelay/progress"
	"feedrelay/uploader"
	"feedrelay/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned by operations that need the processing permit while an item is in flight.
var ErrBusy = errors.New("an item is being processed")

// Store is the registry surface the worker needs.
type Store interface {
	AcquireLease(owner string, ttl time.Duration, now time.Time) error
	RenewLease(owner string, ttl time.Duration, now time.Time) error
	ReleaseLease(owner string) error
	Seen(fingerprint, title string) (database.DedupMatch, error)
	IsFailed(fingerprint string) (bool, error)
	AddFailedDownload(f models.FailedDownload) error
}

// Poller yields new feed items, newest first.
type Poller interface {
	Fetch(ctx context.Context) []models.Item
	Healthy() bool
}

// Limiter is the daily cap plus the overflow queue.
type Limiter interface {
	CanProceed() (bool, error)
	RecordPublish() (int, error)
	Enqueue(item models.Item) (bool, error)
	Backlog(limit int) ([]models.QueueEntry, error)
	Pending() (int, error)
	MarkProcessed(fingerprint string) error
}

// Downloader fetches one descriptor to a local file.
type Downloader interface {
	Download(ctx context.Context, d models.Descriptor, title string, sink progress.Sink) (*downloader.Result, error)
}

// Preparer optionally remuxes or encodes a file and returns the one to upload.
type Preparer interface {
	Prepare(ctx context.Context, path, title string, sink progress.Sink) string
}

// Uploader publishes a file.
type Uploader interface {
	Upload(ctx context.Context, path string, meta uploader.Meta) ([]models.UploadRecord, error)
}

// Purger empties the scratch directories.
type Purger interface {
	Purge() (int, error)
}

// ProgressView is a live status message for one item.
type ProgressView interface {
	Update(ctx context.Context, ev models.ProgressEvent)
	Close(ctx context.Context)
}

// Notifier reports outcomes to operators.
type Notifier interface {
	Progress(ctx context.Context, title string) ProgressView
	Published(ctx context.Context, item models.Item, records []models.UploadRecord)
	Failed(ctx context.Context, item models.Item, err error)
}

// Exporter refreshes the published-records feed.
type Exporter interface {
	Write() error
}

// Health receives per-service serving state.
type Health interface {
	SetServing(service string, serving bool)
}

// Deps are the collaborators of a Worker. Notifier, Purger, Status, Exporter and Health are optional.
type Deps struct {
	Store      Store
	Poller     Poller
	Limiter    Limiter
	Downloader Downloader
	Preparer   Preparer
	Uploader   Uploader
	Notifier   Notifier
	Purger     Purger
	Status     *database.StatusManager
	Exporter   Exporter
	Health     Health
}

// Options tune a Worker.
type Options struct {
	LeaseTTL         time.Duration
	PublishChannelID string
	Progress         models.ProgressConfig
}

// Worker runs cycles. Tick is safe to call from several goroutines or processes;
// all but one skip.
type Worker struct {
	Deps
	opts    Options
	owner   string
	running sync.Mutex // one cycle per process; the lease covers other processes
	sem     *semaphore.Weighted
	now     func() time.Time
}

// New creates a worker with a fresh lease owner id.
func New(opts Options, deps Deps) *Worker {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Minute
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Preparer == nil {
		deps.Preparer = passthrough{}
	}
	return &Worker{
		Deps:  deps,
		opts:  opts,
		owner: uuid.NewString(),
		sem:   semaphore.NewWeighted(1),
		now:   time.Now,
	}
}

// Owner is the lease owner id of this worker.
func (w *Worker) Owner() string {
	return w.owner
}

// CycleResult counts what one cycle did.
type CycleResult struct {
	Skipped   bool // another owner held the lease
	Fetched   int
	Published int
	Enqueued  int
	Failed    int
	Errors    int
}

func (r CycleResult) String() string {
	if r.Skipped {
		return "skipped"
	}
	return fmt.Sprintf("fetched %d, published %d, queued %d, failed %d, errors %d",
		r.Fetched, r.Published, r.Enqueued, r.Failed, r.Errors)
}

// Tick runs one cycle if the lease can be taken. When another owner holds a live lease
// the tick does nothing at all: no fetch, no download and no state write.
func (w *Worker) Tick(ctx context.Context) (CycleResult, error) {
	if !w.running.TryLock() {
		log.Printf("Worker cycle skipped: previous cycle still running")
		return CycleResult{Skipped: true}, nil
	}
	defer w.running.Unlock()

	if err := w.Store.AcquireLease(w.owner, w.opts.LeaseTTL, w.now()); err != nil {
		if errors.Is(err, database.ErrLeaseHeld) {
			log.Printf("Worker cycle skipped: lease held by another owner")
			return CycleResult{Skipped: true}, nil
		}
		return CycleResult{}, fmt.Errorf("failed to take worker lease: %w", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeat(hbCtx)
	}()
	defer func() {
		stopHeartbeat()
		wg.Wait()
		if err := w.Store.ReleaseLease(w.owner); err != nil {
			log.Printf("Failed to release worker lease: %v", err)
			utils.Error("Worker", "ReleaseLease", err.Error())
		}
	}()

	start := w.now()
	result := w.cycle(ctx)
	log.Printf("Worker cycle finished in %v: %s", w.now().Sub(start).Round(time.Millisecond), result)
	w.afterCycle(start, result)
	return result, nil
}

// heartbeat renews the lease every third of its ttl until ctx ends.
func (w *Worker) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.opts.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Store.RenewLease(w.owner, w.opts.LeaseTTL, w.now()); err != nil {
				log.Printf("Failed to renew worker lease: %v", err)
			}
		}
	}
}

func (w *Worker) cycle(ctx context.Context) CycleResult {
	var result CycleResult

	items := w.Poller.Fetch(ctx)
	result.Fetched = len(items)

	backlog, err := w.Limiter.Pending()
	if err != nil {
		log.Printf("Failed to count queue: %v", err)
		result.Errors++
	}

	tried := make(map[string]bool)

	// Oldest new item first.
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if ctx.Err() != nil {
			// The poller already moved past these, so they must survive in the queue.
			for ; i >= 0; i-- {
				w.enqueue(items[i], &result)
			}
			return result
		}
		if backlog > 0 {
			w.enqueue(item, &result)
			continue
		}
		ok, err := w.Limiter.CanProceed()
		if err != nil {
			log.Printf("Rate limiter check failed: %v", err)
			result.Errors++
			ok = false
		}
		if !ok {
			w.enqueue(item, &result)
			continue
		}
		tried[item.Fingerprint] = true
		if w.process(ctx, item, &result) == outcomeRetry {
			w.enqueue(item, &result)
		}
	}

	w.drain(ctx, tried, &result)
	return result
}

// drain processes queued items in FIFO order while capacity remains. Entries already
// tried this cycle are passed over; the ones that failed transiently stay queued.
func (w *Worker) drain(ctx context.Context, tried map[string]bool, result *CycleResult) {
	for ctx.Err() == nil {
		ok, err := w.Limiter.CanProceed()
		if err != nil {
			log.Printf("Rate limiter check failed: %v", err)
			result.Errors++
			return
		}
		if !ok {
			return
		}

		entries, err := w.Limiter.Backlog(len(tried) + 1)
		if err != nil {
			log.Printf("Failed to read queue: %v", err)
			result.Errors++
			return
		}
		var next *models.QueueEntry
		for i := range entries {
			if !tried[entries[i].Fingerprint] {
				next = &entries[i]
				break
			}
		}
		if next == nil {
			return
		}
		tried[next.Fingerprint] = true
		w.process(ctx, next.Item, result)
	}
}

func (w *Worker) enqueue(item models.Item, result *CycleResult) {
	added, err := w.Limiter.Enqueue(item)
	if err != nil {
		log.Printf("Failed to queue %q: %v", item.Title, err)
		result.Errors++
		return
	}
	if added {
		result.Enqueued++
	}
}

func (w *Worker) afterCycle(start time.Time, result CycleResult) {
	if w.Health != nil {
		w.Health.SetServing("feed", w.Poller.Healthy())
		w.Health.SetServing("worker", result.Errors == 0)
	}
	if w.Status != nil {
		w.Status.Update(func(s *models.Status) {
			s.LastCycleAt = start
			s.LastCycleResult = result.String()
			s.Fetched = result.Fetched
			s.Published = result.Published
			s.Enqueued = result.Enqueued
			s.Failed = result.Failed
			s.TotalPublished += result.Published
			s.CurrentItem = ""
		})
		if err := w.Status.Save(); err != nil {
			log.Printf("Failed to save status: %v", err)
		}
	}
	if w.Exporter != nil && result.Published > 0 {
		if err := w.Exporter.Write(); err != nil {
			log.Printf("Failed to export feed: %v", err)
		}
	}
}

// Purge empties the scratch directories unless an item is in flight.
func (w *Worker) Purge() (int, error) {
	if w.Purger == nil {
		return 0, nil
	}
	if !w.sem.TryAcquire(1) {
		return 0, ErrBusy
	}
	defer w.sem.Release(1)
	return w.Purger.Purge()
}

type nopNotifier struct{}

func (nopNotifier) Progress(context.Context, string) ProgressView                 { return nil }
func (nopNotifier) Published(context.Context, models.Item, []models.UploadRecord) {}
func (nopNotifier) Failed(context.Context, models.Item, error)                    {}

type passthrough struct{}

func (passthrough) Prepare(_ context.Context, path, _ string, _ progress.Sink) string { return path }
