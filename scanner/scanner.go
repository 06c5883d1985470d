package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"feedrelay/database"
	"feedrelay/models"
	"feedrelay/retry"
	"feedrelay/utils"
)

// maxFeedBytes caps how much of a feed response is read.
const maxFeedBytes = 32 << 20

// Store is the part of the registry the poller reads and writes.
type Store interface {
	LastFingerprint() (string, error)
	SetLastFingerprint(fp string) error
	Seen(fingerprint, title string) (database.DedupMatch, error)
}

// Poller fetches the feed and returns the items that are new since the last poll.
type Poller struct {
	cfg    models.FeedConfig
	store  Store
	client *http.Client
	policy retry.Policy
	thumbs *ThumbnailResolver

	healthy atomic.Bool
}

// NewPoller creates a poller. Per-attempt timeouts come from cfg, so the client carries none.
func NewPoller(cfg models.FeedConfig, store Store) *Poller {
	p := &Poller{
		cfg:    cfg,
		store:  store,
		client: &http.Client{},
		policy: retry.FromConfig("feed", cfg.Retry),
	}
	if cfg.OGImage {
		p.thumbs = NewThumbnailResolver(p.client, cfg.UserAgent)
	}
	return p
}

// Fetch returns new items, newest first. It never fails: when the feed cannot be
// read the cycle simply sees no items.
//
// Items are scanned from the top until the stored last fingerprint. The survivors are
// filtered against the registry. The stored fingerprint then moves to the newest item,
// except on the very first poll where it is only seeded and nothing is returned.
func (p *Poller) Fetch(ctx context.Context) []models.Item {
	items, err := p.fetchItems(ctx)
	p.healthy.Store(err == nil)
	if err != nil {
		log.Printf("Feed fetch failed: %v", err)
		utils.Warn("Feed", "Fetch", fmt.Sprintf("Feed unavailable this cycle: %v", err))
		return nil
	}
	if len(items) == 0 {
		return nil
	}

	last, err := p.store.LastFingerprint()
	if err != nil {
		log.Printf("Failed to read last fingerprint: %v", err)
		return nil
	}
	newest := items[0].Fingerprint

	if last == "" {
		if err := p.store.SetLastFingerprint(newest); err != nil {
			log.Printf("Failed to seed last fingerprint: %v", err)
			return nil
		}
		log.Printf("Cold start: seeded last fingerprint with %q, %d historical items skipped", items[0].Title, len(items))
		utils.Info("Feed", "Seed", fmt.Sprintf("First poll, seeded with %q; %d existing items not published", items[0].Title, len(items)))
		return nil
	}

	var fresh []models.Item
	for _, it := range items {
		if it.Fingerprint == last {
			break
		}
		match, err := p.store.Seen(it.Fingerprint, it.Title)
		if err != nil {
			// The worker dedups again before publishing; dropping it here would lose it for good.
			log.Printf("Dedup check failed for %q, keeping it: %v", it.Title, err)
			fresh = append(fresh, it)
			continue
		}
		if match != database.MatchNone {
			log.Printf("Skipping %q: already published (matched by %s)", it.Title, match)
			continue
		}
		fresh = append(fresh, it)
	}

	if newest != last {
		if err := p.store.SetLastFingerprint(newest); err != nil {
			log.Printf("Failed to update last fingerprint: %v", err)
		}
	}

	if p.thumbs != nil {
		for i := range fresh {
			if fresh[i].Thumbnail == "" && fresh[i].PageURL != "" {
				fresh[i].Thumbnail = p.thumbs.Resolve(ctx, fresh[i].PageURL)
			}
		}
	}

	log.Printf("Feed returned %d items, %d new", len(items), len(fresh))
	return fresh
}

// Healthy reports whether the last Fetch reached the feed.
func (p *Poller) Healthy() bool {
	return p.healthy.Load()
}

// Ping issues a single request so startup logs show whether the feed is reachable.
func (p *Poller) Ping(ctx context.Context) error {
	start := time.Now()
	_, err := p.get(ctx, 1)
	if err != nil {
		return err
	}
	log.Printf("Feed reachable in %v", time.Since(start).Round(time.Millisecond))
	return nil
}

func (p *Poller) fetchItems(ctx context.Context) ([]models.Item, error) {
	var body []byte
	err := p.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		b, err := p.get(ctx, attempt)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.cfg.Format == "rss" {
		return ParseRSS(body)
	}
	return ParseJSON(body)
}

// get performs one GET. Each attempt gets 30s more than the previous one.
func (p *Poller) get(ctx context.Context, attempt int) ([]byte, error) {
	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	timeout += time.Duration(attempt-1) * 30 * time.Second

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, application/rss+xml, application/atom+xml, */*")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	return body, nil
}

// HTTPStatusError is a non-200 feed response.
type HTTPStatusError struct {
	Code  int
	After time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("feed returned HTTP %d", e.Code)
}

// throttledError is a 429 carrying a Retry-After header.
type throttledError struct{ *HTTPStatusError }

func (e throttledError) RetryAfter() time.Duration { return e.After }
func (e throttledError) Unwrap() error             { return e.HTTPStatusError }

func statusError(resp *http.Response) error {
	e := &HTTPStatusError{Code: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			e.After = time.Duration(secs) * time.Second
			return throttledError{e}
		}
		return e
	case resp.StatusCode >= 500:
		return e
	default:
		return retry.Permanent(e)
	}
}

// IsStatus reports whether err is an HTTPStatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && se.Code == code
}
