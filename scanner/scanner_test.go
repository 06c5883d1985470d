package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"feedrelay/database"
	"feedrelay/models"
)

type feedRecord struct {
	Title  string `json:"title"`
	Magnet string `json:"magnet"`
}

func records(titles ...string) []feedRecord {
	out := make([]feedRecord, len(titles))
	for i, t := range titles {
		out[i] = feedRecord{Title: t, Magnet: "magnet:?xt=urn:btih:" + fmt.Sprint(i)}
	}
	return out
}

// feedServer serves whatever the current pointer holds.
type feedServer struct {
	*httptest.Server
	items     atomic.Value
	hits      atomic.Int32
	userAgent atomic.Value
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{}
	fs.items.Store([]feedRecord{})
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		fs.userAgent.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fs.items.Load())
	}))
	t.Cleanup(fs.Close)
	return fs
}

func newTestPoller(t *testing.T, url string) (*Poller, *database.Registry) {
	t.Helper()
	reg, err := database.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	cfg := models.FeedConfig{
		URL:       url,
		Format:    "json",
		UserAgent: "feedrelay-test",
		Timeout:   5 * time.Second,
		Retry:     models.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1},
	}
	return NewPoller(cfg, reg), reg
}

func titles(items []models.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}

func TestFetchColdStartSeedsWithoutPublishing(t *testing.T) {
	srv := newFeedServer(t)
	srv.items.Store(records("C", "B", "A"))
	p, reg := newTestPoller(t, srv.URL)

	got := p.Fetch(context.Background())
	if len(got) != 0 {
		t.Fatalf("cold start returned %v, want nothing", titles(got))
	}
	last, _ := reg.LastFingerprint()
	if last != models.Fingerprint("C") {
		t.Fatalf("last fingerprint = %q, want fingerprint of newest item", last)
	}
	if ua, _ := srv.userAgent.Load().(string); ua != "feedrelay-test" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestFetchStopsAtLastFingerprint(t *testing.T) {
	srv := newFeedServer(t)
	srv.items.Store(records("C", "B", "A"))
	p, reg := newTestPoller(t, srv.URL)
	p.Fetch(context.Background())

	srv.items.Store(records("E", "D", "C", "B", "A"))
	got := p.Fetch(context.Background())
	if fmt.Sprint(titles(got)) != "[E D]" {
		t.Fatalf("got %v, want [E D]", titles(got))
	}
	last, _ := reg.LastFingerprint()
	if last != models.Fingerprint("E") {
		t.Fatalf("last fingerprint not advanced")
	}

	// Nothing new: no items and the cut-off stays.
	if got := p.Fetch(context.Background()); len(got) != 0 {
		t.Fatalf("second poll returned %v", titles(got))
	}
}

func TestFetchFiltersPublishedItems(t *testing.T) {
	srv := newFeedServer(t)
	srv.items.Store(records("A"))
	p, reg := newTestPoller(t, srv.URL)
	p.Fetch(context.Background())

	reg.InsertRecord(models.UploadRecord{Token: "t1", Fingerprint: models.Fingerprint("D"), Title: "D", Name: "D.mp4", ChannelID: "c", MessageID: "1"})
	reg.InsertRecord(models.UploadRecord{Token: "t2", Fingerprint: "legacy-hash", Title: "C", Name: "C.mp4", ChannelID: "c", MessageID: "2"})

	srv.items.Store(records("E", "D", "C", "B", "A"))
	got := p.Fetch(context.Background())
	if fmt.Sprint(titles(got)) != "[E B]" {
		t.Fatalf("got %v, want [E B]", titles(got))
	}
}

// flakyStore fails the dedup lookup for one title.
type flakyStore struct {
	*database.Registry
	failTitle string
}

func (s flakyStore) Seen(fingerprint, title string) (database.DedupMatch, error) {
	if title == s.failTitle {
		return database.MatchNone, errors.New("database is locked")
	}
	return s.Registry.Seen(fingerprint, title)
}

func TestFetchKeepsItemWhenDedupFails(t *testing.T) {
	srv := newFeedServer(t)
	srv.items.Store(records("A"))
	p, reg := newTestPoller(t, srv.URL)
	p.Fetch(context.Background())
	p.store = flakyStore{Registry: reg, failTitle: "C"}

	srv.items.Store(records("D", "C", "B", "A"))
	got := p.Fetch(context.Background())
	if fmt.Sprint(titles(got)) != "[D C B]" {
		t.Fatalf("got %v, want [D C B]", titles(got))
	}
	last, _ := reg.LastFingerprint()
	if last != models.Fingerprint("D") {
		t.Errorf("last fingerprint not advanced")
	}
}

func TestFetchFailureYieldsNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, reg := newTestPoller(t, srv.URL)
	reg.SetLastFingerprint("existing")

	if got := p.Fetch(context.Background()); got != nil {
		t.Fatalf("expected nil on failure, got %v", titles(got))
	}
	if hits.Load() != 3 {
		t.Errorf("server hit %d times, want 3", hits.Load())
	}
	if last, _ := reg.LastFingerprint(); last != "existing" {
		t.Errorf("last fingerprint changed to %q", last)
	}
}

func TestFetchClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := newTestPoller(t, srv.URL)
	p.Fetch(context.Background())
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestFetchRecoversAfterTransientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(records("B", "A"))
	}))
	defer srv.Close()

	p, reg := newTestPoller(t, srv.URL)
	reg.SetLastFingerprint(models.Fingerprint("A"))

	got := p.Fetch(context.Background())
	if fmt.Sprint(titles(got)) != "[B]" {
		t.Fatalf("got %v, want [B]", titles(got))
	}
}
