package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feedrelay/models"

	"github.com/spf13/afero"
)

// fakeTransfer is driven by the test through its fields.
type fakeTransfer struct {
	mu        sync.Mutex
	info      chan struct{}
	name      string
	files     []FileInfo
	completed int64
	read      int64
	peers     int
	readStep  int64 // added to read on every BytesRead poll
	started   string
	dropped   atomic.Int32
	// advance is called on every Completed poll.
	advance func(f *fakeTransfer)
}

func (f *fakeTransfer) GotInfo() <-chan struct{} { return f.info }
func (f *fakeTransfer) Name() string             { return f.name }
func (f *fakeTransfer) Files() []FileInfo        { return f.files }
func (f *fakeTransfer) Peers() int               { return f.peers }
func (f *fakeTransfer) Drop()                    { f.dropped.Add(1) }
func (f *fakeTransfer) Download(path string)     { f.started = path }

func (f *fakeTransfer) Completed(path string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advance != nil {
		f.advance(f)
	}
	return f.completed
}

func (f *fakeTransfer) BytesRead() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read += f.readStep
	return f.read
}

type fakeSwarm struct {
	dataDir  string
	transfer *fakeTransfer
}

func (s *fakeSwarm) AddMagnet(uri string) (Transfer, error) { return s.transfer, nil }
func (s *fakeSwarm) DataDir() string                        { return s.dataDir }

type recordingSink struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *recordingSink) Emit(ctx context.Context, ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func fastConfig() Config {
	return Config{
		SaveDir:         "/save",
		MetadataTimeout: 100 * time.Millisecond,
		MetadataLog:     10 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		StallTimeout:    60 * time.Millisecond,
		StallFloor:      1024,
	}
}

func magnet() models.Descriptor {
	return models.Descriptor{Kind: models.DescriptorMagnet, URI: "magnet:?xt=urn:btih:test"}
}

func TestMetadataTimeout(t *testing.T) {
	fs := afero.NewMemMapFs()
	tr := &fakeTransfer{info: make(chan struct{}), peers: 3}
	sink := &recordingSink{}
	e := NewEngine(fastConfig(), &fakeSwarm{dataDir: "/swarm", transfer: tr}, fs)

	_, err := e.Download(context.Background(), magnet(), "item", sink)
	if !errors.Is(err, ErrMetadataTimeout) {
		t.Fatalf("expected ErrMetadataTimeout, got %v", err)
	}
	if !IsPermanent(err) {
		t.Error("metadata timeout should be permanent")
	}
	if tr.dropped.Load() == 0 {
		t.Error("transfer should be dropped on abort")
	}
	if len(sink.events) < 2 {
		t.Errorf("expected liveness events while waiting, got %d", len(sink.events))
	}
	for _, ev := range sink.events {
		if ev.Stage != models.StageMetadata || ev.Percent != 0 {
			t.Errorf("unexpected event while awaiting metadata: %+v", ev)
		}
	}
}

func TestMetadataWaitReportsRate(t *testing.T) {
	fs := afero.NewMemMapFs()
	tr := &fakeTransfer{info: make(chan struct{}), peers: 2, readStep: 4096}
	sink := &recordingSink{}
	e := NewEngine(fastConfig(), &fakeSwarm{dataDir: "/swarm", transfer: tr}, fs)

	if _, err := e.Download(context.Background(), magnet(), "item", sink); !errors.Is(err, ErrMetadataTimeout) {
		t.Fatalf("expected ErrMetadataTimeout, got %v", err)
	}
	var withRate int
	for _, ev := range sink.events {
		if ev.Rate > 0 {
			withRate++
		}
	}
	if withRate == 0 {
		t.Errorf("no metadata event carried a rate: %+v", sink.events)
	}
}

func TestStallAborts(t *testing.T) {
	fs := afero.NewMemMapFs()
	info := make(chan struct{})
	close(info)
	tr := &fakeTransfer{
		info:  info,
		name:  "pack",
		files: []FileInfo{{Path: "pack/movie.mkv", Length: 1000}},
		// Stuck at 10% with no bytes arriving.
		completed: 100,
	}
	e := NewEngine(fastConfig(), &fakeSwarm{dataDir: "/swarm", transfer: tr}, fs)

	_, err := e.Download(context.Background(), magnet(), "item", nil)
	if !errors.Is(err, ErrStall) {
		t.Fatalf("expected ErrStall, got %v", err)
	}
	if !IsPermanent(err) {
		t.Error("stall should be permanent")
	}
	if tr.started != "pack/movie.mkv" {
		t.Errorf("started %q, want the selected video", tr.started)
	}
}

func TestSlowButSteadyTransferIsNotAborted(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/swarm/pack/movie.mkv", make([]byte, 1000), 0644)
	info := make(chan struct{})
	close(info)

	polls := 0
	tr := &fakeTransfer{
		info:  info,
		name:  "pack",
		files: []FileInfo{{Path: "pack/movie.mkv", Length: 1000}},
		advance: func(f *fakeTransfer) {
			// One byte per poll for a while, then finish; total time well past the stall timeout.
			polls++
			if polls < 40 {
				f.completed++
				return
			}
			f.completed = 1000
		},
	}
	e := NewEngine(fastConfig(), &fakeSwarm{dataDir: "/swarm", transfer: tr}, fs)

	res, err := e.Download(context.Background(), magnet(), "item", nil)
	if err != nil {
		t.Fatalf("steady transfer aborted: %v", err)
	}
	if res.Path != "/save/movie.mkv" || res.Size != 1000 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCompletedTransferNeverStalls(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/swarm/clip.mp4", make([]byte, 10), 0644)
	info := make(chan struct{})
	close(info)
	tr := &fakeTransfer{
		info:      info,
		name:      "clip.mp4",
		files:     []FileInfo{{Path: "clip.mp4", Length: 10}},
		completed: 10,
	}
	cfg := fastConfig()
	cfg.StallTimeout = time.Nanosecond
	e := NewEngine(cfg, &fakeSwarm{dataDir: "/swarm", transfer: tr}, fs)

	if _, err := e.Download(context.Background(), magnet(), "item", nil); err != nil {
		t.Fatalf("complete transfer aborted: %v", err)
	}
}

func TestCompletionRenamesAndDisambiguates(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/swarm/Pack/Ünïcode: Movie?.MKV", []byte("video"), 0644)
	afero.WriteFile(fs, "/swarm/Pack/sample.mp4", []byte("s"), 0644)
	afero.WriteFile(fs, "/save/Unicode_ Movie.mkv", []byte("existing"), 0644)
	info := make(chan struct{})
	close(info)
	tr := &fakeTransfer{
		info: info,
		name: "Pack",
		files: []FileInfo{
			{Path: "Pack/sample.mp4", Length: 1},
			{Path: "Pack/Ünïcode: Movie?.MKV", Length: 5},
			{Path: "Pack/readme.txt", Length: 50},
		},
		completed: 5,
	}
	e := NewEngine(fastConfig(), &fakeSwarm{dataDir: "/swarm", transfer: tr}, fs)

	res, err := e.Download(context.Background(), magnet(), "item", nil)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if want := filepath.Join("/save", "Unicode_ Movie_1.mkv"); res.Path != want {
		t.Errorf("path = %q, want %q", res.Path, want)
	}
	if ok, _ := afero.Exists(fs, "/swarm/Pack/Ünïcode: Movie?.MKV"); ok {
		t.Error("source should have been moved")
	}
}

func TestFallbackToPayloadName(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/swarm/archive/data.bin", make([]byte, 7), 0644)
	info := make(chan struct{})
	close(info)
	tr := &fakeTransfer{
		info:      info,
		name:      "archive",
		files:     []FileInfo{{Path: "archive/data.bin", Length: 7}},
		completed: 7,
	}
	e := NewEngine(fastConfig(), &fakeSwarm{dataDir: "/swarm", transfer: tr}, fs)

	res, err := e.Download(context.Background(), magnet(), "item", nil)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if tr.started != "" {
		t.Errorf("expected the whole payload to be requested, got %q", tr.started)
	}
	if res.Name != "data.bin" {
		t.Errorf("name = %q", res.Name)
	}
}

func TestDownloadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	e := NewEngine(fastConfig(), nil, fs)
	sink := &recordingSink{}

	res, err := e.Download(context.Background(), models.Descriptor{Kind: models.DescriptorURL, URI: srv.URL + "/media/clip.mp4"}, "Clip", sink)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if res.Path != "/save/clip.mp4" || res.Size != 10 {
		t.Errorf("unexpected result %+v", res)
	}
	data, _ := afero.ReadFile(fs, res.Path)
	if string(data) != "0123456789" {
		t.Errorf("content = %q", data)
	}
	if len(sink.events) == 0 || sink.events[len(sink.events)-1].Percent != 100 {
		t.Errorf("expected a final 100%% event, got %+v", sink.events)
	}
}

func TestDownloadURLClientErrorIsNotPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := NewEngine(fastConfig(), nil, afero.NewMemMapFs())
	_, err := e.Download(context.Background(), models.Descriptor{Kind: models.DescriptorURL, URI: srv.URL + "/x.mp4"}, "X", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if IsPermanent(err) {
		t.Error("http errors are not swarm failures")
	}
}
