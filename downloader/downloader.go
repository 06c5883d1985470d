// Package downloader fetches the largest video file of one swarm descriptor (or a direct URL)
// into the save directory.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"feedrelay/models"
	"feedrelay/progress"
	"feedrelay/retry"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

var (
	// ErrMetadataTimeout means the swarm never delivered the payload description.
	ErrMetadataTimeout = errors.New("metadata timeout")
	// ErrStall means the transfer stopped making progress.
	ErrStall = errors.New("download stalled")
)

// IsPermanent reports whether err should mark the item as failed for good.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMetadataTimeout) || errors.Is(err, ErrStall)
}

// State is a step of the transfer state machine.
type State string

const (
	StateInit             State = "init"
	StateAwaitingMetadata State = "awaiting_metadata"
	StateTransferring     State = "transferring"
	StateComplete         State = "complete"
	StateAborted          State = "aborted"
)

// Transfer is one swarm download in progress.
type Transfer interface {
	GotInfo() <-chan struct{}
	Name() string
	Files() []FileInfo
	// Download starts fetching the file at path; "" fetches the whole payload.
	Download(path string)
	// Completed returns verified bytes of the file at path, or of the whole payload for "".
	Completed(path string) int64
	// BytesRead is the running total of payload bytes received from peers.
	BytesRead() int64
	Peers() int
	Drop()
}

// Swarm starts transfers.
type Swarm interface {
	AddMagnet(uri string) (Transfer, error)
	DataDir() string
}

// Config tunes the engine. Zero durations fall back to the defaults below.
type Config struct {
	SaveDir         string
	MetadataTimeout time.Duration
	MetadataLog     time.Duration
	PollInterval    time.Duration
	StallTimeout    time.Duration
	StallFloor      int64
	MaxNameLength   int
	HTTPTimeout     time.Duration
}

// ConfigFrom maps the download settings onto Config.
func ConfigFrom(c models.DownloadConfig) Config {
	return Config{
		SaveDir:         c.Dir,
		MetadataTimeout: c.MetadataTimeout,
		MetadataLog:     c.MetadataLog,
		PollInterval:    c.PollInterval,
		StallTimeout:    c.StallTimeout,
		StallFloor:      c.StallFloor,
		MaxNameLength:   c.MaxNameLength,
		HTTPTimeout:     c.HTTPTimeout,
	}
}

func (c *Config) setDefaults() {
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = 90 * time.Second
	}
	if c.MetadataLog <= 0 {
		c.MetadataLog = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 300 * time.Second
	}
	if c.StallFloor <= 0 {
		c.StallFloor = 1024
	}
	if c.MaxNameLength <= 0 {
		c.MaxNameLength = defaultMaxNameLength
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Minute
	}
}

// Result is the file left in the save directory.
type Result struct {
	Path string
	Name string
	Size int64
}

// Engine runs downloads one at a time.
type Engine struct {
	cfg    Config
	swarm  Swarm
	fs     afero.Fs
	client *http.Client
	policy retry.Policy
	now    func() time.Time
}

// NewEngine creates an engine. swarm may be nil when only direct URLs are expected.
func NewEngine(cfg Config, swarm Swarm, fs afero.Fs) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:    cfg,
		swarm:  swarm,
		fs:     fs,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		policy: retry.Default("download"),
		now:    time.Now,
	}
}

// Download fetches d and moves the chosen file into the save directory.
// title names the progress events.
func (e *Engine) Download(ctx context.Context, d models.Descriptor, title string, sink progress.Sink) (*Result, error) {
	if err := e.fs.MkdirAll(e.cfg.SaveDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create save dir: %w", err)
	}
	switch d.Kind {
	case models.DescriptorMagnet:
		return e.downloadMagnet(ctx, d.URI, title, sink)
	case models.DescriptorURL:
		return e.downloadURL(ctx, d.URI, title, sink)
	default:
		return nil, fmt.Errorf("unsupported descriptor kind %q", d.Kind)
	}
}

func (e *Engine) downloadMagnet(ctx context.Context, uri, title string, sink progress.Sink) (*Result, error) {
	if e.swarm == nil {
		return nil, fmt.Errorf("no swarm client configured")
	}
	state := StateInit
	t, err := e.swarm.AddMagnet(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to add magnet: %w", err)
	}
	defer t.Drop()

	state = StateAwaitingMetadata
	if err := e.awaitMetadata(ctx, t, title, sink); err != nil {
		log.Printf("Download of %q aborted in state %s: %v", title, state, err)
		return nil, err
	}

	files := t.Files()
	target, ok := SelectVideo(files)
	fileKey := target.Path
	if !ok {
		log.Printf("No video file in %q, falling back to the payload name", t.Name())
		target = FileInfo{Path: t.Name()}
		for _, f := range files {
			target.Length += f.Length
		}
		fileKey = ""
	}

	state = StateTransferring
	t.Download(fileKey)
	if err := e.transfer(ctx, t, fileKey, target.Length, title, sink); err != nil {
		state = StateAborted
		log.Printf("Download of %q aborted in state %s: %v", title, state, err)
		return nil, err
	}

	// Release the swarm's file handles before moving the file.
	t.Drop()
	state = StateComplete

	src := filepath.Join(e.swarm.DataDir(), filepath.FromSlash(target.Path))
	res, err := e.finalize(src, e.swarm.DataDir())
	if err != nil {
		return nil, err
	}
	log.Printf("Download of %q reached state %s: %s (%d bytes)", title, state, res.Path, res.Size)
	return res, nil
}

// awaitMetadata blocks until the payload description arrives, reporting liveness meanwhile.
func (e *Engine) awaitMetadata(ctx context.Context, t Transfer, title string, sink progress.Sink) error {
	timeout := time.NewTimer(e.cfg.MetadataTimeout)
	defer timeout.Stop()
	tick := time.NewTicker(e.cfg.MetadataLog)
	defer tick.Stop()

	start := e.now()
	meter := rateMeter{at: start, read: t.BytesRead()}
	progress.Emit(ctx, sink, models.ProgressEvent{Title: title, Stage: models.StageMetadata})
	for {
		select {
		case <-t.GotInfo():
			log.Printf("Metadata for %q resolved after %v", title, e.now().Sub(start).Round(time.Second))
			return nil
		case <-tick.C:
			now := e.now()
			peers := t.Peers()
			rate := meter.sample(now, t.BytesRead())
			log.Printf("Waiting for metadata of %q: %d peers, %s/s, %v elapsed", title, peers, humanize.IBytes(uint64(rate)), now.Sub(start).Round(time.Second))
			progress.Emit(ctx, sink, models.ProgressEvent{Title: title, Stage: models.StageMetadata, Peers: peers, Rate: rate})
		case <-timeout.C:
			return fmt.Errorf("%w after %v", ErrMetadataTimeout, e.cfg.MetadataTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// rateMeter turns successive byte counters into a per-second rate.
type rateMeter struct {
	at   time.Time
	read int64
}

func (m *rateMeter) sample(now time.Time, read int64) int64 {
	var rate int64
	if elapsed := now.Sub(m.at).Seconds(); elapsed > 0 && read > m.read {
		rate = int64(float64(read-m.read) / elapsed)
	}
	m.at, m.read = now, read
	return rate
}

// transfer polls the swarm until the file is complete or the transfer stalls.
// The stall clock restarts whenever the best progress seen grows or the read rate
// is at or above the floor.
func (e *Engine) transfer(ctx context.Context, t Transfer, fileKey string, total int64, title string, sink progress.Sink) error {
	tick := time.NewTicker(e.cfg.PollInterval)
	defer tick.Stop()

	meter := rateMeter{at: e.now(), read: t.BytesRead()}
	lastActive := meter.at
	var best int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}

		now := e.now()
		done := t.Completed(fileKey)
		rate := meter.sample(now, t.BytesRead())

		if total > 0 && done >= total {
			progress.Emit(ctx, sink, models.ProgressEvent{Title: title, Stage: models.StageDownloading, Percent: 100, Done: done, Total: total, Peers: t.Peers()})
			return nil
		}

		if done > best {
			best = done
			lastActive = now
		} else if rate >= e.cfg.StallFloor {
			lastActive = now
		} else if now.Sub(lastActive) > e.cfg.StallTimeout {
			return fmt.Errorf("%w: stuck at %s for %v", ErrStall, percentString(best, total), now.Sub(lastActive).Round(time.Second))
		}

		var pct float64
		if total > 0 {
			pct = float64(best) / float64(total) * 100
		}
		progress.Emit(ctx, sink, models.ProgressEvent{
			Title:   title,
			Stage:   models.StageDownloading,
			Percent: pct,
			Done:    best,
			Total:   total,
			Rate:    rate,
			Peers:   t.Peers(),
		})
	}
}

// finalize moves src into the save dir under a sanitized, unique name.
// When src is a directory or missing, the largest video under root is used instead.
func (e *Engine) finalize(src, root string) (*Result, error) {
	info, err := e.fs.Stat(src)
	if err != nil || info.IsDir() {
		searchRoot := root
		if err == nil {
			searchRoot = src
		}
		found, ferr := largestFile(e.fs, searchRoot)
		if ferr != nil {
			return nil, fmt.Errorf("downloaded file not found at %s: %w", src, ferr)
		}
		log.Printf("Selected file missing, using %s found under %s", found, searchRoot)
		src = found
		if info, err = e.fs.Stat(src); err != nil {
			return nil, err
		}
	}

	name := SanitizeFilename(filepath.Base(src), e.cfg.MaxNameLength)
	dst, err := UniquePath(e.fs, e.cfg.SaveDir, name)
	if err != nil {
		return nil, err
	}
	if err := moveFile(e.fs, src, dst); err != nil {
		return nil, fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return &Result{Path: dst, Name: filepath.Base(dst), Size: info.Size()}, nil
}

// downloadURL streams a direct media URL into the save dir.
func (e *Engine) downloadURL(ctx context.Context, rawURL, title string, sink progress.Sink) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}
	name := path.Base(u.Path)
	if !IsVideo(name) {
		name = title + ".mp4"
	}
	dst, err := UniquePath(e.fs, e.cfg.SaveDir, SanitizeFilename(name, e.cfg.MaxNameLength))
	if err != nil {
		return nil, err
	}

	var size int64
	err = e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		n, err := e.fetchURL(ctx, rawURL, dst, title, sink)
		if err != nil {
			e.fs.Remove(dst)
			return err
		}
		size = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Path: dst, Name: filepath.Base(dst), Size: size}, nil
}

func (e *Engine) fetchURL(ctx context.Context, rawURL, dst, title string, sink progress.Sink) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, retry.Permanent(err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("media url returned HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return 0, retry.Permanent(err)
		}
		return 0, err
	}

	f, err := e.fs.Create(dst)
	if err != nil {
		return 0, retry.Permanent(err)
	}
	defer f.Close()

	w := &countingWriter{ctx: ctx, sink: sink, title: title, total: resp.ContentLength}
	n, err := io.Copy(f, io.TeeReader(resp.Body, w))
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", dst, err)
	}
	progress.Emit(ctx, sink, models.ProgressEvent{Title: title, Stage: models.StageDownloading, Percent: 100, Done: n, Total: n})
	return n, nil
}

type countingWriter struct {
	ctx   context.Context
	sink  progress.Sink
	title string
	total int64
	done  int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	var pct float64
	if w.total > 0 {
		pct = float64(w.done) / float64(w.total) * 100
	}
	progress.Emit(w.ctx, w.sink, models.ProgressEvent{Title: w.title, Stage: models.StageDownloading, Percent: pct, Done: w.done, Total: w.total})
	return len(p), nil
}

func percentString(done, total int64) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(done)/float64(total)*100)
}

// largestFile walks root for the biggest video file, or the biggest file of any kind
// when there is no video.
func largestFile(fs afero.Fs, root string) (string, error) {
	var video, other string
	var videoSize, otherSize int64 = -1, -1
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if IsVideo(p) && info.Size() > videoSize {
			video, videoSize = p, info.Size()
		}
		if info.Size() > otherSize {
			other, otherSize = p, info.Size()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if video != "" {
		return video, nil
	}
	if other != "" {
		return other, nil
	}
	return "", os.ErrNotExist
}

// moveFile renames src to dst, copying when a rename is not possible.
func moveFile(fs afero.Fs, src, dst string) error {
	if err := fs.Rename(src, dst); err == nil {
		return nil
	}
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		fs.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return fs.Remove(src)
}
