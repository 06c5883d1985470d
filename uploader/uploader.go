// Package uploader publishes a prepared file to the messaging platform, splitting it in
// two when it is over the size ceiling, and records a redemption token per part.
package uploader

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"feedrelay/models"
	"feedrelay/retry"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// DefaultSplitThreshold is the platform's hard per-file ceiling.
const DefaultSplitThreshold int64 = 2 << 30

// Document is one file handed to the messenger.
type Document struct {
	Name      string
	Caption   string
	Token     string // carried by the redeem button under the post
	Thumbnail string
	Size      int64
	Reader    io.Reader
}

// Messenger is the outbound platform operation the uploader needs.
type Messenger interface {
	SendDocument(ctx context.Context, channelID string, doc Document) (messageID string, err error)
}

// RecordStore persists upload records.
type RecordStore interface {
	InsertRecord(rec models.UploadRecord) (bool, error)
	RecordsByFingerprint(fingerprint string) ([]models.UploadRecord, error)
}

// Meta describes what is being published.
type Meta struct {
	Fingerprint string
	Title       string
	Caption     string
	Thumbnail   string
	ChannelID   string
}

// UploadError means a part could not be sent after every retry. It is never recorded
// as a permanent failure.
type UploadError struct {
	Name string
	Part int
	Err  error
}

func (e *UploadError) Error() string {
	if e.Part > 0 {
		return fmt.Sprintf("upload of %s (part %d) failed: %v", e.Name, e.Part, e.Err)
	}
	return fmt.Sprintf("upload of %s failed: %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Engine uploads files.
type Engine struct {
	threshold int64
	tempDir   string
	fs        afero.Fs
	messenger Messenger
	store     RecordStore
	policy    retry.Policy
	newToken  func() string
	now       func() time.Time
}

// NewEngine creates an upload engine.
func NewEngine(cfg models.UploadConfig, fs afero.Fs, messenger Messenger, store RecordStore) *Engine {
	threshold := cfg.SplitThreshold
	if threshold <= 0 {
		threshold = DefaultSplitThreshold
	}
	return &Engine{
		threshold: threshold,
		tempDir:   cfg.TempDir,
		fs:        fs,
		messenger: messenger,
		store:     store,
		policy:    retry.FromConfig("upload", cfg.Retry),
		newToken:  NewToken,
		now:       time.Now,
	}
}

// NewToken returns 32 random hex characters.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type part struct {
	index int // 0 when the file was not split
	path  string
	name  string
	size  int64
}

// Upload sends path to meta.ChannelID and returns one record per part. Parts already
// recorded for the fingerprint are not sent again.
func (e *Engine) Upload(ctx context.Context, path string, meta Meta) ([]models.UploadRecord, error) {
	info, err := e.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	existing, err := e.store.RecordsByFingerprint(meta.Fingerprint)
	if err != nil {
		return nil, err
	}
	done := make(map[int]models.UploadRecord, len(existing))
	for _, rec := range existing {
		done[rec.Part] = rec
	}

	parts := []part{{path: path, name: filepath.Base(path), size: info.Size()}}
	if info.Size() > e.threshold {
		parts, err = e.split(path, info.Size())
		defer e.cleanup(parts)
		if err != nil {
			return nil, err
		}
		log.Printf("Split %s (%d bytes) into %d and %d bytes", filepath.Base(path), info.Size(), parts[0].size, parts[1].size)
	}

	var records []models.UploadRecord
	for _, p := range parts {
		if rec, ok := done[p.index]; ok {
			log.Printf("Part %d of %s already published as %s, skipping", p.index, meta.Title, rec.MessageID)
			records = append(records, rec)
			continue
		}
		rec, err := e.send(ctx, p, meta, len(parts))
		if err != nil {
			return records, &UploadError{Name: p.name, Part: p.index, Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (e *Engine) send(ctx context.Context, p part, meta Meta, total int) (models.UploadRecord, error) {
	token := e.newToken()
	caption := meta.Caption
	if total > 1 {
		caption = fmt.Sprintf("%s\nPart %d/%d", caption, p.index, total)
	}

	var messageID string
	err := e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		f, err := e.fs.Open(p.path)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to open %s: %w", p.path, err))
		}
		defer f.Close()

		id, err := e.messenger.SendDocument(ctx, meta.ChannelID, Document{
			Name:      p.name,
			Caption:   caption,
			Token:     token,
			Thumbnail: meta.Thumbnail,
			Size:      p.size,
			Reader:    f,
		})
		if err != nil {
			return err
		}
		messageID = id
		return nil
	})
	if err != nil {
		return models.UploadRecord{}, err
	}

	rec := models.UploadRecord{
		Token:       token,
		Fingerprint: meta.Fingerprint,
		Part:        p.index,
		Parts:       total,
		Title:       meta.Title,
		Name:        p.name,
		ChannelID:   meta.ChannelID,
		MessageID:   messageID,
		Size:        p.size,
		CreatedAt:   e.now(),
	}
	inserted, err := e.store.InsertRecord(rec)
	if err != nil {
		return rec, fmt.Errorf("sent %s but failed to record it: %w", p.name, err)
	}
	if !inserted {
		log.Printf("Record for %s part %d already existed, keeping the original", meta.Fingerprint, p.index)
	}
	return rec, nil
}

// split writes the first size/2 bytes and the remainder of path to two temp files.
func (e *Engine) split(path string, size int64) ([]part, error) {
	if err := e.fs.MkdirAll(e.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	src, err := e.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	first := size / 2
	sizes := []int64{first, size - first}

	parts := make([]part, 0, 2)
	for i, n := range sizes {
		name := fmt.Sprintf("%s.part%d%s", stem, i+1, ext)
		p := part{index: i + 1, path: filepath.Join(e.tempDir, name), name: name, size: n}
		parts = append(parts, p)
		if err := e.writePart(src, p); err != nil {
			return parts, err
		}
	}
	return parts, nil
}

func (e *Engine) writePart(src io.Reader, p part) error {
	dst, err := e.fs.Create(p.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", p.path, err)
	}
	written, err := io.CopyN(dst, src, p.size)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s (%d of %d bytes): %w", p.name, written, p.size, err)
	}
	return nil
}

func (e *Engine) cleanup(parts []part) {
	var result *multierror.Error
	for _, p := range parts {
		if err := e.fs.Remove(p.path); err != nil {
			if exists, _ := afero.Exists(e.fs, p.path); exists {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Printf("Failed to clean up split parts: %v", err)
	}
}
