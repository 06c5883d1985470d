// Package export writes an RSS feed of the most recent uploads.
package export

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"feedrelay/models"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/feeds"
	"github.com/spf13/afero"
)

// Source supplies published records, newest first.
type Source interface {
	RecentRecords(limit int) ([]models.UploadRecord, error)
}

// Exporter renders records as RSS 2.0.
type Exporter struct {
	cfg    models.ExportConfig
	fs     afero.Fs
	source Source
	now    func() time.Time
}

// New creates an exporter.
func New(cfg models.ExportConfig, fs afero.Fs, source Source) *Exporter {
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.Title == "" {
		cfg.Title = "feedrelay"
	}
	return &Exporter{cfg: cfg, fs: fs, source: source, now: time.Now}
}

// Enabled reports whether an output path is configured.
func (x *Exporter) Enabled() bool {
	return x.cfg.RSSPath != ""
}

// Render builds the feed document.
func (x *Exporter) Render() (string, error) {
	records, err := x.source.RecentRecords(x.cfg.Limit)
	if err != nil {
		return "", fmt.Errorf("failed to load records for export: %w", err)
	}

	now := x.now()
	feed := &feeds.Feed{
		Title:       x.cfg.Title,
		Description: "Recently published files",
		Link:        &feeds.Link{Href: x.cfg.Link},
		Created:     now,
		Updated:     now,
	}
	for _, rec := range records {
		title := rec.Name
		if rec.Title != "" {
			title = rec.Title
			if rec.Parts > 1 {
				title = fmt.Sprintf("%s (part %d/%d)", rec.Title, rec.Part, rec.Parts)
			}
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Title:       title,
			Link:        &feeds.Link{Href: x.cfg.Link},
			Id:          "feedrelay:" + rec.Token,
			Description: fmt.Sprintf("%s, redeem with /get token:%s", humanize.IBytes(uint64(rec.Size)), rec.Token),
			Created:     rec.CreatedAt,
		})
	}
	return feed.ToRss()
}

// Write renders the feed and replaces the configured file. It does nothing when no
// path is configured.
func (x *Exporter) Write() error {
	if !x.Enabled() {
		return nil
	}
	doc, err := x.Render()
	if err != nil {
		return err
	}

	if err := x.fs.MkdirAll(filepath.Dir(x.cfg.RSSPath), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	tmp := x.cfg.RSSPath + ".tmp"
	if err := afero.WriteFile(x.fs, tmp, []byte(doc), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := x.fs.Rename(tmp, x.cfg.RSSPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", x.cfg.RSSPath, err)
	}
	log.Printf("Exported feed to %s", x.cfg.RSSPath)
	return nil
}
