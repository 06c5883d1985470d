package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"feedrelay/database"
	"feedrelay/downloader"
	"feedrelay/models"
	"feedrelay/progress"
	"feedrelay/uploader"
	"feedrelay/utils"

	"github.com/dustin/go-humanize"
)

type outcome int

const (
	outcomePublished outcome = iota
	outcomeSkipped           // already published or already failed
	outcomeFailed            // permanent swarm failure, recorded
	outcomeRetry             // transient failure, worth another cycle
)

// process runs one item end to end. It never returns an error: every failure is
// classified, logged and reported so the cycle moves on to the next item.
func (w *Worker) process(ctx context.Context, item models.Item, result *CycleResult) outcome {
	if skip, why := w.alreadyHandled(item); skip {
		log.Printf("Skipping %q: %s", item.Title, why)
		w.markProcessed(item)
		return outcomeSkipped
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		result.Errors++
		return outcomeRetry
	}
	defer w.sem.Release(1)

	if w.Status != nil {
		w.Status.Update(func(s *models.Status) { s.CurrentItem = item.Title })
	}
	log.Printf("Processing %q (%s)", item.Title, item.Fingerprint)

	reporter := progress.NewReporter(w.opts.Progress.Buffer, w.opts.Progress.MinInterval, w.opts.Progress.MinDelta)
	view := w.Notifier.Progress(ctx, item.Title)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		progress.Consume(ctx, reporter.Events(), func(ev models.ProgressEvent) {
			if view != nil {
				view.Update(ctx, ev)
			}
		})
	}()
	defer func() {
		reporter.Close()
		<-consumed
		if view != nil {
			view.Close(ctx)
		}
		if n := reporter.Dropped(); n > 0 {
			log.Printf("Dropped %d progress updates for %q", n, item.Title)
		}
		w.purge()
	}()

	res, err := w.download(ctx, item, reporter)
	if err != nil {
		if downloader.IsPermanent(err) {
			w.recordFailure(ctx, item, err)
			result.Failed++
			return outcomeFailed
		}
		log.Printf("Download of %q failed, will retry later: %v", item.Title, err)
		w.Notifier.Failed(ctx, item, err)
		result.Errors++
		return outcomeRetry
	}

	path := w.Preparer.Prepare(ctx, res.Path, item.Title, reporter)

	progress.Emit(ctx, reporter, models.ProgressEvent{Title: item.Title, Stage: models.StageUploading})
	records, err := w.Uploader.Upload(ctx, path, uploader.Meta{
		Fingerprint: item.Fingerprint,
		Title:       item.Title,
		Caption:     Caption(item, res.Size),
		Thumbnail:   item.Thumbnail,
		ChannelID:   w.opts.PublishChannelID,
	})
	if err != nil {
		log.Printf("Upload of %q failed, not blacklisted: %v", item.Title, err)
		utils.Error("Worker", "Upload", fmt.Sprintf("%s: %v", item.Title, err))
		w.Notifier.Failed(ctx, item, err)
		result.Errors++
		return outcomeRetry
	}

	if _, err := w.Limiter.RecordPublish(); err != nil {
		log.Printf("Failed to count publish of %q: %v", item.Title, err)
	}
	w.markProcessed(item)
	progress.Emit(ctx, reporter, models.ProgressEvent{Title: item.Title, Stage: models.StageDone, Percent: 100})
	w.Notifier.Published(ctx, item, records)
	result.Published++
	return outcomePublished
}

// alreadyHandled is the idempotence gate: a fully recorded upload or a recorded swarm failure
// means the item is done.
func (w *Worker) alreadyHandled(item models.Item) (bool, string) {
	failed, err := w.Store.IsFailed(item.Fingerprint)
	if err != nil {
		log.Printf("Failed-download lookup for %q failed: %v", item.Title, err)
	} else if failed {
		return true, "download failed permanently before"
	}
	match, err := w.Store.Seen(item.Fingerprint, item.Title)
	if err != nil {
		log.Printf("Dedup lookup for %q failed: %v", item.Title, err)
		return false, ""
	}
	if match != database.MatchNone {
		return true, "already published (matched by " + string(match) + ")"
	}
	return false, ""
}

// download tries each descriptor in order. The error is permanent only when every
// descriptor failed permanently.
func (w *Worker) download(ctx context.Context, item models.Item, sink progress.Sink) (*downloader.Result, error) {
	if len(item.Descriptors) == 0 {
		return nil, errors.New("item has no descriptor")
	}
	var errs []error
	permanent := true
	for _, d := range ordered(item) {
		res, err := w.Downloader.Download(ctx, d, item.Title, sink)
		if err == nil {
			return res, nil
		}
		log.Printf("Descriptor %s of %q failed: %v", d.Kind, item.Title, err)
		errs = append(errs, err)
		if !downloader.IsPermanent(err) {
			permanent = false
		}
		if ctx.Err() != nil {
			break
		}
	}
	err := errors.Join(errs...)
	if !permanent && downloader.IsPermanent(err) {
		// Keep a mixed result transient so the item is tried again.
		return nil, fmt.Errorf("all descriptors failed: %s", err.Error())
	}
	return nil, err
}

// ordered puts the primary descriptor first.
func ordered(item models.Item) []models.Descriptor {
	primary, ok := item.Primary()
	if !ok {
		return nil
	}
	out := []models.Descriptor{primary}
	for _, d := range item.Descriptors {
		if d != primary {
			out = append(out, d)
		}
	}
	return out
}

func (w *Worker) recordFailure(ctx context.Context, item models.Item, err error) {
	var descriptor string
	if d, ok := item.Primary(); ok {
		descriptor = d.URI
	}
	if ferr := w.Store.AddFailedDownload(models.FailedDownload{
		Fingerprint: item.Fingerprint,
		Title:       item.Title,
		Descriptor:  descriptor,
		Reason:      err.Error(),
		FailedAt:    w.now(),
	}); ferr != nil {
		log.Printf("Failed to record failed download for %q: %v", item.Title, ferr)
	}
	w.markProcessed(item)
	utils.Warn("Worker", "Download", fmt.Sprintf("%s: %v (not retried)", item.Title, err))
	w.Notifier.Failed(ctx, item, err)
}

func (w *Worker) markProcessed(item models.Item) {
	if err := w.Limiter.MarkProcessed(item.Fingerprint); err != nil {
		log.Printf("Failed to mark %q processed: %v", item.Title, err)
	}
}

// purge runs while the caller holds the processing permit.
func (w *Worker) purge() {
	if w.Purger == nil {
		return
	}
	if _, err := w.Purger.Purge(); err != nil {
		log.Printf("Failed to purge work directories: %v", err)
	}
}

// Caption is the text posted with a published file.
func Caption(item models.Item, size int64) string {
	var b strings.Builder
	b.WriteString("**" + item.Title + "**")
	if size > 0 {
		b.WriteString("\n" + humanize.IBytes(uint64(size)))
	}
	if len(item.Tags) > 0 {
		tags := make([]string, 0, len(item.Tags))
		for _, t := range item.Tags {
			tags = append(tags, "#"+strings.ReplaceAll(strings.TrimSpace(t), " ", "_"))
		}
		b.WriteString("\n" + strings.Join(tags, " "))
	}
	if item.Description != "" {
		b.WriteString("\n\n" + utils.Truncate(item.Description, 1500))
	}
	return b.String()
}
