package handlers

import (
	"strings"
	"testing"
	"time"

	"feedrelay/models"
)

func TestStatusText(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := models.WorkerState{
		LeaseOwner:      "owner-1",
		LeaseExpiresAt:  now.Add(10 * time.Minute),
		LastFingerprint: "abc",
	}
	stats := models.Stats{PendingQueue: 2, FailedEntries: 1}
	day := dayUsage{Date: "2026-03-01", Published: 3, Max: 5}
	text := statusText(state, stats, models.Status{CurrentItem: "Show"}, day, now)

	for _, want := range []string{"owner-1", "Processing: Show", "3/5 (2026-03-01)", "Pending queue: 2", "Failed downloads: 1", "`abc`"} {
		if !strings.Contains(text, want) {
			t.Errorf("status text missing %q:\n%s", want, text)
		}
	}

	state.LeaseExpiresAt = now.Add(-time.Minute)
	if text := statusText(state, stats, models.Status{}, day, now); !strings.Contains(text, "Lease: idle") {
		t.Errorf("expired lease should read idle:\n%s", text)
	}
}

func TestQueueText(t *testing.T) {
	if got := queueText(nil, 0); got != "The queue is empty." {
		t.Errorf("unexpected empty text %q", got)
	}
	entries := []models.QueueEntry{
		{Item: models.Item{Title: "A"}, EnqueuedAt: time.Now()},
		{Item: models.Item{Title: "B"}, EnqueuedAt: time.Now()},
	}
	text := queueText(entries, 5)
	if !strings.Contains(text, "(5 pending)") || !strings.Contains(text, "1. A") || !strings.Contains(text, "2. B") {
		t.Errorf("unexpected queue text:\n%s", text)
	}
	if !strings.Contains(text, "3 more") {
		t.Errorf("queue text should mention the remainder:\n%s", text)
	}
}

func TestFailedText(t *testing.T) {
	if got := failedText(nil); got != "No failed downloads." {
		t.Errorf("unexpected empty text %q", got)
	}
	text := failedText([]models.FailedDownload{{Title: "Show", Reason: "stalled", FailedAt: time.Now()}})
	if !strings.Contains(text, "Show") || !strings.Contains(text, "stalled") {
		t.Errorf("unexpected failed text:\n%s", text)
	}
}

func TestStatsText(t *testing.T) {
	text := statsText(models.Stats{Records: 3, Fingerprints: 2, TotalBytes: 3 << 20})
	if !strings.Contains(text, "Items published: 2") || !strings.Contains(text, "3.0 MiB") {
		t.Errorf("unexpected stats text:\n%s", text)
	}
}

func TestCommandPermissions(t *testing.T) {
	for _, name := range []string{"status", "failed", "purge", "queue"} {
		if commandPermissions[name] != "admin" {
			t.Errorf("/%s should be admin only", name)
		}
	}
	for _, name := range []string{"get", "ping", "stats"} {
		if commandPermissions[name] != "guest" {
			t.Errorf("/%s should be open to guests", name)
		}
	}
}
