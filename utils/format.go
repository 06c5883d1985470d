package utils

import (
	"fmt"
	"strings"
	"time"

	"feedrelay/models"

	"github.com/dustin/go-humanize"
)

var stageIcons = map[models.Stage]string{
	models.StageMetadata:    "🔍",
	models.StageDownloading: "⬇️",
	models.StageRemuxing:    "🔁",
	models.StageEncoding:    "🎞️",
	models.StageUploading:   "⬆️",
	models.StageDone:        "✅",
	models.StageFailed:      "❌",
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// ProgressBar renders percent as a fixed-width bar.
func ProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// FormatProgress renders a progress event as a status message body.
func FormatProgress(ev models.ProgressEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s**\n", stageIcons[ev.Stage], Truncate(ev.Title, 120))
	fmt.Fprintf(&b, "Stage: %s\n", ev.Stage)

	switch ev.Stage {
	case models.StageMetadata:
		fmt.Fprintf(&b, "Peers: %d", ev.Peers)
	case models.StageDownloading:
		fmt.Fprintf(&b, "`%s` %.1f%%\n", ProgressBar(ev.Percent, 20), ev.Percent)
		fmt.Fprintf(&b, "%s / %s at %s/s, %d peers", humanize.IBytes(uint64(ev.Done)), humanize.IBytes(uint64(ev.Total)), humanize.IBytes(uint64(ev.Rate)), ev.Peers)
	case models.StageEncoding, models.StageUploading:
		fmt.Fprintf(&b, "`%s` %.1f%%", ProgressBar(ev.Percent, 20), ev.Percent)
	}
	if ev.Note != "" {
		fmt.Fprintf(&b, "\n%s", ev.Note)
	}
	return b.String()
}

// FormatSize is a short human-readable byte size.
func FormatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// FormatAgo renders t relative to now, e.g. "3 hours ago".
func FormatAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
