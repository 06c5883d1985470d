package utils

import (
	"strings"
	"testing"

	"feedrelay/models"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncated", 5, "trun…"},
		{"日本語のタイトル", 4, "日本語…"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestProgressBar(t *testing.T) {
	if got := ProgressBar(50, 10); got != "█████░░░░░" {
		t.Errorf("ProgressBar(50) = %q", got)
	}
	if got := ProgressBar(150, 4); got != "████" {
		t.Errorf("ProgressBar(150) = %q", got)
	}
	if got := ProgressBar(-3, 4); got != "░░░░" {
		t.Errorf("ProgressBar(-3) = %q", got)
	}
}

func TestFormatProgressDownloading(t *testing.T) {
	out := FormatProgress(models.ProgressEvent{
		Title:   "Some Item",
		Stage:   models.StageDownloading,
		Percent: 42,
		Peers:   7,
		Done:    1 << 20,
		Total:   4 << 20,
		Rate:    2048,
	})
	for _, want := range []string{"Some Item", "42.0%", "1.0 MiB / 4.0 MiB", "2.0 KiB/s", "7 peers"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}
