// Package encoder normalises a downloaded file with ffmpeg: a stream-copy remux for
// transport streams and an optional re-encode under a width ceiling.
package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"feedrelay/models"
	"feedrelay/progress"
	"feedrelay/utils"

	"github.com/spf13/afero"
)

// FFmpeg argument constants
const (
	FastStartFlag       = "+faststart"
	CompressedSuffix    = "-compressed"
	OutputExtensionMP4  = ".mp4"
	FFprobeLogLevel     = "error"
	FFprobeShowEntries  = "format=duration"
	FFprobeOutputFormat = "csv=p=0"
	ProgressPipeTarget  = "pipe:2"
	ProgressTimePrefix  = "out_time_us="
	ProgressTimeMsAlias = "out_time_ms=" // ffmpeg reports microseconds under this key too
	ProgressEndMarker   = "progress=end"
)

var transportStreamExtensions = map[string]bool{".ts": true, ".m2ts": true, ".mts": true}

// TranscodeError wraps a failed ffmpeg step. It never aborts an item.
type TranscodeError struct {
	Op  string
	Err error
}

func (e *TranscodeError) Error() string { return fmt.Sprintf("%s failed: %v", e.Op, e.Err) }
func (e *TranscodeError) Unwrap() error { return e.Err }

// Pipeline runs the remux and encode steps.
type Pipeline struct {
	cfg models.EncodeConfig
	fs  afero.Fs
}

// NewPipeline creates a pipeline. fs must be the OS filesystem ffmpeg writes to.
func NewPipeline(cfg models.EncodeConfig, fs afero.Fs) *Pipeline {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Hour
	}
	return &Pipeline{cfg: cfg, fs: fs}
}

// Prepare returns the single file to upload. Every failure falls back to the file
// from the previous step; replaced files are deleted.
func (p *Pipeline) Prepare(ctx context.Context, path, title string, sink progress.Sink) string {
	current := path

	if p.cfg.Remux && IsTransportStream(current) {
		progress.Emit(ctx, sink, models.ProgressEvent{Title: title, Stage: models.StageRemuxing})
		out, err := p.Remux(ctx, current)
		if err != nil {
			log.Printf("Remux of %s failed, keeping original: %v", current, err)
			utils.Warn("Encoder", "Remux", fmt.Sprintf("%s: %v", title, err))
		} else {
			p.remove(current)
			current = out
		}
	}

	if p.cfg.Enabled {
		out, err := p.Encode(ctx, current, title, sink)
		if err != nil {
			log.Printf("Encode of %s failed, keeping %s: %v", title, current, err)
			utils.Warn("Encoder", "Encode", fmt.Sprintf("%s: %v", title, err))
		} else {
			p.remove(current)
			current = out
		}
	}
	return current
}

// IsTransportStream reports whether path is an MPEG transport stream.
func IsTransportStream(path string) bool {
	return transportStreamExtensions[strings.ToLower(filepath.Ext(path))]
}

// Remux copies the streams of in into an MP4 container without re-encoding.
func (p *Pipeline) Remux(ctx context.Context, in string) (string, error) {
	out := p.outputPath(in, "")
	if err := p.run(ctx, BuildRemuxArgs(in, out), nil); err != nil {
		p.remove(out)
		return "", &TranscodeError{Op: "remux", Err: err}
	}
	return out, nil
}

// Encode re-encodes in under the configured width ceiling, reporting progress against
// the duration ffprobe reports.
func (p *Pipeline) Encode(ctx context.Context, in, title string, sink progress.Sink) (string, error) {
	duration, err := p.Duration(ctx, in)
	if err != nil {
		log.Printf("Could not probe duration of %s, progress will stay at 0: %v", in, err)
	}

	out := p.outputPath(in, CompressedSuffix)
	progress.Emit(ctx, sink, models.ProgressEvent{Title: title, Stage: models.StageEncoding})
	onProgress := func(pct float64) {
		progress.Emit(ctx, sink, models.ProgressEvent{Title: title, Stage: models.StageEncoding, Percent: pct})
	}

	if err := p.run(ctx, p.BuildEncodeArgs(in, out), func(r io.Reader) { MonitorProgress(r, duration, onProgress) }); err != nil {
		p.remove(out)
		return "", &TranscodeError{Op: "encode", Err: err}
	}
	return out, nil
}

// BuildRemuxArgs returns the ffmpeg arguments for a stream copy.
func BuildRemuxArgs(in, out string) []string {
	return []string{"-y", "-i", in, "-c", "copy", "-movflags", FastStartFlag, out}
}

// BuildEncodeArgs returns the ffmpeg arguments for an encode.
func (p *Pipeline) BuildEncodeArgs(in, out string) []string {
	args := []string{"-y", "-i", in}
	if p.cfg.MaxWidth > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale='min(%d,iw)':-2", p.cfg.MaxWidth))
	}
	args = append(args,
		"-c:v", p.cfg.VideoCodec,
		"-crf", strconv.Itoa(p.cfg.CRF),
		"-preset", p.cfg.Preset,
		"-c:a", p.cfg.AudioCodec,
		"-b:a", p.cfg.AudioBitrate,
		"-movflags", FastStartFlag,
		"-progress", ProgressPipeTarget,
		"-nostats",
		out,
	)
	return args
}

// Duration asks ffprobe for the container duration.
func (p *Pipeline) Duration(ctx context.Context, path string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.FFprobePath, "-v", FFprobeLogLevel, "-show_entries", FFprobeShowEntries, "-of", FFprobeOutputFormat, path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", bytes.TrimSpace(output), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// MonitorProgress reads ffmpeg -progress output and reports percentages of total.
func MonitorProgress(r io.Reader, total time.Duration, report func(pct float64)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == ProgressEndMarker {
			report(100)
			continue
		}
		var raw string
		switch {
		case strings.HasPrefix(line, ProgressTimePrefix):
			raw = strings.TrimPrefix(line, ProgressTimePrefix)
		case strings.HasPrefix(line, ProgressTimeMsAlias):
			raw = strings.TrimPrefix(line, ProgressTimeMsAlias)
		default:
			continue
		}
		us, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || total <= 0 {
			continue
		}
		pct := float64(time.Duration(us)*time.Microsecond) / float64(total) * 100
		if pct > 100 {
			pct = 100
		}
		if pct < 0 {
			pct = 0
		}
		report(pct)
	}
}

// run executes ffmpeg under the wall-clock timeout. stderr goes to monitor when given,
// otherwise its tail is kept for the error message.
func (p *Pipeline) run(ctx context.Context, args []string, monitor func(io.Reader)) error {
	if err := p.fs.MkdirAll(p.cfg.Dir, 0755); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.FFmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	tail := &tailBuffer{max: 2048}
	if monitor != nil {
		monitor(io.TeeReader(stderr, tail))
	}
	io.Copy(tail, stderr)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg killed after %v", p.cfg.Timeout)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(tail.String()))
	}
	return nil
}

func (p *Pipeline) outputPath(in, suffix string) string {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	return filepath.Join(p.cfg.Dir, base+suffix+OutputExtensionMP4)
}

func (p *Pipeline) remove(path string) {
	if err := p.fs.Remove(path); err != nil {
		log.Printf("Failed to remove intermediate %s: %v", path, err)
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
