package media

import (
	"context"
	"coursemigrate/internal/components/telemetry"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	report_media_probe     = "media.probe"
	report_media_audio     = "media.audio"
	report_media_frame     = "media.first_frame"
	report_media_transcode = "media.transcode"
)

// ErrNoAudio is returned by ExtractAudio when the source has no audio stream.
var ErrNoAudio = errors.New("media: source has no audio stream")

type Options struct {
	FFmpeg  string
	FFprobe string
	// Workers bounds the number of concurrent subprocesses, defaults to 2.
	Workers int
	// ProbeRetries defaults to 10 attempts, ProbeDelay to 5s between them.
	ProbeRetries int
	ProbeDelay   time.Duration
	Runner       Runner
}

// Tool wraps ffprobe and ffmpeg, every invocation takes a slot of the pool.
type Tool struct {
	ffmpeg       string
	ffprobe      string
	probeRetries int
	probeDelay   time.Duration
	runner       Runner
	pool         *semaphore.Weighted
	tel          telemetry.API
}

func NewTool(opts Options, tel telemetry.API) *Tool {
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.FFprobe == "" {
		opts.FFprobe = "ffprobe"
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.ProbeRetries <= 0 {
		opts.ProbeRetries = 10
	}
	if opts.ProbeDelay < 0 {
		opts.ProbeDelay = 0
	} else if opts.ProbeDelay == 0 {
		opts.ProbeDelay = 5 * time.Second
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &Tool{
		ffmpeg:       opts.FFmpeg,
		ffprobe:      opts.FFprobe,
		probeRetries: opts.ProbeRetries,
		probeDelay:   opts.ProbeDelay,
		runner:       opts.Runner,
		pool:         semaphore.NewWeighted(int64(opts.Workers)),
		tel:          telemetry.NewScopedAPI("media", tel),
	}
}

func (t *Tool) run(ctx context.Context, name string, args []string, onLine func(string)) ([]byte, error) {
	err := t.pool.Acquire(ctx, 1)
	if err != nil {
		return nil, err
	}
	defer t.pool.Release(1)

	if onLine == nil {
		return t.runner.Run(ctx, name, args, nil)
	}
	lines := &lineWriter{fn: onLine}
	out, err := t.runner.Run(ctx, name, args, lines)
	lines.Flush()
	return out, err
}

type Stream struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
}

type Info struct {
	Duration time.Duration
	Streams  []Stream
}

func (i Info) HasAudio() bool {
	for _, s := range i.Streams {
		if s.CodecType == "audio" {
			return true
		}
	}
	return false
}

// NeedsTranscode is true when any video stream is not h264.
func (i Info) NeedsTranscode() bool {
	for _, s := range i.Streams {
		if s.CodecType == "video" && s.CodecName != "h264" {
			return true
		}
	}
	return false
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []Stream `json:"streams"`
}

func parseProbe(out []byte) (Info, error) {
	var parsed probeOutput
	err := json.Unmarshal(out, &parsed)
	if err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	info := Info{Streams: parsed.Streams}
	if parsed.Format.Duration != "" {
		seconds, err := strconv.ParseFloat(parsed.Format.Duration, 64)
		if err != nil {
			return Info{}, fmt.Errorf("parse duration %q: %w", parsed.Format.Duration, err)
		}
		info.Duration = time.Duration(seconds * float64(time.Second))
	}
	return info, nil
}

// Probe reads the duration and streams of a local file or url. Remote
// sources are flaky right after upload, so failed attempts are retried.
func (t *Tool) Probe(ctx context.Context, source string) (Info, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_entries", "format=duration:stream=codec_name,codec_type",
		source,
	}

	var lastErr error
	for attempt := 1; attempt <= t.probeRetries; attempt++ {
		out, err := t.run(ctx, t.ffprobe, args, nil)
		if err == nil {
			info, err := parseProbe(out)
			if err == nil {
				return info, nil
			}
			lastErr = err
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return Info{}, ctx.Err()
		}
		t.tel.ReportWarning(report_media_probe, fmt.Sprintf("attempt %d/%d", attempt, t.probeRetries), lastErr, source)
		if attempt == t.probeRetries {
			break
		}

		timer := time.NewTimer(t.probeDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Info{}, ctx.Err()
		case <-timer.C:
		}
	}
	err := fmt.Errorf("ffprobe %s after %d attempts: %w", source, t.probeRetries, lastErr)
	t.tel.ReportBroken(report_media_probe, err)
	return Info{}, err
}

func isNoStreamOutput(err error) bool {
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		return false
	}
	lower := strings.ToLower(toolErr.Stderr)
	return strings.Contains(lower, "does not contain any stream") ||
		strings.Contains(lower, "matches no streams")
}

// ExtractAudio writes the audio track of source to dest, the container is
// picked from the extension of dest.
func (t *Tool) ExtractAudio(ctx context.Context, source, dest string) error {
	_, err := t.run(ctx, t.ffmpeg, []string{"-y", "-i", source, "-vn", dest}, nil)
	if isNoStreamOutput(err) {
		return ErrNoAudio
	}
	if err != nil {
		err = fmt.Errorf("extract audio: %w", err)
		t.tel.ReportBroken(report_media_audio, err, source)
		return err
	}
	return nil
}

// FirstFrame writes frame zero of source as an image.
func (t *Tool) FirstFrame(ctx context.Context, source, dest string) error {
	_, err := t.run(ctx, t.ffmpeg, []string{
		"-y",
		"-i", source,
		"-ss", "00:00:00",
		"-frames:v", "1",
		dest,
	}, nil)
	if err != nil {
		err = fmt.Errorf("extract first frame: %w", err)
		t.tel.ReportBroken(report_media_frame, err, source)
		return err
	}
	return nil
}

// Transcode re-encodes the video stream of source to h264, audio is copied.
// progress may be nil.
func (t *Tool) Transcode(ctx context.Context, source, dest string, progress func(Progress)) error {
	info, err := t.Probe(ctx, source)
	if err != nil {
		return err
	}

	var onLine func(string)
	if progress != nil {
		onLine = func(line string) {
			position, ok := ParseProgress(line)
			if ok {
				progress(Progress{Position: position, Duration: info.Duration})
			}
		}
	}
	_, err = t.run(ctx, t.ffmpeg, []string{
		"-y",
		"-i", source,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-c:a", "copy",
		dest,
	}, onLine)
	if err != nil {
		err = fmt.Errorf("transcode: %w", err)
		t.tel.ReportBroken(report_media_transcode, err, source)
		return err
	}
	return nil
}
