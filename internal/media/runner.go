package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Runner executes an external tool. Stderr is streamed to the writer as it
// arrives, stdout is returned once the process exits.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stderr io.Writer) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, stderr io.Writer) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout := bytes.NewBuffer(nil)
	tail := &tailBuffer{max: 2048}
	cmd.Stdout = stdout
	if stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, tail)
	} else {
		cmd.Stderr = tail
	}

	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), &ToolError{
			Tool:   name,
			Err:    err,
			Stderr: tail.String(),
		}
	}
	return stdout.Bytes(), nil
}

// ToolError is a non-zero exit (or a failed start) of ffmpeg / ffprobe.
type ToolError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, msg)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// lineWriter calls fn for every line written to it, ffmpeg ends progress
// lines with \r so both terminators split.
type lineWriter struct {
	fn      func(line string)
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexAny(w.pending, "\r\n")
		if i < 0 {
			break
		}
		line := string(w.pending[:i])
		w.pending = w.pending[i+1:]
		if line != "" {
			w.fn(line)
		}
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	if len(w.pending) > 0 {
		w.fn(string(w.pending))
		w.pending = nil
	}
}
