package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/reelforge/api/internal/logger"
	"github.com/sirupsen/logrus"
)

const stderrTail = 2048

// Encoder runs one media encoder invocation inside workDir
type Encoder interface {
	Run(ctx context.Context, workDir string, args []string) error
}

// EncodeError carries the exit code and stderr tail of a failed encoder run
type EncodeError struct {
	ExitCode int
	Stderr   string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoder exited with code %d: %s", e.ExitCode, e.Stderr)
}

// FFmpeg is the subprocess Encoder
type FFmpeg struct {
	Bin string
	log *logrus.Entry
}

func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{Bin: bin, log: logger.WithModule("ffmpeg")}
}

// Run executes ffmpeg with args. Relative paths in args resolve against workDir.
func (f *FFmpeg) Run(ctx context.Context, workDir string, args []string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error"}, args...)
	cmd := exec.CommandContext(ctx, f.Bin, full...)
	cmd.Dir = workDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.log.Debugf("Executing: %s %s", f.Bin, strings.Join(full, " "))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", context.Cause(ctx))
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &EncodeError{ExitCode: code, Stderr: tail(stderr.String(), stderrTail)}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
