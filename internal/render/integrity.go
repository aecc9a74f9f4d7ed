package render

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrIntegrity marks an encoder output that failed verification
var ErrIntegrity = errors.New("render integrity check failed")

// Expectation is what a finished render must satisfy
type Expectation struct {
	MinBytes     int64
	Width        int
	Height       int
	RequireAudio bool
}

// Verify probes path and checks it against exp. The encoder exit code is not
// trusted on its own.
func Verify(ctx context.Context, prober Prober, path string, exp Expectation) (*ProbeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: output missing: %v", ErrIntegrity, err)
	}
	if info.Size() == 0 || info.Size() < exp.MinBytes {
		return nil, fmt.Errorf("%w: output is %d bytes, need at least %d", ErrIntegrity, info.Size(), exp.MinBytes)
	}

	res, err := prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: probe failed: %v", ErrIntegrity, err)
	}
	res.SizeBytes = info.Size()

	if res.DurationSeconds <= 0 {
		return res, fmt.Errorf("%w: zero duration", ErrIntegrity)
	}
	if !res.HasVideo {
		return res, fmt.Errorf("%w: no video stream", ErrIntegrity)
	}
	if exp.RequireAudio && !res.HasAudio {
		return res, fmt.Errorf("%w: no audio stream", ErrIntegrity)
	}
	if exp.Width > 0 && exp.Height > 0 && (res.Width != exp.Width || res.Height != exp.Height) {
		return res, fmt.Errorf("%w: resolution %dx%d, want %dx%d", ErrIntegrity, res.Width, res.Height, exp.Width, exp.Height)
	}
	return res, nil
}
