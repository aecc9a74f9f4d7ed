package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ProbeResult is the subset of container metadata the pipeline relies on
type ProbeResult struct {
	DurationSeconds float64
	SizeBytes       int64
	HasVideo        bool
	HasAudio        bool
	Width           int
	Height          int
}

// Prober reads media metadata from a local file
type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// FFprobe is the subprocess Prober
type FFprobe struct {
	Bin string
}

func NewFFprobe(bin string) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{Bin: bin}
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func (p *FFprobe) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, p.Bin,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, tail(stderr.String(), 512))
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	res := &ProbeResult{}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", out.Format.Duration, err)
		}
		res.DurationSeconds = d
	}
	if out.Format.Size != "" {
		res.SizeBytes, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if !res.HasVideo {
				res.HasVideo = true
				res.Width, res.Height = s.Width, s.Height
			}
		case "audio":
			res.HasAudio = true
		}
	}
	return res, nil
}

// RetryingProber retries a Prober a fixed number of times
type RetryingProber struct {
	Prober   Prober
	Attempts uint
	Interval time.Duration
}

func (r *RetryingProber) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	attempts := r.Attempts
	if attempts == 0 {
		attempts = 3
	}
	return backoff.Retry(ctx, func() (*ProbeResult, error) {
		res, err := r.Prober.Probe(ctx, path)
		if err != nil && errors.Is(err, context.Canceled) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.Interval)),
		backoff.WithMaxTries(attempts),
	)
}
