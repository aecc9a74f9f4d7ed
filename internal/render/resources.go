package render

import (
	"context"
	"fmt"
	"time"

	"github.com/reelforge/api/internal/logger"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// ResourceChecker refuses a render when the host is under pressure
type ResourceChecker interface {
	Check(ctx context.Context, dir string) error
}

// SystemResources checks idle CPU, available memory and free disk with gopsutil.
// Zero thresholds disable the corresponding check.
type SystemResources struct {
	MaxCPUPercent float64
	MinFreeMem    int64
	MinFreeDisk   int64
	log           *logrus.Entry
}

func NewSystemResources(maxCPU float64, minFreeMem, minFreeDisk int64) *SystemResources {
	return &SystemResources{
		MaxCPUPercent: maxCPU,
		MinFreeMem:    minFreeMem,
		MinFreeDisk:   minFreeDisk,
		log:           logger.WithModule("render"),
	}
}

func (r *SystemResources) Check(ctx context.Context, dir string) error {
	if r.MaxCPUPercent > 0 {
		p, err := cpu.PercentWithContext(ctx, 500*time.Millisecond, false)
		if err != nil {
			r.log.WithError(err).Warn("Could not get CPU usage")
		} else if len(p) > 0 && p[0] > r.MaxCPUPercent {
			return fmt.Errorf("cpu busy: %.1f%% used, limit %.1f%%", p[0], r.MaxCPUPercent)
		}
	}

	if r.MinFreeMem > 0 {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			r.log.WithError(err).Warn("Could not get memory usage")
		} else if vm.Available < uint64(r.MinFreeMem) {
			return fmt.Errorf("not enough free memory: %d available, %d required", vm.Available, r.MinFreeMem)
		}
	}

	if r.MinFreeDisk > 0 {
		d, err := disk.UsageWithContext(ctx, dir)
		if err != nil {
			r.log.WithError(err).Warnf("Could not get disk usage for %s", dir)
		} else if d.Free < uint64(r.MinFreeDisk) {
			return fmt.Errorf("not enough free disk in %s: %d available, %d required", dir, d.Free, r.MinFreeDisk)
		}
	}
	return nil
}
