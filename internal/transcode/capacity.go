package transcode

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"mindia/internal/apperror"
)

// estimateTranscodeSpace approximates the scratch disk an HLS ladder needs
// for a given input size: master + segments across every rendition,
// roughly three times the source.
func estimateTranscodeSpace(inputSize int64) int64 {
	return inputSize * 3
}

// checkCapacity runs the preflight resource check from spec step 2/4: free
// disk on the temp dir, free memory, and CPU load average must all clear
// their configured thresholds. requiredBytes of 0 skips the required-space
// check (used by the periodic re-check); the MinFreeDiskBytes floor is
// checked either way.
func checkCapacity(cfg Config, requiredBytes int64) error {
	usage, err := disk.Usage(cfg.TempDir)
	if err != nil {
		return apperror.Internal(fmt.Errorf("statting temp dir %s: %w", cfg.TempDir, err))
	}
	if requiredBytes > 0 && int64(usage.Free) < requiredBytes+cfg.MinFreeDiskBytes {
		return retriableCapacityError(fmt.Sprintf("insufficient free disk: need %d bytes, have %d", requiredBytes, usage.Free))
	}
	if int64(usage.Free) < cfg.MinFreeDiskBytes {
		return retriableCapacityError(fmt.Sprintf("free disk below floor: have %d, floor %d", usage.Free, cfg.MinFreeDiskBytes))
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return apperror.Internal(fmt.Errorf("reading memory stats: %w", err))
	}
	if vm.UsedPercent > cfg.MaxMemPercent {
		return retriableCapacityError(fmt.Sprintf("memory usage %.1f%% exceeds threshold %.1f%%", vm.UsedPercent, cfg.MaxMemPercent))
	}

	avg, err := load.Avg()
	if err != nil {
		return apperror.Internal(fmt.Errorf("reading load average: %w", err))
	}
	if avg.Load1 > cfg.MaxLoadAverage {
		return retriableCapacityError(fmt.Sprintf("load average %.2f exceeds threshold %.2f", avg.Load1, cfg.MaxLoadAverage))
	}

	return nil
}

// retriableCapacityError builds the capacity-preflight failure as a
// recoverable Storage error. The worker pool fails it like any other handler
// error, so it uses up an attempt and the queue reschedules it with backoff
// while attempts remain.
func retriableCapacityError(message string) error {
	return apperror.Storage(fmt.Errorf("%s", message)).WithDetail(message)
}
