package sysinfo

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Metrics represents host resources relevant to a backup run
type Metrics struct {
	CPUCount             int
	MemoryTotalBytes     uint64
	MemoryAvailableBytes uint64
	DiskTotalBytes       uint64
	DiskAvailableBytes   uint64
}

// DiskUsedPercent returns the used share of the filesystem
func (m Metrics) DiskUsedPercent() float64 {
	if m.DiskTotalBytes == 0 {
		return 0
	}
	used := m.DiskTotalBytes - m.DiskAvailableBytes
	return float64(used) / float64(m.DiskTotalBytes) * 100
}

// GetMetrics returns host metrics for the filesystem holding path. path does
// not need to exist yet; its nearest existing parent is inspected.
func GetMetrics(path string) (Metrics, error) {
	metrics := Metrics{
		CPUCount: runtime.NumCPU(),
	}

	if err := getDiskInfo(path, &metrics); err != nil {
		return metrics, fmt.Errorf("failed to get disk info: %w", err)
	}

	// Memory is informational only; /proc/meminfo is Linux specific
	if err := getMemoryInfo("/proc/meminfo", &metrics); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return metrics, fmt.Errorf("failed to get memory info: %w", err)
	}

	return metrics, nil
}

// CheckFreeSpace fails when the filesystem holding path has less than min
// bytes available. min of zero disables the check.
func CheckFreeSpace(path string, min uint64) (Metrics, error) {
	metrics, err := GetMetrics(path)
	if err != nil {
		return metrics, err
	}
	if min > 0 && metrics.DiskAvailableBytes < min {
		return metrics, fmt.Errorf("not enough free space for %s: %s available, %s required",
			path, humanize.Bytes(metrics.DiskAvailableBytes), humanize.Bytes(min))
	}
	return metrics, nil
}

func getDiskInfo(path string, metrics *Metrics) error {
	dir, err := existingParent(path)
	if err != nil {
		return err
	}

	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", dir, err)
	}

	metrics.DiskTotalBytes = uint64(st.Blocks) * uint64(st.Bsize)
	metrics.DiskAvailableBytes = uint64(st.Bavail) * uint64(st.Bsize)
	return nil
}

func existingParent(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent directory for %s", path)
		}
		dir = parent
	}
}

// getMemoryInfo reads memory information from a meminfo file
func getMemoryInfo(path string, metrics *Metrics) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			metrics.MemoryTotalBytes = value * 1024 // KB to bytes
		case strings.HasPrefix(line, "MemAvailable:"):
			metrics.MemoryAvailableBytes = value * 1024
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}
