package app

import (
	"fmt"
	"strconv"
)

// ParseSize converts a size argument to blocks. The number must be followed
// by B (blocks), M (megabytes) or G (gigabytes); byte sizes are rounded down
// to whole blocks.
func ParseSize(s string, blockSize int64) (int64, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid size %q: want a number followed by B, M or G", s)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q: want a number followed by B, M or G", s)
	}
	switch s[len(s)-1] {
	case 'B':
		return n, nil
	case 'M':
		return n * (1 << 20) / blockSize, nil
	case 'G':
		return n * (1 << 30) / blockSize, nil
	default:
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, s[len(s)-1])
	}
}

// FormatSize renders a block count with its size in megabytes.
func FormatSize(blocks, blockSize int64) string {
	return fmt.Sprintf("%d blocks (%.1f MB)", blocks, float64(blocks*blockSize)/(1<<20))
}

// Percent renders blocks as a share of limit.
func Percent(blocks, limit int64) string {
	if limit <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d%%", blocks*100/limit)
}
