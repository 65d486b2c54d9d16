// Package splitter computes the byte-range partition of an object into parts.
package splitter

import (
	"fmt"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
)

const (
	// DefaultThreshold is the part size used when none is configured (8 MiB).
	DefaultThreshold int64 = 8 * 1024 * 1024

	// DefaultMaxParts is the service limit on parts per multipart upload.
	DefaultMaxParts int64 = 10000
)

// Range is the half-open byte range [Start, End) of a part.
type Range struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start
}

// Split partitions [0, total) into contiguous ranges.
//
// Objects no larger than threshold produce a single range, and an empty object
// produces the single range [0, 0). Larger objects use a part size of
// max(threshold, ceil(total/maxParts)) so the part count never exceeds maxParts.
func Split(total, threshold, maxParts int64) ([]Range, error) {
	if total < 0 {
		return nil, errors.NewError("split", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("negative size %d", total))
	}
	if threshold <= 0 || maxParts <= 0 {
		return nil, errors.NewError("split", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("threshold %d and max parts %d must be positive", threshold, maxParts))
	}

	if total <= threshold {
		return []Range{{Index: 0, Start: 0, End: total}}, nil
	}

	partSize := PartSize(total, threshold, maxParts)
	count := (total + partSize - 1) / partSize

	ranges := make([]Range, 0, count)
	for start, i := int64(0), 0; start < total; start, i = start+partSize, i+1 {
		end := start + partSize
		if end > total {
			end = total
		}
		ranges = append(ranges, Range{Index: i, Start: start, End: end})
	}
	return ranges, nil
}

// PartSize returns the effective part size for an object of the given size.
func PartSize(total, threshold, maxParts int64) int64 {
	minSize := (total + maxParts - 1) / maxParts
	if minSize > threshold {
		return minSize
	}
	return threshold
}

// Multipart reports whether the ranges require the multipart protocol.
func Multipart(ranges []Range) bool {
	return len(ranges) > 1
}
