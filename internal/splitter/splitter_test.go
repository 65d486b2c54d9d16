package splitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
)

const mib = 1024 * 1024

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		threshold int64
		maxParts  int64
		want      []Range
		wantErr   bool
	}{
		{
			name:      "25 MiB into 8 MiB parts",
			total:     25 * mib,
			threshold: 8 * mib,
			maxParts:  DefaultMaxParts,
			want: []Range{
				{Index: 0, Start: 0, End: 8 * mib},
				{Index: 1, Start: 8 * mib, End: 16 * mib},
				{Index: 2, Start: 16 * mib, End: 24 * mib},
				{Index: 3, Start: 24 * mib, End: 25 * mib},
			},
		},
		{
			name:      "exactly threshold is a single part",
			total:     8 * mib,
			threshold: 8 * mib,
			maxParts:  DefaultMaxParts,
			want:      []Range{{Index: 0, Start: 0, End: 8 * mib}},
		},
		{
			name:      "zero bytes",
			total:     0,
			threshold: 8 * mib,
			maxParts:  DefaultMaxParts,
			want:      []Range{{Index: 0, Start: 0, End: 0}},
		},
		{
			name:      "part count limit raises part size",
			total:     100,
			threshold: 10,
			maxParts:  4,
			want: []Range{
				{Index: 0, Start: 0, End: 25},
				{Index: 1, Start: 25, End: 50},
				{Index: 2, Start: 50, End: 75},
				{Index: 3, Start: 75, End: 100},
			},
		},
		{
			name:      "negative size",
			total:     -1,
			threshold: 8,
			maxParts:  10,
			wantErr:   true,
		},
		{
			name:      "zero threshold",
			total:     10,
			threshold: 0,
			maxParts:  10,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.total, tt.threshold, tt.maxParts)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_Partitions(t *testing.T) {
	sizes := []int64{1, 7, 8, 9, 63, 64, 65, 1000, 4097, 10*mib + 3}
	thresholds := []int64{1, 8, 64, 4096, mib}
	limits := []int64{1, 3, 10, DefaultMaxParts}

	for _, total := range sizes {
		for _, threshold := range thresholds {
			for _, maxParts := range limits {
				ranges, err := Split(total, threshold, maxParts)
				require.NoError(t, err)
				require.NotEmpty(t, ranges)

				assert.LessOrEqual(t, int64(len(ranges)), maxParts,
					"total=%d threshold=%d maxParts=%d", total, threshold, maxParts)

				var next int64
				for i, r := range ranges {
					assert.Equal(t, i, r.Index)
					assert.Equal(t, next, r.Start, "gap or overlap at part %d", i)
					assert.Greater(t, r.End, r.Start)
					next = r.End
				}
				assert.Equal(t, total, next)
			}
		}
	}
}

func TestMultipart(t *testing.T) {
	single, err := Split(5, 8, 10)
	require.NoError(t, err)
	assert.False(t, Multipart(single))

	multi, err := Split(20, 8, 10)
	require.NoError(t, err)
	assert.True(t, Multipart(multi))
}
