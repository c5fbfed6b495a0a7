package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDoubleHistogramRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewDoubleHistogram(1, 2)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDoubleHistogram(1_000_000_000, 6)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDoubleHistogramRecordsWithinInitialRange(t *testing.T) {
	t.Parallel()
	d, err := NewDoubleHistogram(1_000_000, 3)
	require.NoError(t, err)

	require.NoError(t, d.RecordValue(1.5))
	require.NoError(t, d.RecordValue(3.5))
	assert.EqualValues(t, 2, d.TotalCount())
	assert.InEpsilon(t, 2.5, d.GetMean(), 0.2)
}

// TestDoubleHistogramAutoRangesAcrossExtremes exercises the same
// wide-dynamic-range, low-precision scenario the wire format's
// significantFigures/highestToLowestValueRatio fields are meant to
// support: a value near the floor of representable precision and one
// many orders of magnitude above it, both recorded into the same
// instance.
func TestDoubleHistogramAutoRangesAcrossExtremes(t *testing.T) {
	t.Parallel()
	d, err := NewDoubleHistogram(1_000_000_000, 2)
	require.NoError(t, err)

	require.NoError(t, d.RecordValue(1.5e-9))
	require.NoError(t, d.RecordValue(3600.0))

	assert.EqualValues(t, 2, d.TotalCount())
	assert.InEpsilon(t, 1.5e-9, d.GetMinValue(), 0.2)
	assert.InEpsilon(t, 3600.0, d.GetMaxValue(), 0.2)
}

func TestDoubleHistogramRejectsNegativeAndTooLarge(t *testing.T) {
	t.Parallel()
	d, err := NewDoubleHistogram(1_000_000, 3)
	require.NoError(t, err)

	assert.ErrorIs(t, d.RecordValue(-1), ErrNegativeValue)
	assert.ErrorIs(t, d.RecordValue(highestAllowedEver*2), ErrValueOutOfRange)
}

func TestDoubleHistogramPercentilesAndCounts(t *testing.T) {
	t.Parallel()
	d, err := NewDoubleHistogram(1_000_000, 3)
	require.NoError(t, err)
	for i := 1; i <= 1000; i++ {
		require.NoError(t, d.RecordValue(float64(i)))
	}

	p50 := d.GetValueAtPercentile(50)
	assert.InEpsilon(t, 500, p50, 0.05)
	assert.Greater(t, d.GetPercentileAtOrBelowValue(500), 0.0)
	assert.Greater(t, d.GetCountBetweenValues(1, 1000), int64(0))
}

func TestDoubleHistogramReset(t *testing.T) {
	t.Parallel()
	d, err := NewDoubleHistogram(1_000_000, 3)
	require.NoError(t, err)
	require.NoError(t, d.RecordValue(5))
	d.Reset()
	assert.EqualValues(t, 0, d.TotalCount())
}
