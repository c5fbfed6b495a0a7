package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistogram(t *testing.T, highest int64, sigFigs int64) *Histogram {
	t.Helper()
	h, err := New(WithLowestDiscernibleValue(1), WithHighestTrackableValue(highest), WithSignificantFigures(sigFigs))
	require.NoError(t, err)
	return h
}

func TestRecordValueRejectsNegative(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 3600000000, 3)
	assert.ErrorIs(t, h.RecordValue(-1), ErrNegativeValue)
}

func TestRecordValueRejectsOutOfRangeWithoutAutoResize(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 1000, 3)
	assert.ErrorIs(t, h.RecordValue(1_000_000), ErrValueOutOfRange)
}

func TestRecordValueAutoResizeGrows(t *testing.T) {
	t.Parallel()
	h, err := New(WithLowestDiscernibleValue(1), WithHighestTrackableValue(100), WithAutoResize(true))
	require.NoError(t, err)
	require.NoError(t, h.RecordValue(1_000_000))
	assert.EqualValues(t, 1, h.TotalCount())
	assert.GreaterOrEqual(t, h.HighestTrackableValue(), int64(1_000_000))
}

func TestPercentilesWithinErrorBound(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 3600000000, 3)
	for i := int64(1); i <= 100000; i++ {
		require.NoError(t, h.RecordValue(i))
	}
	p50 := h.GetValueAtPercentile(50)
	assert.InEpsilon(t, 50000, float64(p50), 0.01)

	p99 := h.GetValueAtPercentile(99)
	assert.InEpsilon(t, 99000, float64(p99), 0.01)

	// 100000 falls in a 64-wide equivalent range [99968, 100031].
	assert.EqualValues(t, 100031, h.GetMaxValue())
	assert.InDelta(t, 1, h.GetMinValue(), 1)
}

func TestGetCountAtAndBetweenValues(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 3600000000, 3)
	require.NoError(t, h.RecordValue(100))
	require.NoError(t, h.RecordValue(100))
	require.NoError(t, h.RecordValue(200))

	assert.EqualValues(t, 2, h.GetCountAtValue(100))
	assert.EqualValues(t, 3, h.GetCountBetweenValues(0, 300))
}

func TestRecordCorrectedValueFillsGaps(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 3600000000, 3)
	require.NoError(t, h.RecordCorrectedValue(1000, 100))

	// One real record plus 9 synthesized ones at 100, 200, ..., 900.
	assert.EqualValues(t, 10, h.TotalCount())
}

func TestHasOverflowedOnNarrowCells(t *testing.T) {
	t.Parallel()
	h, err := New(WithLowestDiscernibleValue(1), WithHighestTrackableValue(1000), WithCellWidth(CellWidth16))
	require.NoError(t, err)
	for i := 0; i < 70000; i++ {
		require.NoError(t, h.RecordValue(1))
	}
	assert.True(t, h.HasOverflowed())
}

func TestResetClearsState(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 1000, 3)
	require.NoError(t, h.RecordValue(500))
	h.Reset()
	assert.EqualValues(t, 0, h.TotalCount())
	assert.EqualValues(t, 0, h.GetMaxValue())
}

func TestCopyAndEquals(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 3600000000, 3)
	require.NoError(t, h.RecordValue(42))
	cp := h.Copy()
	assert.True(t, h.Equals(cp))

	require.NoError(t, cp.RecordValue(43))
	assert.False(t, h.Equals(cp))
}

func TestAddMergesCompatibleLayout(t *testing.T) {
	t.Parallel()
	a := newTestHistogram(t, 3600000000, 3)
	b := newTestHistogram(t, 3600000000, 3)
	require.NoError(t, a.RecordValue(10))
	require.NoError(t, b.RecordValue(20))

	require.NoError(t, a.Add(b))
	assert.EqualValues(t, 2, a.TotalCount())
	assert.EqualValues(t, 1, a.GetCountAtValue(10))
	assert.EqualValues(t, 1, a.GetCountAtValue(20))
}

func TestSubtractRejectsUnderflow(t *testing.T) {
	t.Parallel()
	a := newTestHistogram(t, 3600000000, 3)
	b := newTestHistogram(t, 3600000000, 3)
	require.NoError(t, b.RecordValue(10))

	assert.ErrorIs(t, a.Subtract(b), ErrUnderflow)
}

func TestSubtractReversesAdd(t *testing.T) {
	t.Parallel()
	a := newTestHistogram(t, 3600000000, 3)
	b := newTestHistogram(t, 3600000000, 3)
	require.NoError(t, a.RecordValue(10))
	require.NoError(t, a.RecordValue(20))
	require.NoError(t, b.RecordValue(10))

	require.NoError(t, a.Subtract(b))
	assert.EqualValues(t, 1, a.TotalCount())
	assert.EqualValues(t, 0, a.GetCountAtValue(10))
	assert.EqualValues(t, 1, a.GetCountAtValue(20))
}

func TestShiftValuesLeftThenRightRoundTrips(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 3600000000, 3)
	require.NoError(t, h.RecordValue(3000))
	require.NoError(t, h.RecordValue(2000))

	require.NoError(t, h.ShiftValuesLeft(2))
	assert.EqualValues(t, 1, h.GetCountAtValue(12000))
	assert.EqualValues(t, 1, h.GetCountAtValue(8000))

	require.NoError(t, h.ShiftValuesRight(2, true))
	assert.EqualValues(t, 1, h.GetCountAtValue(3000))
	assert.EqualValues(t, 1, h.GetCountAtValue(2000))
}

func TestShiftValuesLeftOverflowRejected(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 1000, 1)
	require.NoError(t, h.RecordValue(999))
	assert.ErrorIs(t, h.ShiftValuesLeft(40), ErrOverflow)
}

func TestShiftValuesRightUnderflowRejected(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 3600000000, 3)
	require.NoError(t, h.RecordValue(2000))
	assert.ErrorIs(t, h.ShiftValuesRight(4, true), ErrUnderflow)
}

func TestCopyCorrectedForCoordinatedOmission(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 3600000000, 3)
	require.NoError(t, h.RecordValue(1000))

	corrected, err := h.CopyCorrectedForCoordinatedOmission(100)
	require.NoError(t, err)
	assert.EqualValues(t, 10, corrected.TotalCount())
}

func TestGetMeanAndStdDeviation(t *testing.T) {
	t.Parallel()
	h := newTestHistogram(t, 3600000000, 3)
	for _, v := range []int64{10, 20, 30, 40, 50} {
		require.NoError(t, h.RecordValue(v))
	}
	assert.InEpsilon(t, 30, h.GetMean(), 0.05)
	assert.Greater(t, h.GetStdDeviation(), 0.0)
}
