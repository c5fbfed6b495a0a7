package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func newTestRecorder(t *testing.T, highest int64, sigFigs int64) *Recorder {
	t.Helper()
	r, err := NewRecorder(WithLowestDiscernibleValue(1), WithHighestTrackableValue(highest), WithSignificantFigures(sigFigs))
	require.NoError(t, err)
	return r
}

func TestRecorderIntervalSnapshotIsolatesWriters(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t, 3600000000, 3)
	require.NoError(t, r.RecordValue(100))

	snap, err := r.GetIntervalHistogram(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap.TotalCount())

	require.NoError(t, r.RecordValue(200))
	// The retired snapshot must never observe writes that happened after
	// it was retired.
	assert.EqualValues(t, 1, snap.TotalCount())

	snap2, err := r.GetIntervalHistogram(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap2.TotalCount())
	assert.EqualValues(t, 1, snap2.GetCountAtValue(200))
}

func TestRecorderRecycleRejectsForeignHistogram(t *testing.T) {
	t.Parallel()
	r1 := newTestRecorder(t, 3600000000, 3)
	r2 := newTestRecorder(t, 3600000000, 3)

	foreign, err := r2.GetIntervalHistogram(nil)
	require.NoError(t, err)

	_, err = r1.GetIntervalHistogram(foreign)
	assert.ErrorIs(t, err, ErrRecycleMismatch)
}

func TestRecorderRecycleAcceptsOwnHistogram(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t, 3600000000, 3)
	require.NoError(t, r.RecordValue(1))

	snap, err := r.GetIntervalHistogram(nil)
	require.NoError(t, err)

	require.NoError(t, r.RecordValue(2))
	snap2, err := r.GetIntervalHistogram(snap)
	require.NoError(t, err)
	assert.Same(t, snap, r.active.Load())
	assert.EqualValues(t, 1, snap2.TotalCount())
}

func TestRecorderStartEndTimestampsAdvance(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t, 1000, 3)
	require.NoError(t, r.RecordValue(1))
	snap, err := r.GetIntervalHistogram(nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.EndTimeStampMsec(), snap.StartTimeStampMsec())
}

func TestRecorderConcurrentRecordAndSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := newTestRecorder(t, 3600000000, 3)

	var g errgroup.Group
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				if err := r.RecordValue(123); err != nil {
					return err
				}
			}
		})
	}

	var total int64
	for i := 0; i < 20; i++ {
		snap, err := r.GetIntervalHistogram(nil)
		require.NoError(t, err)
		total += snap.TotalCount()
	}
	close(stop)
	require.NoError(t, g.Wait())

	final, err := r.GetIntervalHistogram(nil)
	require.NoError(t, err)
	total += final.TotalCount()
	assert.Greater(t, total, int64(0))
}
