package hdrhistogram

import (
	"sync"
	"sync/atomic"
	"time"
)

// Recorder is a double-buffered recording front-end: writers record
// into whichever ConcurrentHistogram is currently
// installed as active, without ever blocking on a mutex, while
// GetIntervalHistogram installs a fresh (or recycled) replacement and
// hands the just-retired one to the caller once every writer that was
// still using it has exited — using the same writer/reader phaser
// protocol as ConcurrentHistogram's own resize, but guarding the
// active-pointer swap instead of a counts-array swap.
type Recorder struct {
	id     int64
	phaser *phaser
	active atomic.Pointer[ConcurrentHistogram]
	cfg    Config
	snapMu sync.Mutex
}

// NewRecorder builds a Recorder whose histograms share the given
// configuration.
func NewRecorder(opts ...Option) (*Recorder, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	// Drawn from the same counter as standalone ConcurrentHistogram ids,
	// so no histogram built outside this recorder can carry its id.
	id := nextConcurrentInstanceID.Add(1)
	first, err := concurrentHistogramFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	first.instanceID = id
	first.SetStartTimeStampMsec(nowMsec())
	r := &Recorder{id: id, phaser: &phaser{}, cfg: cfg}
	r.active.Store(first)
	return r, nil
}

func concurrentHistogramFromConfig(cfg Config) (*ConcurrentHistogram, error) {
	return NewConcurrentHistogram(
		WithLowestDiscernibleValue(cfg.LowestDiscernibleValue),
		WithHighestTrackableValue(cfg.HighestTrackableValue),
		WithSignificantFigures(cfg.SignificantFigures),
		WithAutoResize(cfg.AutoResize),
		WithLogger(cfg.Logger),
	)
}

func nowMsec() int64 { return time.Now().UnixMilli() }

// recorderPhaserYield is the yield interval GetIntervalHistogram passes
// to flipPhase.
const recorderPhaserYield = 500 * time.Microsecond

// RecordValue records one occurrence of v into the currently active
// histogram without blocking.
func (r *Recorder) RecordValue(v int64) error {
	token := r.phaser.writerCriticalSectionEnter()
	defer r.phaser.writerCriticalSectionExit(token)
	return r.active.Load().RecordValue(v)
}

// RecordValues records count occurrences of v into the currently
// active histogram without blocking.
func (r *Recorder) RecordValues(v, count int64) error {
	token := r.phaser.writerCriticalSectionEnter()
	defer r.phaser.writerCriticalSectionExit(token)
	return r.active.Load().RecordValues(v, count)
}

// RecordValueWithExpectedInterval records v with coordinated-omission
// correction into the currently active histogram.
func (r *Recorder) RecordValueWithExpectedInterval(v, expectedIntervalBetweenValueSamples int64) error {
	token := r.phaser.writerCriticalSectionEnter()
	defer r.phaser.writerCriticalSectionExit(token)
	return r.active.Load().RecordValuesCorrected(v, 1, expectedIntervalBetweenValueSamples)
}

// GetIntervalHistogram installs a fresh (or recycled) ConcurrentHistogram
// as the new active histogram and returns the one that was active since
// the previous call (or since construction, for the first call), once
// every writer still using it has exited its critical section.
//
// If recycled is non-nil it is reused as the returned histogram's
// eventual replacement instead of allocating a new one, provided it
// was itself produced by a prior call to GetIntervalHistogram on this
// same Recorder (identified by an embedded instance id, per spec.md
// §4.7 step 2 and §9 "Recycling"); anything else is rejected with
// ErrRecycleMismatch and the recorder's state is left untouched.
func (r *Recorder) GetIntervalHistogram(recycled *ConcurrentHistogram) (*ConcurrentHistogram, error) {
	if recycled != nil && recycled.instanceID != r.id {
		return nil, ErrRecycleMismatch
	}
	r.snapMu.Lock()
	defer r.snapMu.Unlock()

	var newActive *ConcurrentHistogram
	if recycled != nil {
		recycled.Reset()
		newActive = recycled
	} else {
		fresh, err := concurrentHistogramFromConfig(r.cfg)
		if err != nil {
			return nil, err
		}
		fresh.instanceID = r.id
		newActive = fresh
	}

	now := nowMsec()
	newActive.SetStartTimeStampMsec(now)

	retired := r.active.Swap(newActive)
	r.phaser.flipPhase(recorderPhaserYield)
	retired.SetEndTimeStampMsec(now)
	return retired, nil
}
