package hdrhistogram

import (
	"sync/atomic"
	"time"
)

// defaultPhaserYield is the yield interval used by every internal
// flipPhase call that isn't driven by a caller-supplied value (e.g.
// resize/shift triggered directly by a recording call, rather than by
// Recorder.GetIntervalHistogram which supplies its own).
const defaultPhaserYield = 10 * time.Microsecond

var nextConcurrentInstanceID atomic.Int64

// concurrentCounts is the counts-interface facade over a concurrent
// histogram's double-buffered atomic storage: reads sum both buffers,
// so a shift/resize in progress still exposes a correct total; writes
// during recording go through ConcurrentHistogram's own phaser-guarded
// path, not through this facade's add (which is only exercised by
// Histogram.Add/Subtract merges against a frozen snapshot).
type concurrentCounts struct {
	buffers [2]*atomicCounts
	length  atomic.Int32
}

func (c *concurrentCounts) len() int32 { return c.length.Load() }

func (c *concurrentCounts) get(i int32) int64 {
	return c.buffers[0].get(i) + c.buffers[1].get(i)
}

func (c *concurrentCounts) set(i int32, v int64) {
	c.buffers[0].set(i, v)
	c.buffers[1].set(i, 0)
}

func (c *concurrentCounts) add(i int32, delta int64) int64 {
	return c.buffers[0].add(i, delta) + c.buffers[1].get(i)
}

func (c *concurrentCounts) clear() {
	c.buffers[0].clear()
	c.buffers[1].clear()
}

func (c *concurrentCounts) clone() counts {
	nc := &concurrentCounts{}
	nc.buffers[0] = c.buffers[0].clone().(*atomicCounts)
	nc.buffers[1] = c.buffers[1].clone().(*atomicCounts)
	nc.length.Store(c.length.Load())
	return nc
}

// ConcurrentHistogram is a Histogram whose recording path is lock-free
// and safe for any number of concurrent callers. It embeds *Histogram
// and so exposes every query, iteration, merge, and codec-adjacent
// method Histogram does, operating transparently over the
// double-buffered storage; only the recording methods, Reset, and the
// resize/shift operations are overridden to add the phaser protocol.
//
// Query methods inherited from Histogram are NOT guaranteed consistent
// with a resize/shift running concurrently on the same instance —
// arbitrary query operations during live recording may observe torn
// state; only Recorder's snapshot mechanism gives that guarantee.
type ConcurrentHistogram struct {
	*Histogram
	phaser     *phaser
	buffers    *concurrentCounts
	activeIdx  atomic.Int32
	instanceID int64

	// geomPtr mirrors Histogram.geometry for the one read site
	// (RecordValues) that runs with no synchronization at all against
	// resize: resize/ShiftValuesLeft/ShiftValuesRight are serialized
	// against each other by phaser.readerLock, but recorders never take
	// that lock, so a plain field read of a multi-field geometry struct
	// racing resize's assignment would be a torn read. geomPtr gives
	// recorders a single atomic load of a consistent geometry snapshot
	// instead.
	geomPtr atomic.Pointer[geometry]
}

// loadGeometry returns the geometry currently in effect for recording,
// safe to call without holding phaser.readerLock.
func (ch *ConcurrentHistogram) loadGeometry() geometry { return *ch.geomPtr.Load() }

// storeGeometry publishes g as the geometry recorders will observe via
// loadGeometry. Callers must already hold phaser.readerLock.
func (ch *ConcurrentHistogram) storeGeometry(g geometry) {
	ch.Histogram.geometry = g
	ch.geomPtr.Store(&g)
}

// NewConcurrentHistogram builds a ConcurrentHistogram from the given
// options. Cell width is always 64-bit atomic; CellWidth options are
// ignored.
func NewConcurrentHistogram(opts ...Option) (*ConcurrentHistogram, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.LowestDiscernibleValue == 0 {
		cfg.LowestDiscernibleValue = 1
	}
	if cfg.HighestTrackableValue < 2*cfg.LowestDiscernibleValue {
		if !cfg.AutoResize {
			return nil, ErrInvalidConfig
		}
		if cfg.HighestTrackableValue == 0 {
			cfg.HighestTrackableValue = 2 * cfg.LowestDiscernibleValue
		}
	}
	g, err := newGeometry(cfg.LowestDiscernibleValue, cfg.HighestTrackableValue, cfg.SignificantFigures)
	if err != nil {
		return nil, err
	}
	cc := &concurrentCounts{buffers: [2]*atomicCounts{
		newAtomicCounts(g.countsArrayLength),
		newAtomicCounts(g.countsArrayLength),
	}}
	cc.length.Store(g.countsArrayLength)
	h := &Histogram{
		geometry:        g,
		autoResize:      cfg.AutoResize,
		cellWidth:       CellWidth64,
		logger:          orDiscard(cfg.Logger),
		counts:          cc,
		minNonZeroValue: noMinNonZeroValue,
	}
	ch := &ConcurrentHistogram{
		Histogram:  h,
		phaser:     &phaser{},
		buffers:    cc,
		instanceID: nextConcurrentInstanceID.Add(1),
	}
	ch.geomPtr.Store(&g)
	return ch, nil
}

// InstanceID identifies this ConcurrentHistogram for Recorder snapshot
// recycling.
func (ch *ConcurrentHistogram) InstanceID() int64 { return ch.instanceID }

// RecordValue records one occurrence of v without blocking.
func (ch *ConcurrentHistogram) RecordValue(v int64) error {
	return ch.RecordValues(v, 1)
}

// RecordValues records count occurrences of v without blocking.
func (ch *ConcurrentHistogram) RecordValues(v, count int64) error {
	if v < 0 {
		return ErrNegativeValue
	}
	for {
		g := ch.loadGeometry()
		idx := g.countsArrayIndexFor(v)
		if idx >= 0 {
			token := ch.phaser.writerCriticalSectionEnter()
			buf := ch.buffers.buffers[ch.activeIdx.Load()]
			buf.add(idx, count)
			ch.phaser.writerCriticalSectionExit(token)
			break
		}
		if !ch.Histogram.autoResize {
			return ErrValueOutOfRange
		}
		if err := ch.resize(v); err != nil {
			return err
		}
	}
	atomic.AddInt64(&ch.Histogram.totalCount, count)
	casMaxInt64(&ch.Histogram.maxValue, v)
	if v > 0 {
		casMinNonZeroInt64(&ch.Histogram.minNonZeroValue, v)
	}
	return nil
}

// RecordCorrectedValue records v with coordinated-omission correction
// (see Histogram.RecordCorrectedValue).
func (ch *ConcurrentHistogram) RecordCorrectedValue(v, expectedIntervalBetweenValueSamples int64) error {
	return ch.RecordValuesCorrected(v, 1, expectedIntervalBetweenValueSamples)
}

// RecordValuesCorrected is RecordCorrectedValue generalized to a
// repeat count.
func (ch *ConcurrentHistogram) RecordValuesCorrected(v, count, expectedIntervalBetweenValueSamples int64) error {
	if err := ch.RecordValues(v, count); err != nil {
		return err
	}
	if expectedIntervalBetweenValueSamples <= 0 || v <= expectedIntervalBetweenValueSamples {
		return nil
	}
	for missing := v - expectedIntervalBetweenValueSamples; missing >= expectedIntervalBetweenValueSamples; missing -= expectedIntervalBetweenValueSamples {
		if err := ch.RecordValues(missing, count); err != nil {
			return err
		}
	}
	return nil
}

// GetCountAtIndex returns active[i] + inactive[i] under the reader
// lock.
func (ch *ConcurrentHistogram) GetCountAtIndex(i int32) int64 {
	ch.phaser.readerLock()
	defer ch.phaser.readerUnlock()
	return ch.buffers.get(i)
}

// Reset clears both buffers and all trackers.
func (ch *ConcurrentHistogram) Reset() {
	ch.phaser.readerLock()
	defer ch.phaser.readerUnlock()
	ch.buffers.clear()
	atomic.StoreInt64(&ch.Histogram.totalCount, 0)
	atomic.StoreInt64(&ch.Histogram.maxValue, 0)
	atomic.StoreInt64(&ch.Histogram.minNonZeroValue, noMinNonZeroValue)
	ch.Histogram.startTimeStampMsec = 0
	ch.Histogram.endTimeStampMsec = 0
}

// resize grows the double-buffered counts array to cover toCover,
// using a double-flip protocol: prepare the inactive buffer, flip,
// swap, prepare the (now-inactive) formerly active buffer, flip
// again.
func (ch *ConcurrentHistogram) resize(toCover int64) error {
	ch.phaser.readerLock()
	defer ch.phaser.readerUnlock()

	oldGeom := ch.Histogram.geometry
	newGeom, err := newGeometry(oldGeom.lowestDiscernibleValue, toCover, oldGeom.significantFigures)
	if err != nil {
		return err
	}
	if newGeom.countsArrayLength <= oldGeom.countsArrayLength {
		ch.storeGeometry(newGeom)
		return nil
	}

	active := ch.activeIdx.Load()
	inactive := 1 - active

	grownInactive := newAtomicCounts(newGeom.countsArrayLength)
	ch.buffers.buffers[inactive].copyInto(grownInactive)
	ch.buffers.buffers[inactive] = grownInactive
	ch.phaser.flipPhase(defaultPhaserYield)

	ch.activeIdx.Store(inactive)
	ch.buffers.length.Store(newGeom.countsArrayLength)
	ch.storeGeometry(newGeom)

	grownActive := newAtomicCounts(newGeom.countsArrayLength)
	ch.buffers.buffers[active].copyInto(grownActive)
	ch.buffers.buffers[active] = grownActive
	ch.phaser.flipPhase(defaultPhaserYield)

	ch.Histogram.logger.WithField("newHighestTrackableValue", newGeom.highestTrackableValue).
		Debug("hdrhistogram: resized concurrent counts array")
	return nil
}

// ShiftValuesLeft multiplies every recorded value by 2^shiftAmount in
// place, using the O(1) normalizing-index-offset rotation rather than
// a bulk cell copy.
func (ch *ConcurrentHistogram) ShiftValuesLeft(shiftAmount int) error {
	if shiftAmount == 0 {
		return nil
	}
	if shiftAmount < 0 {
		return ch.ShiftValuesRight(-shiftAmount)
	}
	ch.phaser.readerLock()
	defer ch.phaser.readerUnlock()

	g := ch.Histogram.geometry
	active := ch.activeIdx.Load()
	inactive := 1 - active

	if err := applyOffsetShiftLeft(ch.buffers.buffers[inactive], g, shiftAmount); err != nil {
		return err
	}
	ch.phaser.flipPhase(defaultPhaserYield)
	ch.activeIdx.Store(inactive)
	if err := applyOffsetShiftLeft(ch.buffers.buffers[active], g, shiftAmount); err != nil {
		return err
	}
	ch.phaser.flipPhase(defaultPhaserYield)

	atomicShiftLeftInt64(&ch.Histogram.maxValue, shiftAmount)
	atomicShiftLeftNonZero(&ch.Histogram.minNonZeroValue, shiftAmount)
	ch.Histogram.logger.WithField("shiftAmount", shiftAmount).Debug("hdrhistogram: shifted concurrent values left")
	return nil
}

// ShiftValuesRight divides every recorded value by 2^shiftAmount in
// place, with underflow protection always enabled: it refuses, with
// ErrUnderflow, if any cell with index in [subBucketHalfCount,
// subBucketHalfCount + shiftAmount*subBucketHalfCount) is non-zero.
// Counts in bucket 0's lower half are re-recorded at value >>
// shiftAmount without an error.
func (ch *ConcurrentHistogram) ShiftValuesRight(shiftAmount int) error {
	if shiftAmount == 0 {
		return nil
	}
	if shiftAmount < 0 {
		return ch.ShiftValuesLeft(-shiftAmount)
	}
	ch.phaser.readerLock()
	defer ch.phaser.readerUnlock()

	g := ch.Histogram.geometry
	active := ch.activeIdx.Load()
	inactive := 1 - active

	if err := applyOffsetShiftRight(ch.buffers.buffers[inactive], g, shiftAmount); err != nil {
		return err
	}
	ch.phaser.flipPhase(defaultPhaserYield)
	ch.activeIdx.Store(inactive)
	if err := applyOffsetShiftRight(ch.buffers.buffers[active], g, shiftAmount); err != nil {
		return err
	}
	ch.phaser.flipPhase(defaultPhaserYield)

	atomicShiftRightInt64(&ch.Histogram.maxValue, shiftAmount)
	atomicShiftRightNonZero(&ch.Histogram.minNonZeroValue, shiftAmount)
	ch.Histogram.logger.WithField("shiftAmount", shiftAmount).Debug("hdrhistogram: shifted concurrent values right")
	return nil
}

// applyOffsetShiftLeft performs the O(1) offset rotation against a
// single atomic buffer.
func applyOffsetShiftLeft(buf *atomicCounts, g geometry, shiftAmount int) error {
	halfCount := g.subBucketHalfCount
	deltaCells := int32(shiftAmount) * halfCount
	n := buf.len()
	for i := n - deltaCells; i < n; i++ {
		if i >= 0 && buf.get(i) != 0 {
			return ErrOverflow
		}
	}
	lower := make([]int64, halfCount)
	for i := int32(0); i < halfCount; i++ {
		lower[i] = buf.get(i)
		buf.set(i, 0)
	}
	buf.setNormalizingIndexOffset(buf.normalizingIndexOffset() + deltaCells)
	for i := int32(0); i < halfCount; i++ {
		if lower[i] == 0 {
			continue
		}
		value := g.valueFromIndex(0, i) << uint(shiftAmount)
		idx := g.countsArrayIndexFor(value)
		if idx < 0 {
			return ErrOverflow
		}
		buf.add(idx, lower[i])
	}
	return nil
}

// applyOffsetShiftRight is the underflow-protected right-shift
// counterpart of applyOffsetShiftLeft.
func applyOffsetShiftRight(buf *atomicCounts, g geometry, shiftAmount int) error {
	halfCount := g.subBucketHalfCount
	deltaCells := int32(shiftAmount) * halfCount
	n := buf.len()
	for i := halfCount; i < halfCount+deltaCells && i < n; i++ {
		if buf.get(i) != 0 {
			return ErrUnderflow
		}
	}
	lower := make([]int64, halfCount)
	for i := int32(0); i < halfCount; i++ {
		lower[i] = buf.get(i)
		buf.set(i, 0)
	}
	buf.setNormalizingIndexOffset(buf.normalizingIndexOffset() - deltaCells)
	for i := int32(0); i < halfCount; i++ {
		if lower[i] == 0 {
			continue
		}
		value := g.valueFromIndex(0, i) >> uint(shiftAmount)
		idx := g.countsArrayIndexFor(value)
		if idx < 0 {
			idx = 0
		}
		buf.add(idx, lower[i])
	}
	return nil
}

func casMaxInt64(addr *int64, v int64) {
	for {
		old := atomic.LoadInt64(addr)
		if v <= old {
			return
		}
		if atomic.CompareAndSwapInt64(addr, old, v) {
			return
		}
	}
}

func casMinNonZeroInt64(addr *int64, v int64) {
	for {
		old := atomic.LoadInt64(addr)
		if old != noMinNonZeroValue && v >= old {
			return
		}
		if atomic.CompareAndSwapInt64(addr, old, v) {
			return
		}
	}
}

func atomicShiftLeftInt64(addr *int64, shiftAmount int) {
	for {
		old := atomic.LoadInt64(addr)
		if old == 0 {
			return
		}
		next := old << uint(shiftAmount)
		if atomic.CompareAndSwapInt64(addr, old, next) {
			return
		}
	}
}

func atomicShiftRightInt64(addr *int64, shiftAmount int) {
	for {
		old := atomic.LoadInt64(addr)
		if old == 0 {
			return
		}
		next := old >> uint(shiftAmount)
		if atomic.CompareAndSwapInt64(addr, old, next) {
			return
		}
	}
}

func atomicShiftLeftNonZero(addr *int64, shiftAmount int) {
	for {
		old := atomic.LoadInt64(addr)
		if old == noMinNonZeroValue {
			return
		}
		next := old << uint(shiftAmount)
		if atomic.CompareAndSwapInt64(addr, old, next) {
			return
		}
	}
}

func atomicShiftRightNonZero(addr *int64, shiftAmount int) {
	for {
		old := atomic.LoadInt64(addr)
		if old == noMinNonZeroValue {
			return
		}
		next := old >> uint(shiftAmount)
		if next == 0 {
			next = 1
		}
		if atomic.CompareAndSwapInt64(addr, old, next) {
			return
		}
	}
}
