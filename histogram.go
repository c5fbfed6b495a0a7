// Package hdrhistogram provides an implementation of Gil Tene's HDR
// Histogram data structure. The HDR Histogram allows for fast and
// accurate analysis of the extreme ranges of data with non-normal
// distributions, like latency, while keeping memory use bounded: every
// value is quantized to a configurable number of significant decimal
// digits rather than stored exactly.
//
// Histogram itself is not safe for concurrent recording; use
// ConcurrentHistogram for lock-free concurrent recording, or Recorder
// for a double-buffered recording front end with periodic interval
// snapshots.
package hdrhistogram

import (
	"math"

	"github.com/sirupsen/logrus"
)

// noMinNonZeroValue is the sentinel minNonZeroValue before any
// positive value has been recorded.
const noMinNonZeroValue = math.MaxInt64

// Config holds the immutable-per-histogram configuration. Zero values
// are not valid on their own; use DefaultConfig or the With* options
// to build one, or construct a Histogram directly with New(options...).
type Config struct {
	LowestDiscernibleValue int64
	HighestTrackableValue  int64
	SignificantFigures     int64
	AutoResize             bool
	CellWidth              CellWidth
	Logger                 logrus.FieldLogger
}

// DefaultConfig returns a baseline configuration: a lowest discernible
// value of 1, three significant figures, 64-bit cells, and auto-resize
// disabled. HighestTrackableValue must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		LowestDiscernibleValue: 1,
		SignificantFigures:     3,
		CellWidth:              CellWidth64,
	}
}

// Option configures a Config in place, following the functional-
// options idiom.
type Option func(*Config)

// WithLowestDiscernibleValue sets the smallest value that must be
// distinguished from 0 and from its neighbors.
func WithLowestDiscernibleValue(v int64) Option {
	return func(c *Config) { c.LowestDiscernibleValue = v }
}

// WithHighestTrackableValue sets the largest value the histogram must
// track without resizing.
func WithHighestTrackableValue(v int64) Option {
	return func(c *Config) { c.HighestTrackableValue = v }
}

// WithSignificantFigures sets the number of decimal digits of
// guaranteed relative precision, in [0, 5].
func WithSignificantFigures(sf int64) Option {
	return func(c *Config) { c.SignificantFigures = sf }
}

// WithAutoResize enables growing the counts array to admit values
// above HighestTrackableValue instead of failing them.
func WithAutoResize(enabled bool) Option {
	return func(c *Config) { c.AutoResize = enabled }
}

// WithCellWidth selects the per-cell counter width for a non-
// concurrent histogram.
func WithCellWidth(w CellWidth) Option {
	return func(c *Config) { c.CellWidth = w }
}

// WithLogger attaches a structured logger used for Debug-level
// resize/shift notifications. Recording never logs.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) { c.Logger = l }
}

// Histogram is a lossy, bounded-relative-error data structure
// recording the distribution of non-negative integer values. It is not
// safe for concurrent recording; use ConcurrentHistogram or Recorder
// for that.
type Histogram struct {
	geometry   geometry
	autoResize bool
	cellWidth  CellWidth
	logger     logrus.FieldLogger

	counts counts

	totalCount      int64
	maxValue        int64
	minNonZeroValue int64

	startTimeStampMsec int64
	endTimeStampMsec   int64
}

// New builds a Histogram from the given options, applied on top of
// DefaultConfig. At minimum WithHighestTrackableValue must be given
// (or WithAutoResize(true) with some positive highest value as a
// starting size).
func New(opts ...Option) (*Histogram, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewFromConfig(cfg)
}

// NewFromConfig builds a Histogram from an explicit Config.
func NewFromConfig(cfg Config) (*Histogram, error) {
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
	c, err := newCounts(cfg.CellWidth, g.countsArrayLength)
	if err != nil {
		return nil, err
	}
	return &Histogram{
		geometry:        g,
		autoResize:      cfg.AutoResize,
		cellWidth:       cfg.CellWidth,
		logger:          orDiscard(cfg.Logger),
		counts:          c,
		minNonZeroValue: noMinNonZeroValue,
	}, nil
}

// Config returns the configuration this histogram was built with
// (HighestTrackableValue reflects the current, possibly auto-grown,
// value).
func (h *Histogram) Config() Config {
	return Config{
		LowestDiscernibleValue: h.geometry.lowestDiscernibleValue,
		HighestTrackableValue:  h.geometry.highestTrackableValue,
		SignificantFigures:     h.geometry.significantFigures,
		AutoResize:             h.autoResize,
		CellWidth:              h.cellWidth,
	}
}

// LowestDiscernibleValue returns the configured lowest discernible
// value.
func (h *Histogram) LowestDiscernibleValue() int64 { return h.geometry.lowestDiscernibleValue }

// HighestTrackableValue returns the current highest trackable value
// (may have grown past its construction-time value under auto-resize).
func (h *Histogram) HighestTrackableValue() int64 { return h.geometry.highestTrackableValue }

// SignificantFigures returns the configured precision.
func (h *Histogram) SignificantFigures() int64 { return h.geometry.significantFigures }

// Len returns the length of the underlying counts array.
func (h *Histogram) Len() int32 { return h.counts.len() }

// StartTimeStampMsec returns the opaque start timestamp, in
// milliseconds, stamped by a recorder or left at 0 if never set.
func (h *Histogram) StartTimeStampMsec() int64 { return h.startTimeStampMsec }

// EndTimeStampMsec returns the opaque end timestamp, in milliseconds.
func (h *Histogram) EndTimeStampMsec() int64 { return h.endTimeStampMsec }

// SetStartTimeStampMsec sets the start timestamp; used by Recorder.
func (h *Histogram) SetStartTimeStampMsec(v int64) { h.startTimeStampMsec = v }

// SetEndTimeStampMsec sets the end timestamp; used by Recorder.
func (h *Histogram) SetEndTimeStampMsec(v int64) { h.endTimeStampMsec = v }

// RecordValue records one occurrence of v. It fails with
// ErrNegativeValue if v is negative, or ErrValueOutOfRange if v
// exceeds HighestTrackableValue and auto-resize is disabled.
func (h *Histogram) RecordValue(v int64) error {
	return h.RecordValues(v, 1)
}

// RecordValues records count occurrences of v.
func (h *Histogram) RecordValues(v, count int64) error {
	if v < 0 {
		return ErrNegativeValue
	}
	idx := h.geometry.countsArrayIndexFor(v)
	if idx < 0 {
		if !h.autoResize {
			return ErrValueOutOfRange
		}
		if err := h.growToCover(v); err != nil {
			return err
		}
		idx = h.geometry.countsArrayIndexFor(v)
		if idx < 0 {
			return ErrValueOutOfRange
		}
	}
	h.counts.add(idx, count)
	h.totalCount += count
	if v > h.maxValue {
		h.maxValue = v
	}
	if v > 0 && (h.minNonZeroValue == noMinNonZeroValue || v < h.minNonZeroValue) {
		h.minNonZeroValue = v
	}
	return nil
}

// RecordCorrectedValue records v and, if expectedIntervalBetweenValueSamples
// is positive and smaller than v, synthesizes additional records at
// v-interval, v-2*interval, ... down to (but not below) interval, each
// with count 1. This corrects for coordinated omission: a long pause
// before v was observed would otherwise hide every sample that should
// have been recorded during the pause.
func (h *Histogram) RecordCorrectedValue(v, expectedIntervalBetweenValueSamples int64) error {
	return h.RecordValuesCorrected(v, 1, expectedIntervalBetweenValueSamples)
}

// RecordValuesCorrected is RecordCorrectedValue generalized to a
// repeat count.
func (h *Histogram) RecordValuesCorrected(v, count, expectedIntervalBetweenValueSamples int64) error {
	if err := h.RecordValues(v, count); err != nil {
		return err
	}
	if expectedIntervalBetweenValueSamples <= 0 || v <= expectedIntervalBetweenValueSamples {
		return nil
	}
	for missingValue := v - expectedIntervalBetweenValueSamples; missingValue >= expectedIntervalBetweenValueSamples; missingValue -= expectedIntervalBetweenValueSamples {
		if err := h.RecordValues(missingValue, count); err != nil {
			return err
		}
	}
	return nil
}

// growToCover reallocates the counts array so that v fits, keeping
// every existing cell's meaning unchanged (bucket 0's layout and the
// unit magnitude never change on growth, only bucketCount does, so
// cells below the old array length keep the same array index).
func (h *Histogram) growToCover(v int64) error {
	newGeom, err := newGeometry(h.geometry.lowestDiscernibleValue, v, h.geometry.significantFigures)
	if err != nil {
		return err
	}
	if newGeom.countsArrayLength <= h.counts.len() {
		h.geometry = newGeom
		return nil
	}
	newCounts, err := newCounts(h.cellWidth, newGeom.countsArrayLength)
	if err != nil {
		return err
	}
	oldLen := h.counts.len()
	for i := int32(0); i < oldLen; i++ {
		if val := h.counts.get(i); val != 0 {
			newCounts.set(i, val)
		}
	}
	h.logger.WithField("newHighestTrackableValue", newGeom.highestTrackableValue).Debug("hdrhistogram: grew counts array")
	h.counts = newCounts
	h.geometry = newGeom
	return nil
}

// TotalCount returns the number of values recorded.
func (h *Histogram) TotalCount() int64 { return h.totalCount }

// GetMinValue returns 0 if the zero cell has been recorded into, or
// the histogram is empty; otherwise the lowest equivalent value of the
// minimum recorded non-zero value.
func (h *Histogram) GetMinValue() int64 {
	if h.totalCount == 0 {
		return 0
	}
	if h.counts.get(0) != 0 {
		return 0
	}
	if h.minNonZeroValue == noMinNonZeroValue {
		return 0
	}
	return h.geometry.lowestEquivalentValue(h.minNonZeroValue)
}

// GetMaxValue returns the highest equivalent value of the maximum
// recorded value, or 0 if empty.
func (h *Histogram) GetMaxValue() int64 {
	if h.totalCount == 0 {
		return 0
	}
	return h.geometry.highestEquivalentValue(h.maxValue)
}

// GetValueAtPercentile returns the value at or below which percentile
// percent of recorded values fall.
func (h *Histogram) GetValueAtPercentile(percentile float64) int64 {
	if h.totalCount == 0 {
		return 0
	}
	if percentile > 100 {
		percentile = 100
	}
	if percentile < 0 {
		percentile = 0
	}
	countAtPercentile := int64((percentile/100.0)*float64(h.totalCount) + 0.5)
	if countAtPercentile < 1 {
		countAtPercentile = 1
	}
	var total int64
	it := newBaseIterator(h)
	for it.advance() {
		total = it.countToIndex
		if total >= countAtPercentile {
			return h.geometry.highestEquivalentValue(it.valueFromIndexVal)
		}
	}
	return h.GetMaxValue()
}

// GetPercentileAtOrBelowValue returns the percentage of recorded
// values that are at or below v.
func (h *Histogram) GetPercentileAtOrBelowValue(v int64) float64 {
	if h.totalCount == 0 {
		return 100.0
	}
	targetIdx := h.geometry.countsArrayIndexFor(v)
	last := h.counts.len() - 1
	if targetIdx < 0 {
		targetIdx = last
	}
	if targetIdx > last {
		targetIdx = last
	}
	var total int64
	for i := int32(0); i <= targetIdx; i++ {
		total += h.counts.get(i)
	}
	return 100.0 * float64(total) / float64(h.totalCount)
}

// GetCountBetweenValues returns the number of recorded values in
// [lo, hi], clamped to the array bounds.
func (h *Histogram) GetCountBetweenValues(lo, hi int64) int64 {
	loIdx := h.geometry.countsArrayIndexFor(lo)
	if loIdx < 0 {
		loIdx = 0
	}
	hiIdx := h.geometry.countsArrayIndexFor(hi)
	if hiIdx < 0 || hiIdx >= h.counts.len() {
		hiIdx = h.counts.len() - 1
	}
	var total int64
	for i := loIdx; i <= hiIdx; i++ {
		total += h.counts.get(i)
	}
	return total
}

// GetCountAtValue returns the count of the single cell containing v.
func (h *Histogram) GetCountAtValue(v int64) int64 {
	idx := h.geometry.countsArrayIndexFor(v)
	if idx < 0 {
		return 0
	}
	return h.counts.get(idx)
}

// GetMean returns the arithmetic mean of recorded values, or 0 if
// empty.
func (h *Histogram) GetMean() float64 {
	if h.totalCount == 0 {
		return 0
	}
	var total int64
	it := h.RecordedValues()
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		total += v.CountAtValueIteratedTo * h.geometry.medianEquivalentValue(v.ValueIteratedTo)
	}
	return float64(total) / float64(h.totalCount)
}

// GetStdDeviation returns the standard deviation of recorded values,
// or 0 if empty.
func (h *Histogram) GetStdDeviation() float64 {
	if h.totalCount == 0 {
		return 0
	}
	mean := h.GetMean()
	var geometricDevTotal float64
	it := h.RecordedValues()
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		dev := float64(h.geometry.medianEquivalentValue(v.ValueIteratedTo)) - mean
		geometricDevTotal += dev * dev * float64(v.CountAtValueIteratedTo)
	}
	return math.Sqrt(geometricDevTotal / float64(h.totalCount))
}

// HasOverflowed reports whether any non-atomic narrow cell has
// wrapped, detected a-posteriori by comparing a full cell scan against
// totalCount.
func (h *Histogram) HasOverflowed() bool {
	var sum int64
	n := h.counts.len()
	for i := int32(0); i < n; i++ {
		sum += h.counts.get(i)
	}
	return sum != h.totalCount
}

// ReestablishTotalCount rebuilds totalCount from a full scan of the
// counts array, accepting lossy semantics on a histogram that has
// overflowed.
func (h *Histogram) ReestablishTotalCount() {
	var sum int64
	n := h.counts.len()
	for i := int32(0); i < n; i++ {
		sum += h.counts.get(i)
	}
	h.totalCount = sum
}

// Reset clears all cells and trackers but keeps geometry.
func (h *Histogram) Reset() {
	h.counts.clear()
	h.totalCount = 0
	h.maxValue = 0
	h.minNonZeroValue = noMinNonZeroValue
	h.startTimeStampMsec = 0
	h.endTimeStampMsec = 0
}

// Equals reports whether h and other have identical geometry, cells,
// and total count, and the same GetMinValue and GetMaxValue (min and
// max are compared up to equivalence, so a decoded histogram whose
// trackers were rebuilt from its cells equals its source).
func (h *Histogram) Equals(other *Histogram) bool {
	if other == nil {
		return false
	}
	if h.geometry != other.geometry {
		return false
	}
	if h.totalCount != other.totalCount || h.GetMaxValue() != other.GetMaxValue() || h.GetMinValue() != other.GetMinValue() {
		return false
	}
	n := h.counts.len()
	if n != other.counts.len() {
		return false
	}
	for i := int32(0); i < n; i++ {
		if h.counts.get(i) != other.counts.get(i) {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of h.
func (h *Histogram) Copy() *Histogram {
	cp := *h
	cp.counts = h.counts.clone()
	return &cp
}

// CopyCorrectedForCoordinatedOmission returns a deep copy of h with
// coordinated-omission correction applied as though every recorded
// value had been recorded via RecordCorrectedValue.
func (h *Histogram) CopyCorrectedForCoordinatedOmission(expectedIntervalBetweenValueSamples int64) (*Histogram, error) {
	out, err := NewFromConfig(h.Config())
	if err != nil {
		return nil, err
	}
	out.logger = h.logger
	it := h.RecordedValues()
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		if err := out.RecordValuesCorrected(v.ValueIteratedTo, v.CountAtValueIteratedTo, expectedIntervalBetweenValueSamples); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Add merges other into h. If the two histograms have compatible
// array layouts the merge is cell-for-cell; otherwise every non-zero
// cell of other is re-recorded at its representative value into h.
func (h *Histogram) Add(other *Histogram) error {
	if h.geometry.sameLayout(other.geometry) {
		n := other.counts.len()
		for i := int32(0); i < n; i++ {
			if v := other.counts.get(i); v != 0 {
				h.counts.add(i, v)
			}
		}
		h.totalCount += other.totalCount
		if other.maxValue > h.maxValue {
			h.maxValue = other.maxValue
		}
		if other.minNonZeroValue != noMinNonZeroValue && (h.minNonZeroValue == noMinNonZeroValue || other.minNonZeroValue < h.minNonZeroValue) {
			h.minNonZeroValue = other.minNonZeroValue
		}
		return nil
	}
	it := other.RecordedValues()
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		if err := h.RecordValues(v.ValueIteratedTo, v.CountAtValueIteratedTo); err != nil {
			return err
		}
	}
	return nil
}

// Subtract removes the counts recorded in other from h. It fails with
// ErrUnderflow (leaving h unchanged) if any resulting cell would be
// negative.
func (h *Histogram) Subtract(other *Histogram) error {
	if !h.geometry.sameLayout(other.geometry) {
		return h.subtractByIteration(other)
	}
	n := other.counts.len()
	for i := int32(0); i < n; i++ {
		if h.counts.get(i) < other.counts.get(i) {
			return ErrUnderflow
		}
	}
	for i := int32(0); i < n; i++ {
		if v := other.counts.get(i); v != 0 {
			h.counts.add(i, -v)
		}
	}
	h.totalCount -= other.totalCount
	h.ReestablishTotalCount()
	return nil
}

func (h *Histogram) subtractByIteration(other *Histogram) error {
	type delta struct {
		idx   int32
		count int64
	}
	var deltas []delta
	it := other.RecordedValues()
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		idx := h.geometry.countsArrayIndexFor(v.ValueIteratedTo)
		if idx < 0 || h.counts.get(idx) < v.CountAtValueIteratedTo {
			return ErrUnderflow
		}
		deltas = append(deltas, delta{idx: idx, count: v.CountAtValueIteratedTo})
	}
	for _, d := range deltas {
		h.counts.add(d.idx, -d.count)
		h.totalCount -= d.count
	}
	h.ReestablishTotalCount()
	return nil
}

// ShiftValuesLeft multiplies every recorded value by 2^shiftAmount,
// keeping the covered range unchanged. It fails with ErrOverflow
// (leaving h unchanged) if any non-zero cell would be displaced past
// the end of the array.
func (h *Histogram) ShiftValuesLeft(shiftAmount int) error {
	if shiftAmount == 0 {
		return nil
	}
	if shiftAmount < 0 {
		return h.ShiftValuesRight(-shiftAmount, true)
	}
	g := h.geometry
	shift := int32(shiftAmount) * g.subBucketHalfCount
	n := h.counts.len()
	for i := n - shift; i < n; i++ {
		if i >= 0 && h.counts.get(i) != 0 {
			return ErrOverflow
		}
	}

	// Bucket 0's lower half aliases values whose representative
	// changes non-linearly under a shift (they become part of bucket
	// 0's upper half, or roll into bucket 1, depending on magnitude);
	// pull them out, shift everything else by simple index rotation,
	// then re-record the pulled-out values at their new indices.
	halfCount := g.subBucketHalfCount
	lowerHalf := make([]int64, halfCount)
	for i := int32(0); i < halfCount; i++ {
		lowerHalf[i] = h.counts.get(i)
		h.counts.set(i, 0)
	}

	for i := n - 1; i >= shift; i-- {
		h.counts.set(i, h.counts.get(i-shift))
	}
	for i := int32(0); i < shift && i < n; i++ {
		h.counts.set(i, 0)
	}

	for i := int32(0); i < halfCount; i++ {
		if lowerHalf[i] == 0 {
			continue
		}
		value := g.valueFromIndex(0, i) << uint(shiftAmount)
		idx := g.countsArrayIndexFor(value)
		if idx < 0 {
			return ErrOverflow
		}
		h.counts.add(idx, lowerHalf[i])
	}

	if h.maxValue > 0 {
		h.maxValue <<= uint(shiftAmount)
	}
	if h.minNonZeroValue != noMinNonZeroValue {
		h.minNonZeroValue <<= uint(shiftAmount)
	}
	h.logger.WithField("shiftAmount", shiftAmount).Debug("hdrhistogram: shifted values left")
	return nil
}

// ShiftValuesRight divides every recorded value by 2^shiftAmount. When
// underflowProtection is true it refuses (leaving h unchanged, with
// ErrUnderflow) if any cell with index in [subBucketHalfCount,
// subBucketHalfCount + shiftAmount*subBucketHalfCount) is non-zero;
// when false, those cells are folded by summation into bucket 0's
// lower half instead. In both modes the cells of bucket 0's lower half
// are compacted: each group of 2^shiftAmount adjacent cells collapses
// into one by summation, without an error.
func (h *Histogram) ShiftValuesRight(shiftAmount int, underflowProtection bool) error {
	if shiftAmount == 0 {
		return nil
	}
	if shiftAmount < 0 {
		return h.ShiftValuesLeft(-shiftAmount)
	}
	g := h.geometry
	shift := int32(shiftAmount) * g.subBucketHalfCount
	halfCount := g.subBucketHalfCount

	if underflowProtection {
		for i := halfCount; i < halfCount+shift && i < h.counts.len(); i++ {
			if h.counts.get(i) != 0 {
				return ErrUnderflow
			}
		}
	}

	n := h.counts.len()

	// Compact bucket 0's lower half, which would otherwise be shifted
	// out of existence: every group of 2^shiftAmount adjacent
	// lower-half cells collapses into one cell by summation. This runs
	// whether or not protection is on.
	compacted := make([]int64, halfCount)
	factor := int32(1) << uint(shiftAmount)
	for i := int32(0); i < halfCount; i++ {
		v := h.counts.get(i)
		if v == 0 {
			continue
		}
		dst := i / factor
		if dst >= halfCount {
			dst = halfCount - 1
		}
		compacted[dst] += v
	}
	// Cells in [halfCount, halfCount+shift) land in bucket 0's lower
	// half after the shift (protection has already refused if any is
	// non-zero); fold them in so that no count is dropped.
	for i := halfCount; i < halfCount+shift && i < n; i++ {
		if v := h.counts.get(i); v != 0 {
			compacted[g.countsArrayIndexFor(g.valueFromCountsIndex(i)>>uint(shiftAmount))] += v
		}
	}

	for i := int32(0); i < n-shift; i++ {
		h.counts.set(i, h.counts.get(i+shift))
	}
	for i := n - shift; i < n; i++ {
		if i >= 0 {
			h.counts.set(i, 0)
		}
	}
	for i := int32(0); i < halfCount; i++ {
		h.counts.set(i, compacted[i])
	}

	if h.maxValue > 0 {
		h.maxValue >>= uint(shiftAmount)
	}
	if h.minNonZeroValue != noMinNonZeroValue {
		h.minNonZeroValue >>= uint(shiftAmount)
		if h.minNonZeroValue == 0 {
			h.minNonZeroValue = 1
		}
	}
	h.logger.WithField("shiftAmount", shiftAmount).Debug("hdrhistogram: shifted values right")
	return nil
}
