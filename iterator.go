package hdrhistogram

import "math"

// IterationValue is the tuple produced by every iterator in this
// package, describing one step of a traversal over recorded values.
type IterationValue struct {
	ValueIteratedTo               int64
	ValueIteratedFrom             int64
	CountAtValueIteratedTo        int64
	CountAddedInThisIterationStep int64
	TotalCountToThisValue         int64
	TotalValueToThisValue         int64
	PercentileLevelIteratedTo      float64
}

// baseIterator walks the counts array bucket-by-bucket (bucket 0 is
// the full linear sub-bucket range; every later bucket walks only its
// upper half). It backs AllValuesIterator, RecordedValuesIterator, and
// PercentileIterator.
type baseIterator struct {
	h                  *Histogram
	bucketIndex        int32
	subBucketIndex     int32
	countAtIndex       int64
	countToIndex       int64
	valueFromIndexVal  int64
	totalValueToIndex  int64
	prevValueIteratedTo int64
}

func newBaseIterator(h *Histogram) baseIterator {
	return baseIterator{h: h, subBucketIndex: -1}
}

// advance moves to the next cell in increasing array-index order,
// updating countAtIndex/countToIndex/valueFromIndexVal. It returns
// false once every recorded count has been consumed or the bucket
// range is exhausted.
func (b *baseIterator) advance() bool {
	if b.countToIndex >= b.h.totalCount {
		return false
	}
	g := b.h.geometry
	b.subBucketIndex++
	if b.subBucketIndex >= g.subBucketCount {
		b.subBucketIndex = g.subBucketHalfCount
		b.bucketIndex++
	}
	if b.bucketIndex >= g.bucketCount {
		return false
	}
	idx := g.countsArrayIndex(b.bucketIndex, b.subBucketIndex)
	b.countAtIndex = b.h.counts.get(idx)
	b.countToIndex += b.countAtIndex
	value := g.valueFromIndex(b.bucketIndex, b.subBucketIndex)
	b.valueFromIndexVal = value
	b.totalValueToIndex += b.countAtIndex * g.medianEquivalentValue(value)
	return true
}

func (b *baseIterator) value() IterationValue {
	g := b.h.geometry
	v := IterationValue{
		ValueIteratedTo:               g.highestEquivalentValue(b.valueFromIndexVal),
		ValueIteratedFrom:             b.prevValueIteratedTo,
		CountAtValueIteratedTo:        b.countAtIndex,
		CountAddedInThisIterationStep: b.countAtIndex,
		TotalCountToThisValue:         b.countToIndex,
		TotalValueToThisValue:         b.totalValueToIndex,
	}
	if b.h.totalCount > 0 {
		v.PercentileLevelIteratedTo = 100 * float64(b.countToIndex) / float64(b.h.totalCount)
	}
	b.prevValueIteratedTo = v.ValueIteratedTo
	return v
}

// AllValuesIterator visits cells of the counts array in increasing
// value order, including cells with a zero count. It stops at the cell
// where the cumulative count reaches the total count; cells above the
// highest recorded value are not visited.
type AllValuesIterator struct {
	base baseIterator
}

// AllValues returns an iterator over every cell, zero or not, up to
// the last cell with a recorded count.
func (h *Histogram) AllValues() *AllValuesIterator {
	return &AllValuesIterator{base: newBaseIterator(h)}
}

// Next returns the next value in the sequence, or false when exhausted.
func (it *AllValuesIterator) Next() (IterationValue, bool) {
	if !it.base.advance() {
		return IterationValue{}, false
	}
	return it.base.value(), true
}

// RecordedValuesIterator visits only cells with a non-zero count.
type RecordedValuesIterator struct {
	base baseIterator
}

// RecordedValues returns an iterator over non-zero cells only.
func (h *Histogram) RecordedValues() *RecordedValuesIterator {
	return &RecordedValuesIterator{base: newBaseIterator(h)}
}

// Next returns the next non-zero value in the sequence, or false when
// exhausted.
func (it *RecordedValuesIterator) Next() (IterationValue, bool) {
	for it.base.advance() {
		if it.base.countAtIndex != 0 {
			return it.base.value(), true
		}
	}
	return IterationValue{}, false
}

// PercentileIterator emits reports at percentile ticks that double in
// density as 100% is approached.
type PercentileIterator struct {
	base                   baseIterator
	ticksPerHalfDistance   int32
	percentileToIterateTo  float64
	seenLastValue          bool
}

// Percentiles returns a percentile iterator. ticksPerHalfDistance
// controls how many ticks are emitted as the remaining distance to
// 100% is repeatedly halved; 1 reproduces the coarsest useful curve,
// higher values produce denser tails.
func (h *Histogram) Percentiles(ticksPerHalfDistance int32) *PercentileIterator {
	if ticksPerHalfDistance < 1 {
		ticksPerHalfDistance = 1
	}
	return &PercentileIterator{base: newBaseIterator(h), ticksPerHalfDistance: ticksPerHalfDistance}
}

// Next returns the next percentile tick, or false once the 100% tick
// has been emitted.
func (p *PercentileIterator) Next() (IterationValue, bool) {
	if p.base.countToIndex >= p.base.h.totalCount {
		if p.seenLastValue {
			return IterationValue{}, false
		}
		p.seenLastValue = true
		v := p.base.value()
		v.PercentileLevelIteratedTo = 100
		return v, true
	}
	if p.base.subBucketIndex == -1 {
		if !p.base.advance() {
			return IterationValue{}, false
		}
	}
	for {
		currentPercentile := 100.0 * float64(p.base.countToIndex) / float64(p.base.h.totalCount)
		if p.base.countAtIndex != 0 && p.percentileToIterateTo <= currentPercentile {
			v := p.base.value()
			v.PercentileLevelIteratedTo = p.percentileToIterateTo
			halfDistance := math.Pow(2, (math.Log(100.0/(100.0-p.percentileToIterateTo))/math.Log(2))+1)
			percentileReportingTicks := float64(p.ticksPerHalfDistance) * halfDistance
			p.percentileToIterateTo += 100.0 / percentileReportingTicks
			return v, true
		}
		if !p.base.advance() {
			return IterationValue{}, false
		}
	}
}

// levelIterator scans the counts array by raw array index (every
// index is visited exactly once, in increasing value order, since
// geometry.countsArrayIndex is a bijection onto [0, countsArrayLength))
// accumulating running totals. It backs LinearIterator and
// LogarithmicIterator, whose reporting levels don't correspond 1:1 to
// individual cells.
type levelIterator struct {
	h          *Histogram
	cellIndex  int32
	countToThis int64
	valueToThis int64
}

func newLevelIterator(h *Histogram) levelIterator {
	return levelIterator{h: h}
}

// accumulateUpTo folds every remaining cell whose representative value
// is below limit into the running totals, stopping at the first cell
// at or above limit (or at the end of the array).
func (li *levelIterator) accumulateUpTo(limit int64) (countThisStep int64, ranOffEnd bool) {
	g := li.h.geometry
	for li.cellIndex < g.countsArrayLength {
		val := g.valueFromCountsIndex(li.cellIndex)
		if val >= limit {
			return countThisStep, false
		}
		c := li.h.counts.get(li.cellIndex)
		countThisStep += c
		li.countToThis += c
		li.valueToThis += c * g.medianEquivalentValue(val)
		li.cellIndex++
	}
	return countThisStep, true
}

// LinearIterator emits a report every valueUnitsPerBucket value units.
type LinearIterator struct {
	li             levelIterator
	unitsPerBucket int64
	nextLevel      int64
	exhausted      bool
}

// LinearBucketValues returns a linear iterator stepping by
// valueUnitsPerBucket. It fails with ErrInvalidConfig if
// valueUnitsPerBucket is not positive.
func (h *Histogram) LinearBucketValues(valueUnitsPerBucket int64) (*LinearIterator, error) {
	if valueUnitsPerBucket <= 0 {
		return nil, ErrInvalidConfig
	}
	return &LinearIterator{li: newLevelIterator(h), unitsPerBucket: valueUnitsPerBucket, nextLevel: valueUnitsPerBucket}, nil
}

// Next returns the next linear-bucket report, or false once the bucket
// whose upper end covers the histogram's maximum value has been
// emitted.
func (it *LinearIterator) Next() (IterationValue, bool) {
	if it.exhausted {
		return IterationValue{}, false
	}
	h := it.li.h
	maxVal := h.GetMaxValue()
	lowerBound := it.nextLevel - it.unitsPerBucket
	if lowerBound > maxVal {
		it.exhausted = true
		return IterationValue{}, false
	}
	limit := h.geometry.lowestEquivalentValue(it.nextLevel)
	countThisStep, _ := it.li.accumulateUpTo(limit)
	v := IterationValue{
		ValueIteratedTo:               it.nextLevel - 1,
		ValueIteratedFrom:             lowerBound,
		CountAtValueIteratedTo:        countThisStep,
		CountAddedInThisIterationStep: countThisStep,
		TotalCountToThisValue:         it.li.countToThis,
		TotalValueToThisValue:         it.li.valueToThis,
	}
	if h.totalCount > 0 {
		v.PercentileLevelIteratedTo = 100 * float64(it.li.countToThis) / float64(h.totalCount)
	}
	it.nextLevel += it.unitsPerBucket
	return v, true
}

// LogarithmicIterator emits reports at
// valueUnitsInFirstBucket * logBase^k for k = 0, 1, 2, ...
type LogarithmicIterator struct {
	li               levelIterator
	firstBucketUnits int64
	logBase          float64
	k                int
	prevLevel        int64
	nextLevel        int64
	exhausted        bool
}

// LogarithmicBucketValues returns a logarithmic iterator. It fails
// with ErrInvalidConfig if valueUnitsInFirstBucket is not positive or
// logBase is not greater than 1.
func (h *Histogram) LogarithmicBucketValues(valueUnitsInFirstBucket int64, logBase float64) (*LogarithmicIterator, error) {
	if valueUnitsInFirstBucket <= 0 || logBase <= 1.0 {
		return nil, ErrInvalidConfig
	}
	return &LogarithmicIterator{
		li:               newLevelIterator(h),
		firstBucketUnits: valueUnitsInFirstBucket,
		logBase:          logBase,
		nextLevel:        valueUnitsInFirstBucket,
	}, nil
}

// Next returns the next logarithmic-bucket report, or false once the
// bucket covering the histogram's maximum value has been emitted.
func (it *LogarithmicIterator) Next() (IterationValue, bool) {
	if it.exhausted {
		return IterationValue{}, false
	}
	h := it.li.h
	maxVal := h.GetMaxValue()
	lowerBound := it.prevLevel
	if lowerBound > maxVal {
		it.exhausted = true
		return IterationValue{}, false
	}
	limit := h.geometry.lowestEquivalentValue(it.nextLevel)
	countThisStep, _ := it.li.accumulateUpTo(limit)
	v := IterationValue{
		ValueIteratedTo:               it.nextLevel - 1,
		ValueIteratedFrom:             lowerBound,
		CountAtValueIteratedTo:        countThisStep,
		CountAddedInThisIterationStep: countThisStep,
		TotalCountToThisValue:         it.li.countToThis,
		TotalValueToThisValue:         it.li.valueToThis,
	}
	if h.totalCount > 0 {
		v.PercentileLevelIteratedTo = 100 * float64(it.li.countToThis) / float64(h.totalCount)
	}
	it.prevLevel = it.nextLevel
	it.k++
	it.nextLevel = int64(float64(it.firstBucketUnits) * math.Pow(it.logBase, float64(it.k)))
	if it.nextLevel <= it.prevLevel {
		it.nextLevel = it.prevLevel + 1
	}
	return v, true
}

// Bracket is one point of a cumulative distribution, as returned by
// CumulativeDistribution.
type Bracket struct {
	Quantile float64
	Count    int64
}

// CumulativeDistribution returns an ordered list of brackets of the
// distribution of recorded values, using a percentile iterator with
// one tick per half-distance.
func (h *Histogram) CumulativeDistribution() []Bracket {
	it := h.Percentiles(1)
	var out []Bracket
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, Bracket{Quantile: v.PercentileLevelIteratedTo, Count: v.TotalCountToThisValue})
	}
	return out
}
