package hdrhistogram

import (
	"math"
	"math/bits"
)

// highestAllowedEver is the largest power of two not exceeding
// math.MaxFloat64/4, computed rather than hard-coded so the exact
// float64 exponent boundary never has to be restated by hand. No
// double histogram will auto-range past this value: one more
// left-shift beyond it could carry currentHighestValueLimitInAutoRange
// to +Inf, per spec.md §4.8.
var highestAllowedEver = func() float64 {
	limit := math.MaxFloat64 / 4
	p := 1.0
	for p*2 <= limit {
		p *= 2
	}
	return p
}()

// DoubleHistogram is the auto-ranging floating-point wrapper of
// spec.md §4.8: it holds a fixed-size integer Histogram and a current
// [lowest, highestLimit) window, shifting that window (and rescaling
// every already-recorded cell via Histogram.ShiftValuesLeft/Right) as
// values outside it arrive, instead of ever reallocating.
type DoubleHistogram struct {
	integer *Histogram

	highestToLowestValueRatio float64
	significantFigures        int64

	lowestTrackingInt int64 // subBucketHalfCount of the internal histogram

	currentLowestValueInAutoRange      float64
	currentHighestValueLimitInAutoRange float64

	integerToDoubleValueConversionRatio float64
	doubleToIntegerValueConversionRatio float64
}

// NewDoubleHistogram builds a DoubleHistogram able to track values
// whose highest-to-lowest ratio is up to highestToLowestValueRatio,
// with significantFigures decimal digits of relative precision. It
// fails with ErrInvalidConfig if highestToLowestValueRatio < 2 or
// ratio·10^significantFigures exceeds 2^60 (spec.md §6 "Validity").
func NewDoubleHistogram(highestToLowestValueRatio float64, significantFigures int64, opts ...Option) (*DoubleHistogram, error) {
	if highestToLowestValueRatio < 2 {
		return nil, ErrInvalidConfig
	}
	if significantFigures < minSignificantFigures || significantFigures > maxSignificantFigures {
		return nil, ErrInvalidConfig
	}
	if highestToLowestValueRatio*pow10f(significantFigures) > math.Exp2(60) {
		return nil, ErrInvalidConfig
	}

	lowestTrackingInt, err := subBucketHalfCountForSigFigs(significantFigures)
	if err != nil {
		return nil, err
	}

	internalRatio := internalHighestToLowestRatio(highestToLowestValueRatio)
	integerValueRange := int64(lowestTrackingInt) * internalRatio

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	integerHist, err := NewFromConfig(Config{
		LowestDiscernibleValue: 1,
		HighestTrackableValue:  integerValueRange,
		SignificantFigures:     significantFigures,
		CellWidth:              CellWidth64,
		Logger:                 cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	d := &DoubleHistogram{
		integer:                   integerHist,
		highestToLowestValueRatio: highestToLowestValueRatio,
		significantFigures:        significantFigures,
		lowestTrackingInt:         int64(lowestTrackingInt),
	}
	// Start with the covered range ending at 2; a non-zero value
	// outside [currentLowest, currentHighestLimit) moves it via
	// auto-adjust.
	d.currentHighestValueLimitInAutoRange = 2
	d.currentLowestValueInAutoRange = d.currentHighestValueLimitInAutoRange / float64(internalRatio)
	d.refreshConversionRatios()
	return d, nil
}

// subBucketHalfCountForSigFigs computes the subBucketHalfCount a
// geometry with the given significant figures would have, independent
// of lowestDiscernibleValue/highestTrackableValue (those two never
// enter this part of the derivation; see geometry.go's newGeometry).
func subBucketHalfCountForSigFigs(significantFigures int64) (int32, error) {
	if significantFigures < minSignificantFigures || significantFigures > maxSignificantFigures {
		return 0, ErrInvalidConfig
	}
	largestValueWithSingleUnitResolution := 2 * pow10(significantFigures)
	magnitude := int64(bits.Len64(uint64(largestValueWithSingleUnitResolution - 1)))
	if magnitude < 1 {
		magnitude = 1
	}
	magnitude--
	subBucketCount := int32(1) << uint(magnitude+1)
	return subBucketCount / 2, nil
}

func pow10f(exp int64) float64 {
	n := 1.0
	for ; exp > 0; exp-- {
		n *= 10
	}
	return n
}

// internalHighestToLowestRatio returns 2^(ceil(log2(externalRatio))+1),
// twice the smallest power of two not below externalRatio, per
// spec.md §4.8.
func internalHighestToLowestRatio(externalRatio float64) int64 {
	m := int64(1)
	for float64(m) < externalRatio {
		m <<= 1
	}
	return m << 1
}

func (d *DoubleHistogram) refreshConversionRatios() {
	d.integerToDoubleValueConversionRatio = d.currentLowestValueInAutoRange / float64(d.lowestTrackingInt)
	d.doubleToIntegerValueConversionRatio = 1.0 / d.integerToDoubleValueConversionRatio
}

// IntegerHistogram returns the backing integer histogram, for codec
// use.
func (d *DoubleHistogram) IntegerHistogram() *Histogram { return d.integer }

// HighestToLowestValueRatio returns the configured dynamic range.
func (d *DoubleHistogram) HighestToLowestValueRatio() float64 { return d.highestToLowestValueRatio }

// SignificantFigures returns the configured precision.
func (d *DoubleHistogram) SignificantFigures() int64 { return d.significantFigures }

// IntegerToDoubleValueConversionRatio returns the current scale
// factor, as stored verbatim in the wire format (spec.md §4.9).
func (d *DoubleHistogram) IntegerToDoubleValueConversionRatio() float64 {
	return d.integerToDoubleValueConversionRatio
}

// RecordValue records one occurrence of x, auto-ranging if needed.
func (d *DoubleHistogram) RecordValue(x float64) error {
	return d.RecordValues(x, 1)
}

// RecordValues records count occurrences of x, auto-ranging if needed.
func (d *DoubleHistogram) RecordValues(x float64, count int64) error {
	if x < 0 {
		return ErrNegativeValue
	}
	if x > highestAllowedEver {
		return ErrValueOutOfRange
	}
	for x != 0 && (x < d.currentLowestValueInAutoRange || x >= d.currentHighestValueLimitInAutoRange) {
		if err := d.autoAdjustRangeFor(x); err != nil {
			return err
		}
	}
	scaled := int64(x * d.doubleToIntegerValueConversionRatio)
	return d.integer.RecordValues(scaled, count)
}

// autoAdjustRangeFor shifts the covered range to admit x, which must
// presently fall outside [currentLowest, currentHighestLimit).
func (d *DoubleHistogram) autoAdjustRangeFor(x float64) error {
	if x < d.currentLowestValueInAutoRange {
		return d.shiftCoveredRangeRight(x)
	}
	return d.shiftCoveredRangeLeft(x)
}

// shiftCoveredRangeRight lowers the covered range to admit a small
// value x below the current floor (spec.md §4.8 "Auto-adjust right").
func (d *DoubleHistogram) shiftCoveredRangeRight(x float64) error {
	ratio := int64(math.Ceil(d.currentLowestValueInAutoRange / x))
	k := int(binaryOrderOfMagnitude(ratio)) - 1
	if k < 1 {
		k = 1
	}
	if err := d.integer.ShiftValuesLeft(k); err != nil {
		return err
	}
	factor := math.Exp2(float64(k))
	d.currentLowestValueInAutoRange /= factor
	d.currentHighestValueLimitInAutoRange /= factor
	d.refreshConversionRatios()
	return nil
}

// shiftCoveredRangeLeft raises the covered range to admit a large
// value x at or above the current ceiling (spec.md §4.8 "Auto-adjust
// left"). The math.Nextafter-based ulp bump ensures a value exactly at
// a power-of-two boundary of the current limit still forces the range
// to grow, rather than landing exactly on the new boundary again.
func (d *DoubleHistogram) shiftCoveredRangeLeft(x float64) error {
	ulp := math.Nextafter(x, math.Inf(1)) - x
	ratio := int64(math.Ceil((x + ulp) / d.currentHighestValueLimitInAutoRange))
	k := int(binaryOrderOfMagnitude(ratio)) - 1
	if k < 1 {
		k = 1
	}
	if err := d.integer.ShiftValuesRight(k, true); err != nil {
		return err
	}
	factor := math.Exp2(float64(k))
	d.currentLowestValueInAutoRange *= factor
	d.currentHighestValueLimitInAutoRange *= factor
	d.refreshConversionRatios()
	return nil
}

// binaryOrderOfMagnitude returns the smallest m such that 2^m >= r,
// for r >= 1.
func binaryOrderOfMagnitude(r int64) int64 {
	if r <= 1 {
		return 0
	}
	return int64(bits.Len64(uint64(r - 1)))
}

// TotalCount returns the number of values recorded.
func (d *DoubleHistogram) TotalCount() int64 { return d.integer.TotalCount() }

// GetMinValue returns the scaled minimum recorded value.
func (d *DoubleHistogram) GetMinValue() float64 {
	return float64(d.integer.GetMinValue()) * d.integerToDoubleValueConversionRatio
}

// GetMaxValue returns the scaled maximum recorded value.
func (d *DoubleHistogram) GetMaxValue() float64 {
	return float64(d.integer.GetMaxValue()) * d.integerToDoubleValueConversionRatio
}

// GetMean returns the scaled arithmetic mean.
func (d *DoubleHistogram) GetMean() float64 {
	return d.integer.GetMean() * d.integerToDoubleValueConversionRatio
}

// GetStdDeviation returns the scaled standard deviation.
func (d *DoubleHistogram) GetStdDeviation() float64 {
	return d.integer.GetStdDeviation() * d.integerToDoubleValueConversionRatio
}

// GetValueAtPercentile returns the scaled value at the given percentile.
func (d *DoubleHistogram) GetValueAtPercentile(percentile float64) float64 {
	return float64(d.integer.GetValueAtPercentile(percentile)) * d.integerToDoubleValueConversionRatio
}

// GetPercentileAtOrBelowValue returns the percentage of recorded
// values at or below x.
func (d *DoubleHistogram) GetPercentileAtOrBelowValue(x float64) float64 {
	scaled := int64(x * d.doubleToIntegerValueConversionRatio)
	return d.integer.GetPercentileAtOrBelowValue(scaled)
}

// GetCountBetweenValues returns the count of recorded values in [lo, hi].
func (d *DoubleHistogram) GetCountBetweenValues(lo, hi float64) int64 {
	loScaled := int64(lo * d.doubleToIntegerValueConversionRatio)
	hiScaled := int64(hi * d.doubleToIntegerValueConversionRatio)
	return d.integer.GetCountBetweenValues(loScaled, hiScaled)
}

// GetCountAtValue returns the count of the cell containing x.
func (d *DoubleHistogram) GetCountAtValue(x float64) int64 {
	scaled := int64(x * d.doubleToIntegerValueConversionRatio)
	return d.integer.GetCountAtValue(scaled)
}

// Reset clears all recorded values and restores the initial covered
// range.
func (d *DoubleHistogram) Reset() {
	d.integer.Reset()
	internalRatio := internalHighestToLowestRatio(d.highestToLowestValueRatio)
	d.currentHighestValueLimitInAutoRange = 2
	d.currentLowestValueInAutoRange = d.currentHighestValueLimitInAutoRange / float64(internalRatio)
	d.refreshConversionRatios()
}
