package hdrhistogram

import "errors"

// Sentinel errors returned by histogram operations. Callers should use
// errors.Is to test for a specific kind rather than comparing error
// values directly.
var (
	// ErrInvalidConfig is returned by constructors when a configuration
	// parameter is out of its allowed range.
	ErrInvalidConfig = errors.New("hdrhistogram: invalid configuration")

	// ErrNegativeValue is returned by recording operations when asked
	// to record a negative value.
	ErrNegativeValue = errors.New("hdrhistogram: value is negative")

	// ErrValueOutOfRange is returned when a value exceeds the
	// histogram's highest trackable value and auto-resize is disabled.
	ErrValueOutOfRange = errors.New("hdrhistogram: value is too large to be recorded")

	// ErrOverflow is returned by a left shift that would displace a
	// non-zero cell past the end of the counts array.
	ErrOverflow = errors.New("hdrhistogram: shift would overflow histogram")

	// ErrUnderflow is returned by a protected right shift when a
	// non-zero cell lies in the index range that the shift cannot carry
	// over (see Histogram.ShiftValuesRight), or by a subtraction that
	// would drive a cell negative.
	ErrUnderflow = errors.New("hdrhistogram: operation would underflow histogram")

	// ErrInvalidFormat is returned by the wire codec on an unknown
	// cookie, a truncated buffer, or a cookie whose word size is not 2,
	// 4 or 8 bytes.
	ErrInvalidFormat = errors.New("hdrhistogram: invalid encoded histogram")

	// ErrRecycleMismatch is returned by Recorder.GetIntervalHistogram
	// when the supplied histogram to recycle was not obtained from a
	// previous call on this same recorder.
	ErrRecycleMismatch = errors.New("hdrhistogram: histogram was not obtained from this recorder")
)
