package hdrhistogram

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/klauspost/compress/flate"
)

// Wire-format cookies, per spec.md §4.9. The low nibble of a histogram
// cookie names the format (plain, compressed, legacy V0 plain, legacy
// V0 compressed); for the current (non-V0) format the next nibble up
// carries the cell width in bytes.
const (
	cookieV2PlainBase      = uint32(0x1c849301)
	cookieV2CompressedBase = uint32(0x1c849302)
	cookieV0Plain          = uint32(0x1c849308)
	cookieV0Compressed     = uint32(0x1c849309)

	cookieDoubleV2Plain      = uint32(0x0c72124c)
	cookieDoubleV2Compressed = uint32(0x0c72124d)
	cookieDoubleV0Plain      = uint32(0x0c72144c)
	cookieDoubleV0Compressed = uint32(0x0c72144d)

	v2HeaderLen = 40
	v0HeaderLen = 32
)

func histogramCookie(wordSize int32, compressed bool) uint32 {
	base := cookieV2PlainBase
	if compressed {
		base = cookieV2CompressedBase
	}
	return base | (uint32(wordSize) << 4)
}

// EncodeHistogram writes h's plain (uncompressed) wire encoding.
func EncodeHistogram(h *Histogram) ([]byte, error) {
	return encodeHistogramBody(h), nil
}

// EncodeHistogramCompressed writes h's deflate-compressed wire
// encoding: an 8-byte {cookie, deflatedByteLength} header followed by
// the deflated plain encoding of everything after the cookie.
func EncodeHistogramCompressed(h *Histogram) ([]byte, error) {
	body := encodeHistogramBody(h)
	return compressBody(wordSizeFor(h.cellWidth), body)
}

func wordSizeFor(w CellWidth) int32 {
	if w == 0 {
		return int32(CellWidth64)
	}
	return int32(w)
}

// encodeHistogramBody writes the full plain V2 layout of spec.md §4.9,
// including the leading cookie. ratio is the
// integerToDoubleValueConversionRatio field; plain integer histograms
// (not wrapped in a DoubleHistogram) always carry 1.0 there.
func encodeHistogramBody(h *Histogram) []byte {
	return encodeHistogramBodyWithRatio(h, 1.0)
}

func encodeHistogramBodyWithRatio(h *Histogram, ratio float64) []byte {
	wordSize := wordSizeFor(h.cellWidth)
	n := h.counts.len()
	buf := make([]byte, v2HeaderLen+int(n)*int(wordSize))

	binary.BigEndian.PutUint32(buf[0:4], histogramCookie(wordSize, false))
	binary.BigEndian.PutUint32(buf[4:8], uint32(n)*uint32(wordSize))
	binary.BigEndian.PutUint32(buf[8:12], uint32(normalizingOffsetOf(h.counts)))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.geometry.significantFigures))
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.geometry.lowestDiscernibleValue))
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.geometry.highestTrackableValue))
	binary.BigEndian.PutUint64(buf[32:40], math.Float64bits(ratio))

	writeCells(buf[v2HeaderLen:], h.counts, n, wordSize)
	return buf
}

// normalizingOffsetOf returns c's normalizing index offset if it is an
// atomic (concurrent) counts array, or 0 otherwise: only that variant
// carries one.
func normalizingOffsetOf(c counts) int32 {
	if ac, ok := c.(*atomicCounts); ok {
		return ac.normalizingIndexOffset()
	}
	return 0
}

func writeCells(dst []byte, c counts, n int32, wordSize int32) {
	for i := int32(0); i < n; i++ {
		v := c.get(i)
		off := int(i) * int(wordSize)
		switch wordSize {
		case 2:
			binary.BigEndian.PutUint16(dst[off:off+2], uint16(v))
		case 4:
			binary.BigEndian.PutUint32(dst[off:off+4], uint32(v))
		default:
			binary.BigEndian.PutUint64(dst[off:off+8], uint64(v))
		}
	}
}

func compressBody(wordSize int32, body []byte) ([]byte, error) {
	var deflated bytes.Buffer
	w, err := flate.NewWriter(&deflated, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body[4:]); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, 8+deflated.Len())
	binary.BigEndian.PutUint32(out[0:4], histogramCookie(wordSize, true))
	binary.BigEndian.PutUint32(out[4:8], uint32(deflated.Len()))
	copy(out[8:], deflated.Bytes())
	return out, nil
}

// DecodeHistogram reads a histogram encoded by EncodeHistogram or
// EncodeHistogramCompressed. It auto-detects compression and V0
// legacy format from the cookie.
func DecodeHistogram(data []byte) (*Histogram, error) {
	if len(data) < 4 {
		return nil, ErrInvalidFormat
	}
	cookie := binary.BigEndian.Uint32(data[0:4])
	if cookie&^0xFF != cookieV2PlainBase&^0xFF {
		return nil, ErrInvalidFormat
	}
	versionNibble := cookie & 0xF

	switch versionNibble {
	case 0x1, 0x8:
		return decodeHistogramBody(data)
	case 0x2, 0x9:
		body, err := decompressBody(data)
		if err != nil {
			return nil, err
		}
		return decodeHistogramBody(body)
	default:
		return nil, ErrInvalidFormat
	}
}

func decompressBody(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, ErrInvalidFormat
	}
	cookie := binary.BigEndian.Uint32(data[0:4])
	deflatedLen := binary.BigEndian.Uint32(data[4:8])
	if int(deflatedLen) > len(data)-8 {
		return nil, ErrInvalidFormat
	}
	r := flate.NewReader(bytes.NewReader(data[8 : 8+int(deflatedLen)]))
	defer r.Close()
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	plainCookie := cookie - 1 // 0x2->0x1, 0x9->0x8: compressed nibble is always plain nibble + 1
	out := make([]byte, 4+len(rest))
	binary.BigEndian.PutUint32(out[0:4], plainCookie)
	copy(out[4:], rest)
	return out, nil
}

func decodeHistogramBody(data []byte) (*Histogram, error) {
	h, _, err := decodeHistogramBodyWithRatio(data)
	return h, err
}

func decodeHistogramBodyWithRatio(data []byte) (*Histogram, float64, error) {
	if len(data) < 4 {
		return nil, 0, ErrInvalidFormat
	}
	cookie := binary.BigEndian.Uint32(data[0:4])
	versionNibble := cookie & 0xF

	var headerLen int
	var wordSize int32
	var normalizingOffset int32
	var ratio = 1.0
	var payloadLen uint32
	var significantFigures int64
	var lowest, highest int64

	switch versionNibble {
	case 0x1:
		if len(data) < v2HeaderLen {
			return nil, 0, ErrInvalidFormat
		}
		wordSize = int32((cookie >> 4) & 0xF)
		headerLen = v2HeaderLen
		payloadLen = binary.BigEndian.Uint32(data[4:8])
		normalizingOffset = int32(binary.BigEndian.Uint32(data[8:12]))
		significantFigures = int64(binary.BigEndian.Uint32(data[12:16]))
		lowest = int64(binary.BigEndian.Uint64(data[16:24]))
		highest = int64(binary.BigEndian.Uint64(data[24:32]))
		ratio = math.Float64frombits(binary.BigEndian.Uint64(data[32:40]))
	case 0x8:
		// Legacy V0 header: no normalizingIndexOffset or conversion
		// ratio field, 32 bytes total (cookie, payload length,
		// significant figures, 8-byte lowest/highest, 4 bytes
		// reserved).
		if len(data) < v0HeaderLen {
			return nil, 0, ErrInvalidFormat
		}
		wordSize = 8
		headerLen = v0HeaderLen
		payloadLen = binary.BigEndian.Uint32(data[4:8])
		significantFigures = int64(binary.BigEndian.Uint32(data[8:12]))
		lowest = int64(binary.BigEndian.Uint64(data[12:20]))
		highest = int64(binary.BigEndian.Uint64(data[20:28]))
	default:
		return nil, 0, ErrInvalidFormat
	}

	g, err := newGeometry(lowest, highest, significantFigures)
	if err != nil {
		return nil, 0, err
	}

	n := int32(payloadLen) / wordSize
	if n > g.countsArrayLength {
		n = g.countsArrayLength
	}
	cellWidth, err := cellWidthForWordSize(wordSize)
	if err != nil {
		return nil, 0, err
	}
	c, err := newCounts(cellWidth, g.countsArrayLength)
	if err != nil {
		return nil, 0, err
	}

	cellsStart := headerLen
	if len(data) < cellsStart+int(n)*int(wordSize) {
		return nil, 0, ErrInvalidFormat
	}
	for i := int32(0); i < n; i++ {
		off := cellsStart + int(i)*int(wordSize)
		var v int64
		switch wordSize {
		case 2:
			v = int64(binary.BigEndian.Uint16(data[off : off+2]))
		case 4:
			v = int64(binary.BigEndian.Uint32(data[off : off+4]))
		default:
			v = int64(binary.BigEndian.Uint64(data[off : off+8]))
		}
		if v != 0 {
			c.set(i, v)
		}
	}
	if ac, ok := c.(*atomicCounts); ok {
		ac.setNormalizingIndexOffset(normalizingOffset)
	}

	h := &Histogram{
		geometry:        g,
		cellWidth:       cellWidth,
		logger:          discardLogger,
		counts:          c,
		minNonZeroValue: noMinNonZeroValue,
	}
	h.ReestablishTotalCount()
	establishMinMax(h)
	return h, ratio, nil
}

// establishMinMax rebuilds maxValue/minNonZeroValue from a full scan,
// per spec.md §4.9 "establishInternalTrackingValues".
func establishMinMax(h *Histogram) {
	n := h.counts.len()
	for i := int32(0); i < n; i++ {
		if h.counts.get(i) == 0 {
			continue
		}
		v := h.geometry.valueFromCountsIndex(i)
		if i > 0 && v > h.maxValue {
			h.maxValue = v
		}
		if v > 0 && (h.minNonZeroValue == noMinNonZeroValue || v < h.minNonZeroValue) {
			h.minNonZeroValue = v
		}
	}
}

func cellWidthForWordSize(wordSize int32) (CellWidth, error) {
	switch wordSize {
	case 2:
		return CellWidth16, nil
	case 4:
		return CellWidth32, nil
	case 8:
		return CellWidth64, nil
	default:
		return 0, ErrInvalidFormat
	}
}

// EncodeDoubleHistogram writes d's plain wire encoding: the double
// wrapper header followed by the embedded integer histogram's own
// plain encoding.
func EncodeDoubleHistogram(d *DoubleHistogram) ([]byte, error) {
	inner := encodeHistogramBodyWithRatio(d.integer, d.integerToDoubleValueConversionRatio)

	out := make([]byte, 16+len(inner))
	binary.BigEndian.PutUint32(out[0:4], cookieDoubleV2Plain)
	binary.BigEndian.PutUint32(out[4:8], uint32(d.significantFigures))
	binary.BigEndian.PutUint64(out[8:16], math.Float64bits(d.highestToLowestValueRatio))
	copy(out[16:], inner)
	return out, nil
}

// EncodeDoubleHistogramCompressed writes d's deflate-compressed wire
// encoding.
func EncodeDoubleHistogramCompressed(d *DoubleHistogram) ([]byte, error) {
	inner := encodeHistogramBodyWithRatio(d.integer, d.integerToDoubleValueConversionRatio)

	header := make([]byte, 16)
	binary.BigEndian.PutUint32(header[0:4], cookieDoubleV2Compressed)
	binary.BigEndian.PutUint32(header[4:8], uint32(d.significantFigures))
	binary.BigEndian.PutUint64(header[8:16], math.Float64bits(d.highestToLowestValueRatio))

	var deflated bytes.Buffer
	w, err := flate.NewWriter(&deflated, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(header[4:]); err != nil {
		return nil, err
	}
	if _, err := w.Write(inner); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, 8+deflated.Len())
	binary.BigEndian.PutUint32(out[0:4], cookieDoubleV2Compressed)
	binary.BigEndian.PutUint32(out[4:8], uint32(deflated.Len()))
	copy(out[8:], deflated.Bytes())
	return out, nil
}

// DecodeDoubleHistogram reads a histogram encoded by
// EncodeDoubleHistogram or EncodeDoubleHistogramCompressed.
func DecodeDoubleHistogram(data []byte) (*DoubleHistogram, error) {
	if len(data) < 4 {
		return nil, ErrInvalidFormat
	}
	cookie := binary.BigEndian.Uint32(data[0:4])

	var header []byte
	switch cookie {
	case cookieDoubleV2Plain, cookieDoubleV0Plain:
		if len(data) < 16 {
			return nil, ErrInvalidFormat
		}
		header = data[:16]
		data = data[16:]
	case cookieDoubleV2Compressed, cookieDoubleV0Compressed:
		if len(data) < 8 {
			return nil, ErrInvalidFormat
		}
		deflatedLen := binary.BigEndian.Uint32(data[4:8])
		if int(deflatedLen) > len(data)-8 {
			return nil, ErrInvalidFormat
		}
		r := flate.NewReader(bytes.NewReader(data[8 : 8+int(deflatedLen)]))
		defer r.Close()
		rest, err := io.ReadAll(r)
		if err != nil || len(rest) < 12 {
			return nil, ErrInvalidFormat
		}
		header = append([]byte{0, 0, 0, 0}, rest[:12]...)
		binary.BigEndian.PutUint32(header[0:4], cookie)
		data = rest[12:]
	default:
		return nil, ErrInvalidFormat
	}

	significantFigures := int64(binary.BigEndian.Uint32(header[4:8]))
	highestToLowestValueRatio := math.Float64frombits(binary.BigEndian.Uint64(header[8:16]))

	innerCookie := binary.BigEndian.Uint32(data[0:4])
	innerPlain := data
	if innerCookie&0xF == 0x2 || innerCookie&0xF == 0x9 {
		plain, err := decompressBody(data)
		if err != nil {
			return nil, err
		}
		innerPlain = plain
	}
	innerHist, ratio, err := decodeHistogramBodyWithRatio(innerPlain)
	if err != nil {
		return nil, err
	}

	lowestTrackingInt, err := subBucketHalfCountForSigFigs(significantFigures)
	if err != nil {
		return nil, err
	}
	d := &DoubleHistogram{
		integer:                   innerHist,
		highestToLowestValueRatio: highestToLowestValueRatio,
		significantFigures:        significantFigures,
		lowestTrackingInt:         int64(lowestTrackingInt),
	}
	// integerToDoubleValueConversionRatio = currentLowest / lowestTrackingInt
	// (spec.md §3), so the wire-format ratio directly recovers the
	// auto-range floor the encoder had in effect; the ceiling follows
	// from the class invariant highestLimit/lowest = internalRatio.
	d.currentLowestValueInAutoRange = ratio * float64(lowestTrackingInt)
	d.currentHighestValueLimitInAutoRange = d.currentLowestValueInAutoRange * float64(internalHighestToLowestRatio(highestToLowestValueRatio))
	d.refreshConversionRatios()
	return d, nil
}
