package hdrhistogram

import "encoding/base64"

// EncodeIntervalRecord base64-encodes h's deflate-compressed wire
// encoding, i.e. exactly the value that belongs in the
// base64(compressedHistogram) field of one interval-log line (spec.md
// §4.9, §6). Reading and writing the rest of that line — the
// StartTimestamp/Interval/MaxValue columns, the #[StartTime: ...] and
// #[BaseTime: ...] comment directives, CSV framing — is out of scope
// here, same as in spec.md; this is the one boundary primitive an
// external interval-log tool needs from the core.
func EncodeIntervalRecord(h *Histogram) (string, error) {
	compressed, err := EncodeHistogramCompressed(h)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// DecodeIntervalRecord reverses EncodeIntervalRecord.
func DecodeIntervalRecord(field string) (*Histogram, error) {
	compressed, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	return DecodeHistogram(compressed)
}
