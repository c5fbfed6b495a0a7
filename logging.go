package hdrhistogram

import (
	"io"

	"github.com/sirupsen/logrus"
)

// discardLogger is the default logger for every component that
// accepts a logrus.FieldLogger: recording never logs, so a real
// logger is only ever exercised on resize/shift/auto-range paths. A
// discarding logger keeps those call sites branch-free when the
// caller hasn't configured one, instead of nil-checking on every call.
var discardLogger logrus.FieldLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func orDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return discardLogger
	}
	return l
}
