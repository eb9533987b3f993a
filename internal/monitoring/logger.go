// Package monitoring holds the service-wide diagnostic logger.
package monitoring

import "log"

// Logf is the package-level diagnostic logger used by the ingest and
// evaluation paths. It defaults to log.Printf; tests mute or capture it via
// SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// Warnf logs a recoverable degradation (fallback taken, defaults used). It
// shares the sink with Logf but prefixes the line so operators can grep for
// degraded cycles.
func Warnf(format string, v ...interface{}) {
	Logf("warning: "+format, v...)
}

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
