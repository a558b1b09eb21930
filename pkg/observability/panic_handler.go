package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers a panic in the calling goroutine and logs it with the
// panic value and full stack trace. Intended for defer in background jobs
// where a panic must not take down the process:
//
//	defer observability.RecoverPanic(logger, "session gauge refresh")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("recovered from panic")
	}
}
