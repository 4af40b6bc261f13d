package observability

import "runtime/debug"

// RecoverPanic recovers a panic and logs it with the stack trace.
// Call in a defer at the top of goroutines that must not take the
// process down.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", where).
			Error("panic recovered")
	}
}
