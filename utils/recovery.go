package utils

import (
	"fmt"
	"runtime/debug"
)

// PanicError carries a recovered panic value and its stack
type PanicError struct {
	Context string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Context, e.Value)
}

// RecoverFromPanic recovers from panics and logs them. When onPanic is not
// nil it receives the recovered panic as an error.
func RecoverFromPanic(logger *Logger, context string, onPanic func(error)) {
	if r := recover(); r != nil {
		perr := &PanicError{Context: context, Value: r, Stack: debug.Stack()}
		logger.Error("Panic recovered in %s: %v\nStack trace:\n%s", context, r, string(perr.Stack))
		if onPanic != nil {
			onPanic(perr)
		}
	}
}

// SafeGo runs a goroutine with panic recovery
func SafeGo(logger *Logger, context string, fn func()) {
	go func() {
		defer RecoverFromPanic(logger, context, nil)
		fn()
	}()
}

// SafeGoWithError runs a goroutine with panic recovery; both a returned
// error and a panic are reported to onError
func SafeGoWithError(logger *Logger, context string, fn func() error, onError func(error)) {
	go func() {
		defer RecoverFromPanic(logger, context, onError)
		if err := fn(); err != nil {
			logger.Error("Error in %s: %v", context, err)
			if onError != nil {
				onError(err)
			}
		}
	}()
}
