package safego

import (
	"fmt"

	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery.
// If the goroutine panics, the panic value is logged and the goroutine exits
// cleanly instead of crashing the process.
//
// Usage:
//
//	safego.Go(logger, "config-watch", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name, nil)
		fn()
	}()
}

// Recover is meant to be deferred. It logs a recovered panic and, when errp
// is non-nil, turns the panic into an error on the caller's named return.
func Recover(logger *zap.Logger, name string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error("Goroutine panicked",
		zap.String("goroutine", name),
		zap.Any("panic", r),
		zap.Stack("stack"),
	)
	if errp != nil {
		*errp = fmt.Errorf("%s panicked: %v", name, r)
	}
}
