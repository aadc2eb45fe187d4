package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// interruptedError is the cancellation cause recorded for a signal.
type interruptedError struct {
	sig os.Signal
}

func (e *interruptedError) Error() string {
	return "interrupted by " + e.sig.String()
}

// interruptContext derives a context that is cancelled, with an
// *interruptedError cause, by the first SIGINT or SIGTERM. Cancellation
// aborts the in-flight storage request and an unclosed upload is dropped. A
// second signal exits immediately. stop releases the signal handler and must
// be called once the command returns.
func interruptContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancelCause(parent)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigs)

		for interrupted := false; ; interrupted = true {
			select {
			case sig := <-sigs:
				if interrupted {
					logger.Warn("second interrupt, exiting without cleanup", slog.String("signal", sig.String()))
					os.Exit(exitStatus(&interruptedError{sig: sig}))
				}

				logger.Warn("interrupted, aborting current request", slog.String("signal", sig.String()))
				cancel(&interruptedError{sig: sig})
			case <-parent.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return ctx, func() {
		close(done)
		cancel(nil)
	}
}

// exitStatus maps a cancellation cause to a process exit code: 128 plus the
// signal number for interrupts, 1 otherwise.
func exitStatus(cause error) int {
	var ie *interruptedError
	if errors.As(cause, &ie) {
		if n, ok := ie.sig.(syscall.Signal); ok {
			return 128 + int(n)
		}
	}

	return 1
}
