package common

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

var goroutineCounter atomic.Int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo.
func GetGoroutineCount() int64 {
	return goroutineCounter.Load()
}

// SafeGo runs fn in a goroutine. A panic is logged with its stack instead of
// taking the process down.
//
//	common.SafeGo(logger, "poll", func() {
//	    c.poll(ctx, flow)
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	SafeGoWithRecovery(logger, name, fn, nil)
}

// SafeGoWithRecovery is SafeGo with a hook that runs after a panic has been
// logged. Goroutines whose owner waits on them use it to report the failure,
// otherwise the owner would wait forever.
func SafeGoWithRecovery(logger arbor.ILogger, name string, fn func(), onPanic func(recovered interface{})) {
	goroutineCounter.Add(1)

	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			stack := stackTrace(false)
			if logger == nil {
				fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stack)
			} else {
				logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", stack).
					Msg("Recovered from panic in goroutine")
			}
			if onPanic != nil {
				onPanic(r)
			}
		}()

		fn()
	}()
}
