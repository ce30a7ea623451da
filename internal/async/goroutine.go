package async

import (
	"runtime/debug"

	"github.com/wdonsong/huntly/internal/logging"
)

// Go runs fn in a background goroutine and logs any panic instead of letting
// it crash the daemon.
func Go(logger logging.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if name == "" {
					name = "anonymous"
				}
				logging.OrNop(logger).Error("goroutine panic [%s]: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
