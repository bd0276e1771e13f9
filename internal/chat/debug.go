package chat

import (
	"fmt"
	"os"
	"sync"
)

var (
	debugOnce    sync.Once
	debugEnabled bool
)

// debugf writes a trace line to stderr when MCPCHAT_DEBUG is set. The engine
// has no user-visible logging of its own; everything the user should see
// flows through emit.
func debugf(format string, args ...any) {
	debugOnce.Do(func() {
		debugEnabled = os.Getenv("MCPCHAT_DEBUG") != ""
	})
	if !debugEnabled {
		return
	}
	fmt.Fprintf(os.Stderr, "[chat] "+format+"\n", args...)
}
