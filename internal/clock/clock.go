// Package clock provides a cheap, cached wall-clock reading. Its only
// caller is the dongle package, for the B0 retransmission timer and
// the Server's last-activity stamp.
package clock

import (
	"sync"
	"time"
)

var (
	nowVar   time.Time = time.Now()
	nowVarLk sync.RWMutex
)

func init() {
	go reader()
}

// reader refreshes the cached time every 50ms. The dongle's B0
// retransmission timer and last-activity stamp (spec.md §4.4.3) only
// need coarse resolution, so this avoids a time.Now() syscall on every
// frame.
func reader() {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for now := range t.C {
		nowVarLk.Lock()
		nowVar = now
		nowVarLk.Unlock()
	}
}

// Now returns the cached current time.
func Now() time.Time {
	nowVarLk.RLock()
	defer nowVarLk.RUnlock()
	return nowVar
}
