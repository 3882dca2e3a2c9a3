package starfish

import (
	"sync"
	"sync/atomic"
)

// The platform runs a single hardware video pipeline. videoPipelineBusy is
// the process-wide claim on it; audio feeds are not limited.
var videoPipelineBusy atomic.Bool

// acquireVideoPipeline claims the video pipeline. It never blocks: when the
// pipeline is already held it reports ok=false. On success the returned
// release must be called on every exit path after acquisition, including
// Open validation failures; it is safe to call more than once.
func acquireVideoPipeline() (release func(), ok bool) {
	if videoPipelineBusy.Swap(true) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { videoPipelineBusy.Store(false) })
	}, true
}
