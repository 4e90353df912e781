// socket/reaper.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide holding area for workers whose socket departed while
// the worker goroutine may still be inside a blocking syscall. The
// registry keeps such workers reachable until their goroutine observes
// quit and exits.

package socket

import (
	mapset "github.com/deckarep/golang-set/v2"
)

var detachedWorkers = mapset.NewSet[*worker]()

// reap registers a detached worker. The worker's quit flag is already
// set; it is collected by Cleanup once its goroutine finishes.
func reap(w *worker) {
	detachedWorkers.Add(w)
}

// ReaperSize reports the number of workers awaiting collection.
func ReaperSize() int {
	return detachedWorkers.Cardinality()
}

// Cleanup joins detached workers that have finished and releases their
// wakeup primitives. With force set it joins all of them, blocking
// until each goroutine exits; call Cleanup(true) at process shutdown.
func Cleanup(force bool) {
	for _, w := range detachedWorkers.ToSlice() {
		w.mu.Lock()
		finished := w.finished
		w.mu.Unlock()
		if !finished && !force {
			continue
		}
		<-w.done
		if w.waiter != nil {
			w.waiter.Close()
		}
		detachedWorkers.Remove(w)
	}
}
