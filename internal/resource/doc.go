// Package resource governs background work: memory reservations, worker
// slots for concurrent graph building and an I/O token bucket for merge
// writes.
//
//	rc := resource.NewController(resource.Config{
//	    MaxBackgroundWorkers: 4,
//	    IOLimitBytesPerSec:   64 << 20,
//	})
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// All methods are safe for concurrent use, and all of them are no-ops on a
// nil *Controller.
package resource
