// Package probe implements the bounded fan-out UDP probing engine.
//
// A run over a port range works as follows:
//
//	Scheduler.Run
//	  ├─ one goroutine per port (spawning is not capped)
//	  │    ├─ Admission.Acquire   (at most MaxConcurrency past this point)
//	  │    ├─ Probe under a per-port context deadline
//	  │    │    bind ephemeral socket → send token → await the target's reply
//	  │    ├─ Aggregator.Add on any failure
//	  │    └─ Permit.Release (exactly once, on every exit path)
//	  └─ errgroup.Wait, then Aggregator.Drain
//
// The per-port timeout covers the whole bind/send/receive sequence. A probe
// that has not finished when its deadline passes is recorded as a timeout
// failure even if a reply would eventually have arrived.
//
// Admission control uses golang.org/x/sync/semaphore, whose waiters are
// served in FIFO order, so no probe starves while the range is finite.
// Failed ports are pushed into a buffered channel sized to the range and
// drained once after every goroutine has returned; no lock is held across
// a network operation.
package probe
