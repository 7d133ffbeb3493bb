// Package stats provides the per-node statistics registry.
//
// A Registry holds a flat set of 16-bit counters grouped by layer
// (application, transport, network, link, physical). Every component of a
// node records its events here: the client scheduler counts transmitted
// packets, the sink tracker counts received and corrupted ones, and
// transports count what they queue and drop.
//
// # Basic Usage
//
//	reg := stats.New()
//	reg.Inc(stats.AppTxed)
//	fmt.Println(reg.Get(stats.AppTxed))
//
//	snap := reg.Snapshot()
//	fmt.Println(snap.Map())
//
// # Lifecycle
//
// The registry starts enabled. Disable turns every update into a no-op
// without touching stored values; Enable resumes counting from them. Reset
// clears all counters whatever the enable state.
//
// # Saturation
//
// Add clamps at Max. Inc on a counter that already holds Max clears the whole
// block, unrelated counters included. Deployed controllers rely on this to
// detect wrap-around, so it is kept as is.
//
// # Thread Safety
//
// Updates happen on a node's dispatch goroutine, while snapshots are taken by
// the API from other goroutines; a RWMutex guards both.
package stats
