// Package api exposes node state, statistics and stored results over HTTP,
// and streams node events over a WebSocket.
//
// # Endpoints
//
//	GET    /api/status              node snapshots and the running scenario, if any
//	GET    /api/stats               statistics counters per node (?node=name filters)
//	DELETE /api/stats               reset one counter (?counter=name, ?node=name filters)
//	GET    /api/senders             the sink's per-sender delivery table
//	POST   /api/control             apply a control command to the nodes
//	GET    /api/presets             available scenario presets
//	POST   /api/scenario/start      run a scenario in the background
//	GET    /api/runs                stored results, newest first
//	GET    /api/runs/{id}           one stored result with per-sender rows
//	GET    /ws                      event stream (golang.org/x/net/websocket)
//
// A control request carries either the hex form of the 5-byte command
//
//	{"hex": "450A320768"}
//
// or the flags by name with optional SET values
//
//	{"flags": "START|STATS", "node": "client-3"}
//	{"flags": "SET|STATS", "settings": {"node_count": 10, "packet_count": 50, "interval_ms": 1000}}
package api
