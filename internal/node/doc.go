// Package node runs a single benchmark node: one client or the sink.
//
// A Node owns one goroutine, the dispatch loop, which is the only place the
// client scheduler or the sink tracker is touched. Three kinds of input are
// serialised onto it through one channel:
//
//   - control commands, from Control or ServeControl;
//   - timer firings, from the scheduler's stagger and periodic timers;
//   - inbound datagrams, from Deliver (usable as a transport.Handler).
//
// # Basic Usage
//
//	n := node.New(node.Config{
//	    ID:     3,
//	    Role:   node.RoleClient,
//	    Status: os.Stdout,
//	    Route:  port,
//	}, port)
//	if err := n.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer n.Stop()
//
//	go n.ServeControl(ctx, os.Stdin, control.FramingHex)
//
// # Timers
//
// Timers are time.AfterFunc callbacks that post a TimerFired event carrying
// the generation they were armed with. Arming or cancelling a timer bumps its
// generation, so a firing that was already in flight when the session was
// stopped or restarted is recognised as stale and discarded.
//
// # Readiness
//
// A client prints nothing and ignores scheduling until it has seen its first
// control command and its route checker reports a route to the sink. The
// route is polled every PollInterval (500ms by default) with no retry limit.
// The sink is ready as soon as it starts.
//
// # Node Lifecycle
//
// The lifecycle is: Stopped -> Running -> Stopped. Stop cancels all timers
// and waits for the dispatch loop to return; a node may be started again
// and keeps its statistics and session state.
package node
