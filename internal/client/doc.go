// Package client implements the benchmark client's send scheduler.
//
// The Scheduler is a small state machine (Idle -> Staggering -> Sending ->
// Idle) driven synchronously by control commands and timer expiries. Each
// client delays its transmissions inside every interval window by a stagger
// offset so that N clients sharing one radio channel do not transmit at the
// same instant:
//
//	offset = (nodeCount - nodeID) * (interval / nodeCount)
//
// # Basic Usage
//
//	s := client.New(client.Config{NodeID: 3, Status: os.Stdout}, reg, timers, sender)
//	s.MarkReady()
//	s.HandleControl(cmd, time.Now())      // START, STOP, SET ...
//	s.HandleTimer(client.TimerStagger, now) // from the node's timer events
//
// # Timing
//
// START arms a one-shot stagger timer (offset) and a periodic timer
// (interval). Every stagger expiry sends one packet; every periodic expiry
// re-arms both. Packet k therefore leaves at offset + (k-1)*interval after
// START. Once the sequence number passes the configured packet count the
// session disables itself and DoneLine is written exactly once.
//
// # Delivery
//
// Sends are fire-and-forget: the sequence number always advances and
// transport failures are only logged.
package client
