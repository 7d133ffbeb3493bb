// Package server implements the sink side of the benchmark.
//
// The Tracker keeps, for every sender, the highest sequence number it has
// accepted and how many packets it delivered. A packet is accepted only if
// its sequence number is strictly greater than the stored high-water mark;
// anything else is a duplicate or a stale reordering and is dropped. The
// application-rx counter is incremented for every packet, duplicate or not,
// so the registry shows raw arrivals while the table shows unique ones.
//
// # Basic Usage
//
//	tr := server.New(server.Config{MaxSenders: 64}, reg)
//	p, res, err := tr.Receive(from, payload)
//
//	tr.HandleControl(cmd, time.Now()) // RESET also clears the table
//
// # Sender Identity
//
// Senders are identified by the low-order byte of their address; see
// transport.SenderID. Ids beyond the table size are rejected with
// ErrSenderRange instead of being truncated.
//
// # Reset Range
//
// RESET clears entries 0..=NodeCount from the last SET. Before any SET the
// whole table is cleared.
package server
