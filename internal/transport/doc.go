// Package transport carries benchmark packets between node runtimes.
//
// Nodes only see two small contracts: a Sender that accepts an encoded
// packet for best-effort delivery, and a Handler that is called with every
// inbound Datagram. Routing and retransmission are out of scope; whatever
// sits underneath is responsible for those.
//
// Two implementations are provided:
//
//   - UDPSender and UDPListener use plain UDP sockets. The sender id seen by
//     a listener is the low-order byte of the remote IP address, the same
//     convention mesh deployments use for link-local node addresses.
//
//   - Medium is an in-memory shared channel for running a whole benchmark in
//     one process. Frames are delivered through a worker pool and can be
//     lost, duplicated, corrupted or delayed according to Impairments.
//
// # Readiness
//
// A client does not announce itself until its RouteChecker reports a route
// to the sink. On the Medium a Port has a route once a listener is attached
// at its destination; a UDPSender has a route once its socket is connected.
package transport
