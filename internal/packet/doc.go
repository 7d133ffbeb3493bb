// Package packet encodes the benchmark packet that clients send to the sink.
//
// The wire format is a fixed 32-byte record in network byte order:
//
//	0      4        6                          32
//	+------+--------+--------------------------+
//	| tick | seq    | message (26 bytes)       |
//	+------+--------+--------------------------+
//
// tick is the sender's elapsed milliseconds since its last START, seq starts
// at 1 and message is the constant Message, used by the sink to detect
// corrupted deliveries.
//
// # Basic Usage
//
//	payload, _ := packet.New(120, 1).MarshalBinary()
//
//	p, err := packet.Decode(payload)
//	if err != nil {
//		return err // shorter than Size
//	}
//	if !p.Intact() {
//		// message bytes were altered in transit
//	}
//
// Bytes past Size are ignored when decoding.
package packet
