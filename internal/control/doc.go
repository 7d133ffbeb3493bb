// Package control implements the benchmark control protocol.
//
// A controller drives every node with 5-byte commands. Byte 0 is a set of
// independent flags (START, STOP, STATS, RESET, SHUTDOWN, GET, SET and one
// reserved bit); bytes 1-4 are only meaningful with SET and carry the node
// count, the packet count and a 14-bit send interval in milliseconds split
// across two 7-bit bytes.
//
// # Basic Usage
//
//	cmd := control.Command{
//	    Flags:    control.FlagStart | control.FlagStats | control.FlagSet,
//	    Settings: control.Settings{NodeCount: 4, PacketCount: 100, Interval: 320},
//	}
//	buf, _ := cmd.MarshalBinary()
//
//	parsed, err := control.Parse(buf)
//
// # Buffer Contract
//
// Parse never reads past the buffer it is given. A command carrying SET must
// be at least CommandSize bytes long or ErrShortCommand is returned; a
// command without SET may be a single byte.
//
// # Session
//
// Session applies a parsed command to the node's state: START enables
// sending and restarts the tick origin, STOP disables it, STATS enables or
// (when clear) disables the statistics registry, RESET clears it, GET echoes
// the flags byte as two hex digits, and SET stores the settings.
package control
