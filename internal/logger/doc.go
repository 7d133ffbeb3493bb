// Package logger provides the levelled logger shared by every meshbench node.
//
// The logger supports four levels: Debug, Info, Warn, and Error. Each entry
// carries a timestamp, the level, an optional node tag, and the message.
//
// # Basic Usage
//
//	logger.Info("", "harness started")
//	logger.Info(logger.NodeTag("client", 3), "stagger offset %v", off)
//
// Log output goes to stderr by default. Stdout is reserved for the status
// lines a node reports back over its control channel ("BMCC_START",
// "BMCD_DONE" and GET echoes), so the two streams never interleave.
//
// # Log Levels
//
// Messages below the configured level are filtered. ParseLevel maps the
// config file's "log.level" value onto a Level.
//
// # Thread Safety
//
// All logging operations are protected by a mutex and safe for concurrent use.
package logger
