// Package config loads meshbench settings from a YAML or JSON file.
//
// The format is chosen by file extension (.yaml, .yml or .json). Durations
// are written as Go duration strings ("500ms", "2s"). Every section is
// optional; missing values fall back to the defaults of the package that
// consumes them, and command-line flags override file values.
//
//	node:
//	  id: 3
//	  role: client
//	  poll_interval: 500ms
//	control:
//	  framing: hex
//	transport:
//	  listen: ":5678"
//	  sink: "[fd00::1]:5678"
//	session:
//	  nodes: 5
//	  packets: 50
//	  interval: 1s
//	  stats: true
//	scenario:
//	  preset: lossy
//	  medium:
//	    loss: 0.2
//	    delay: 20ms
//	api:
//	  addr: ":8080"
//	store:
//	  path: meshbench.db
//	log:
//	  level: info
package config
