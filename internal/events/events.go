// Package events publishes benchmark progress from node runtimes to
// observers such as the API's WebSocket stream and the scenario engine.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventNodeReady is emitted when a client has a route and printed its ready line
	EventNodeReady EventType = "node_ready"
	// EventControl is emitted when a node applies a control command
	EventControl EventType = "control"
	// EventSessionStarted is emitted when a START command begins a session
	EventSessionStarted EventType = "session_started"
	// EventPacketSent is emitted for every benchmark packet a client emits
	EventPacketSent EventType = "packet_sent"
	// EventClientDone is emitted once per session when a client has sent packet_count packets
	EventClientDone EventType = "client_done"
	// EventPacketAccepted is emitted when the sink accepts a new sequence number
	EventPacketAccepted EventType = "packet_accepted"
	// EventPacketDuplicate is emitted when the sink drops a sequence it has already seen
	EventPacketDuplicate EventType = "packet_duplicate"
	// EventPacketCorrupted is emitted when the sink receives a malformed or damaged packet
	EventPacketCorrupted EventType = "packet_corrupted"
	// EventStatsReset is emitted when a RESET command clears the statistics
	EventStatsReset EventType = "stats_reset"
	// EventDisruptionStarted is emitted when a medium disruption is injected
	EventDisruptionStarted EventType = "disruption_started"
	// EventDisruptionEnded is emitted when the medium is restored after a disruption
	EventDisruptionEnded EventType = "disruption_ended"
)

// Event represents a node event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Node      string    `json:"node"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Flags    string `json:"flags,omitempty"`
	From     uint8  `json:"from,omitempty"`
	Sequence uint16 `json:"sequence,omitempty"`
	Tick     uint32 `json:"tick,omitempty"`
	Sent     uint16 `json:"sent,omitempty"`
	Error    string `json:"error,omitempty"`
	Attack   string `json:"attack,omitempty"`
}

func newEvent(t EventType, node string, data EventData) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		Node:      node,
		Data:      data,
	}
}

// NewNodeReadyEvent creates a node ready event
func NewNodeReadyEvent(node string) Event {
	return newEvent(EventNodeReady, node, EventData{})
}

// NewControlEvent creates a control event carrying the applied flags
func NewControlEvent(node string, flags string) Event {
	return newEvent(EventControl, node, EventData{Flags: flags})
}

// NewSessionStartedEvent creates a session started event
func NewSessionStartedEvent(node string) Event {
	return newEvent(EventSessionStarted, node, EventData{})
}

// NewPacketSentEvent creates a packet sent event; err is the transport error, if any
func NewPacketSentEvent(node string, seq uint16, tick uint32, err error) Event {
	return newEvent(EventPacketSent, node, EventData{
		Sequence: seq,
		Tick:     tick,
		Error:    errString(err),
	})
}

// NewClientDoneEvent creates a client done event
func NewClientDoneEvent(node string, sent uint16) Event {
	return newEvent(EventClientDone, node, EventData{Sent: sent})
}

// NewPacketAcceptedEvent creates a packet accepted event
func NewPacketAcceptedEvent(node string, from uint8, seq uint16, tick uint32) Event {
	return newEvent(EventPacketAccepted, node, EventData{From: from, Sequence: seq, Tick: tick})
}

// NewPacketDuplicateEvent creates a packet duplicate event
func NewPacketDuplicateEvent(node string, from uint8, seq uint16) Event {
	return newEvent(EventPacketDuplicate, node, EventData{From: from, Sequence: seq})
}

// NewPacketCorruptedEvent creates a packet corrupted event
func NewPacketCorruptedEvent(node string, from uint8, err error) Event {
	return newEvent(EventPacketCorrupted, node, EventData{From: from, Error: errString(err)})
}

// NewStatsResetEvent creates a stats reset event
func NewStatsResetEvent(node string) Event {
	return newEvent(EventStatsReset, node, EventData{})
}

// NewDisruptionStartedEvent creates a disruption started event for the shared medium
func NewDisruptionStartedEvent(attack string) Event {
	return newEvent(EventDisruptionStarted, "medium", EventData{Attack: attack})
}

// NewDisruptionEndedEvent creates a disruption ended event for the shared medium
func NewDisruptionEndedEvent(attack string) Event {
	return newEvent(EventDisruptionEnded, "medium", EventData{Attack: attack})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
