package stats

// Counter は統計カウンタの種類を表す
type Counter int

const (
	// Application
	AppTxed Counter = iota
	AppRxed

	// Transport
	TransportQueued
	TransportDequeued

	// Network
	LinkDuplicates
	Routed
	RouteDuplicates
	RouteDropped

	// Data link
	LinkTxed
	LinkRxed
	LinkTxFailed
	LinkTxNacked
	LinkMaxRetries
	ChecksumErrors
	RxOverflow
	Dropped
	Corrupted

	// Physical
	RadioTx
	RadioRx
	RadioCollisions
	RadioNacks

	NumCounters
)

// Layer はカウンタが属する層
type Layer string

const (
	LayerApplication Layer = "application"
	LayerTransport   Layer = "transport"
	LayerNetwork     Layer = "network"
	LayerLink        Layer = "link"
	LayerPhysical    Layer = "physical"
)

var counterNames = [NumCounters]string{
	AppTxed:           "app_txed",
	AppRxed:           "app_rxed",
	TransportQueued:   "transport_queued",
	TransportDequeued: "transport_dequeued",
	LinkDuplicates:    "link_duplicates",
	Routed:            "routed",
	RouteDuplicates:   "route_duplicates",
	RouteDropped:      "route_dropped",
	LinkTxed:          "link_txed",
	LinkRxed:          "link_rxed",
	LinkTxFailed:      "link_tx_failed",
	LinkTxNacked:      "link_tx_nacked",
	LinkMaxRetries:    "link_max_retries",
	ChecksumErrors:    "checksum_errors",
	RxOverflow:        "rx_overflow",
	Dropped:           "dropped",
	Corrupted:         "corrupted",
	RadioTx:           "radio_tx",
	RadioRx:           "radio_rx",
	RadioCollisions:   "radio_collisions",
	RadioNacks:        "radio_nacks",
}

func (c Counter) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return counterNames[c]
}

// Valid はカウンタが定義済みかを返す
func (c Counter) Valid() bool {
	return c >= 0 && c < NumCounters
}

// Layer はカウンタの層を返す
func (c Counter) Layer() Layer {
	switch {
	case c <= AppRxed:
		return LayerApplication
	case c <= TransportDequeued:
		return LayerTransport
	case c <= RouteDropped:
		return LayerNetwork
	case c <= Corrupted:
		return LayerLink
	default:
		return LayerPhysical
	}
}

// ParseCounter はカウンタ名を Counter に変換する
func ParseCounter(name string) (Counter, bool) {
	for i, n := range counterNames {
		if n == name {
			return Counter(i), true
		}
	}
	return 0, false
}

// All は全カウンタを定義順に返す
func All() []Counter {
	all := make([]Counter, 0, NumCounters)
	for c := Counter(0); c < NumCounters; c++ {
		all = append(all, c)
	}
	return all
}
