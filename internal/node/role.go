package node

import (
	"fmt"
	"strings"
)

// Role はノードの役割
type Role int

const (
	RoleClient Role = iota
	RoleSink
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleSink:
		return "sink"
	default:
		return "unknown"
	}
}

// ParseRole は文字列から役割を解析する
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client":
		return RoleClient, nil
	case "sink", "server":
		return RoleSink, nil
	default:
		return RoleClient, fmt.Errorf("unknown role: %q", s)
	}
}

// Status はノードの状態を表す
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// EventKind はディスパッチループに届く入力の種類
type EventKind int

const (
	ControlReceived EventKind = iota
	TimerFired
	PacketReceived
)

func (k EventKind) String() string {
	switch k {
	case ControlReceived:
		return "control"
	case TimerFired:
		return "timer"
	case PacketReceived:
		return "packet"
	default:
		return "unknown"
	}
}
