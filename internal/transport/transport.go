package transport

import (
	"errors"
	"net"
)

var (
	// ErrClosed は閉じたトランスポートを使った場合のエラー
	ErrClosed = errors.New("transport: closed")
	// ErrNoRoute は宛先に到達できない場合のエラー
	ErrNoRoute = errors.New("transport: no route to destination")
)

// Datagram は受信した 1 フレーム
type Datagram struct {
	From    uint8
	Payload []byte
}

// Handler は受信フレームを処理する
type Handler func(Datagram)

// Sender はペイロードを宛先へ送る
type Sender interface {
	Send(payload []byte) error
}

// RouteChecker は宛先への経路があるかを返す
type RouteChecker interface {
	HasRoute() bool
}

// RouteFunc は関数を RouteChecker として使うためのアダプタ
type RouteFunc func() bool

// HasRoute は f() を返す
func (f RouteFunc) HasRoute() bool { return f() }

// AlwaysRoute は常に経路ありとする RouteChecker
var AlwaysRoute RouteChecker = RouteFunc(func() bool { return true })

// SenderID はアドレスの下位 1 バイトを送信元 ID として返す
func SenderID(addr net.Addr) uint8 {
	var ip net.IP
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	}
	if len(ip) == 0 {
		return 0
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip[len(ip)-1]
}
