package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"meshbench/internal/logger"
	"meshbench/internal/packet"
	"meshbench/internal/stats"
)

// UDPSender は接続済み UDP ソケットで送信する
type UDPSender struct {
	conn   *net.UDPConn
	stats  *stats.Registry
	closed atomic.Bool
}

// DialUDP は addr へ送る UDPSender を作成する
// reg が nil でなければリンク層のカウンタを更新する
func DialUDP(addr string, reg *stats.Registry) (*UDPSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &UDPSender{conn: conn, stats: reg}, nil
}

// Send はペイロードを送信する
func (s *UDPSender) Send(payload []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.inc(stats.TransportQueued)
	if _, err := s.conn.Write(payload); err != nil {
		s.inc(stats.LinkTxFailed)
		return fmt.Errorf("transport: udp send: %w", err)
	}
	s.inc(stats.LinkTxed)
	return nil
}

// HasRoute はソケットが開いていれば true を返す
func (s *UDPSender) HasRoute() bool {
	return !s.closed.Load()
}

// LocalAddr はローカルアドレスを返す
func (s *UDPSender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close はソケットを閉じる
func (s *UDPSender) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

func (s *UDPSender) inc(c stats.Counter) {
	if s.stats != nil {
		s.stats.Inc(c)
	}
}

// UDPListener は UDP ソケットで受信する
type UDPListener struct {
	conn  *net.UDPConn
	stats *stats.Registry
}

// ListenUDP は addr で待ち受ける UDPListener を作成する
func ListenUDP(addr string, reg *stats.Registry) (*UDPListener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &UDPListener{conn: conn, stats: reg}, nil
}

// Addr は待ち受けアドレスを返す
func (l *UDPListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve は ctx が終了するかソケットが閉じられるまで受信を続ける
func (l *UDPListener) Serve(ctx context.Context, handler Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.conn.Close()
		case <-done:
		}
	}()

	// ベンチマークパケットより大きいフレームはそのまま渡して不正として数えさせる
	buf := make([]byte, 4*packet.Size)
	for {
		n, raddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("udp", "read failed: %v", err)
			continue
		}
		if l.stats != nil {
			l.stats.Inc(stats.LinkRxed)
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		handler(Datagram{From: SenderID(raddr), Payload: payload})
	}
}

// Close はソケットを閉じる
func (l *UDPListener) Close() error {
	return l.conn.Close()
}
