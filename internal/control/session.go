package control

import (
	"fmt"
	"io"
	"time"

	"meshbench/internal/stats"
)

// Session はノードごとのベンチマークセッション状態
//
// クライアントとシンクの両方が同じ規則でコマンドを適用する。
// ディスパッチ用のゴルーチンからのみ操作される。
type Session struct {
	Enabled  bool
	Settings Settings
	Origin   time.Time
	Last     Flags

	stats  *stats.Registry
	status io.Writer
}

// NewSession は新しいセッションを作成する
// status は GET の応答などステータス行の出力先
func NewSession(reg *stats.Registry, status io.Writer) *Session {
	return &Session{
		stats:  reg,
		status: status,
	}
}

// Apply はコマンドをセッションに適用する
//
// STATS が立っていなければ統計は無効化される。SET は設定を保存するだけで、
// 送信の開始・停止は行わない。
func (s *Session) Apply(cmd Command, now time.Time) error {
	s.Last = cmd.Flags

	if cmd.Flags.Has(FlagStart) {
		s.Enabled = true
		s.Origin = now
	}
	if cmd.Flags.Has(FlagStop) {
		s.Enabled = false
	}
	if s.stats != nil {
		s.stats.SetEnabled(cmd.Flags.Has(FlagStats))
		if cmd.Flags.Has(FlagReset) {
			s.stats.Reset()
		}
	}
	if cmd.Flags.Has(FlagSet) {
		s.Settings = cmd.Settings
	}
	if cmd.Flags.Has(FlagGet) && s.status != nil {
		if _, err := fmt.Fprintf(s.status, "%02X\n", uint8(cmd.Flags)); err != nil {
			return fmt.Errorf("control: failed to echo flags: %w", err)
		}
	}
	return nil
}

// Tick はセッション開始からの経過ミリ秒を返す
func (s *Session) Tick(now time.Time) uint32 {
	if s.Origin.IsZero() {
		return 0
	}
	return uint32(now.Sub(s.Origin) / time.Millisecond)
}

// IntervalDuration は送信間隔を time.Duration で返す
func (s *Session) IntervalDuration() time.Duration {
	return time.Duration(s.Settings.Interval) * time.Millisecond
}
