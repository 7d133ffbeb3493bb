package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"meshbench/internal/control"
	"meshbench/internal/logger"
	"meshbench/internal/packet"
	"meshbench/internal/stats"
)

// DefaultMaxSenders は送信元テーブルのデフォルトサイズ
const DefaultMaxSenders = 128

// ErrSenderRange は送信元 ID がテーブルの範囲外の場合のエラー
var ErrSenderRange = errors.New("server: sender id outside tracking table")

// Result は受信パケットの扱い
type Result int

const (
	// Accepted は新しいシーケンス番号として受理された
	Accepted Result = iota
	// Duplicate は既に見たシーケンス番号以下のため破棄された
	Duplicate
	// Rejected はデコードできない、または範囲外の送信元
	Rejected
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Entry は送信元ごとの受信状態
type Entry struct {
	HighWater uint16 // 受理した最大シーケンス番号
	Delivered uint16 // 受理したパケット数
	Corrupted uint16 // 受理したが固定メッセージが壊れていた数
	LastTick  uint32 // 最後に受理したパケットの tick
}

// Config はトラッカーの設定
type Config struct {
	MaxSenders int
	Status     io.Writer // GET 応答の出力先
}

// Tracker はシンクの送信元ごとの重複排除と統計を行う
type Tracker struct {
	tag     string
	stats   *stats.Registry
	session *control.Session

	mu       sync.RWMutex
	entries  []Entry
	settings control.Settings // API から読むための session.Settings の写し
}

// New は新しいトラッカーを作成する
func New(config Config, reg *stats.Registry) *Tracker {
	size := config.MaxSenders
	if size <= 0 {
		size = DefaultMaxSenders
	}
	if size > 256 {
		size = 256
	}
	return &Tracker{
		tag:     "sink",
		stats:   reg,
		session: control.NewSession(reg, config.Status),
		entries: make([]Entry, size),
	}
}

// HandleControl は制御コマンドを適用する
// RESET は統計に加えて送信元テーブルも 0..=NodeCount の範囲でクリアする
func (t *Tracker) HandleControl(cmd control.Command, now time.Time) {
	if err := t.session.Apply(cmd, now); err != nil {
		logger.Warn(t.tag, "%v", err)
	}

	t.mu.Lock()
	t.settings = t.session.Settings
	t.mu.Unlock()

	if cmd.Flags.Has(control.FlagReset) {
		t.Reset(t.session.Settings.NodeCount)
	}
}

// Receive は受信したペイロードを処理し、デコードしたパケットと扱いを返す
//
// アプリケーション受信カウンタは重複かどうかに関係なく必ず増える。
// シーケンス番号が送信元の最大値より大きい場合のみ受理する。
// Rejected の場合、パケットはゼロ値になる。
func (t *Tracker) Receive(from uint8, payload []byte) (packet.Packet, Result, error) {
	t.stats.Inc(stats.AppRxed)

	p, err := packet.Decode(payload)
	if err != nil {
		t.stats.Inc(stats.Corrupted)
		return packet.Packet{}, Rejected, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if int(from) >= len(t.entries) {
		return packet.Packet{}, Rejected, fmt.Errorf("%w: %d >= %d", ErrSenderRange, from, len(t.entries))
	}

	e := &t.entries[from]
	if p.Sequence <= e.HighWater {
		logger.Debug(t.tag, "duplicate msg %d from %d (table %d)", p.Sequence, from, e.HighWater)
		return p, Duplicate, nil
	}

	e.HighWater = p.Sequence
	e.Delivered++
	e.LastTick = p.Tick
	if !p.Intact() {
		e.Corrupted++
		t.stats.Inc(stats.Corrupted)
	}
	logger.Debug(t.tag, "msg %d from %d tick %d", p.Sequence, from, p.Tick)
	return p, Accepted, nil
}

// Reset は送信元 0..=nodeCount のエントリをクリアする
// nodeCount が 0（SET 未受信）の場合はテーブル全体をクリアする
func (t *Tracker) Reset(nodeCount uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit := len(t.entries) - 1
	if nodeCount != 0 && int(nodeCount) < limit {
		limit = int(nodeCount)
	}
	for i := 0; i <= limit; i++ {
		t.entries[i] = Entry{}
	}
	logger.Debug(t.tag, "sender table cleared for 0..%d", limit)
}

// Entry は送信元のエントリを返す
func (t *Tracker) Entry(from uint8) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(from) >= len(t.entries) {
		return Entry{}, false
	}
	return t.entries[from], true
}

// Settings は最後に SET された設定を返す
func (t *Tracker) Settings() control.Settings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings
}

// SenderReport は送信元ごとの配送結果
type SenderReport struct {
	ID        uint8   `json:"id"`
	HighWater uint16  `json:"high_water"`
	Delivered uint16  `json:"delivered"`
	Corrupted uint16  `json:"corrupted"`
	Expected  uint8   `json:"expected"`
	Ratio     float64 `json:"delivery_ratio"`
	LastTick  uint32  `json:"last_tick"`
}

// Senders は 1..NodeCount と受信実績のある送信元のレポートを返す
func (t *Tracker) Senders() []SenderReport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	settings := t.settings

	var reports []SenderReport
	for i, e := range t.entries {
		inRange := i >= 1 && i <= int(settings.NodeCount)
		if !inRange && e.Delivered == 0 && e.HighWater == 0 {
			continue
		}
		r := SenderReport{
			ID:        uint8(i),
			HighWater: e.HighWater,
			Delivered: e.Delivered,
			Corrupted: e.Corrupted,
			Expected:  settings.PacketCount,
			LastTick:  e.LastTick,
		}
		if settings.PacketCount > 0 {
			r.Ratio = float64(e.Delivered) / float64(settings.PacketCount)
		}
		reports = append(reports, r)
	}
	return reports
}
