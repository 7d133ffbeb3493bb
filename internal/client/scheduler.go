package client

import (
	"fmt"
	"io"
	"time"

	"meshbench/internal/control"
	"meshbench/internal/logger"
	"meshbench/internal/packet"
	"meshbench/internal/stats"
)

const (
	// ReadyLine は経路確立後にコントローラへ通知する行
	ReadyLine = "BMCC_START\n"
	// DoneLine は全パケット送信後にコントローラへ通知する行
	DoneLine = "BMCD_DONE\n"
)

// State はスケジューラの状態を表す
type State int

const (
	StateIdle State = iota
	StateStaggering
	StateSending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaggering:
		return "staggering"
	case StateSending:
		return "sending"
	default:
		return "unknown"
	}
}

// TimerID はスケジューラが所有するタイマー
type TimerID int

const (
	// TimerStagger は周期内のずらし時間後に 1 パケット送るワンショットタイマー
	TimerStagger TimerID = iota
	// TimerPeriodic は送信間隔ごとに発火する周期タイマー
	TimerPeriodic
)

func (id TimerID) String() string {
	switch id {
	case TimerStagger:
		return "stagger"
	case TimerPeriodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// Timers はスケジューラのタイマー操作を抽象化する
// Arm は同じ ID の保留中タイマーを置き換え、Cancel は即座に無効化する
type Timers interface {
	Arm(id TimerID, d time.Duration)
	Cancel(id TimerID)
}

// Sender はベンチマークパケットの送信先
// 送信は投げっぱなしで、失敗は下位層が数える
type Sender interface {
	Send(payload []byte) error
}

// Hooks はスケジューラの出来事を外部へ通知するためのコールバック
type Hooks struct {
	OnSent func(p packet.Packet, err error)
	OnDone func(sent uint16)
}

// Config はスケジューラの設定
type Config struct {
	NodeID uint8
	Status io.Writer // ReadyLine / DoneLine / GET 応答の出力先
}

// Scheduler はクライアントの送信状態機械
//
// 全ての操作はノードのディスパッチ用ゴルーチンから同期的に呼ばれる。
type Scheduler struct {
	id      uint8
	tag     string
	session *control.Session
	stats   *stats.Registry
	timers  Timers
	sender  Sender
	status  io.Writer
	hooks   Hooks

	state  State
	ready  bool
	seq    uint16
	offset time.Duration
	done   bool
}

// New は新しいスケジューラを作成する
func New(config Config, reg *stats.Registry, timers Timers, sender Sender) *Scheduler {
	status := config.Status
	if status == nil {
		status = io.Discard
	}
	return &Scheduler{
		id:      config.NodeID,
		tag:     logger.NodeTag("client", config.NodeID),
		session: control.NewSession(reg, status),
		stats:   reg,
		timers:  timers,
		sender:  sender,
		status:  status,
		state:   StateIdle,
		seq:     1,
	}
}

// SetHooks はコールバックを設定する
func (s *Scheduler) SetHooks(h Hooks) {
	s.hooks = h
}

// MarkReady は経路確立を記録し ReadyLine を出力する
func (s *Scheduler) MarkReady() {
	if s.ready {
		return
	}
	s.ready = true
	s.writeStatus(ReadyLine)
	logger.Info(s.tag, "Route available, ready to start")
}

// Ready は準備完了かどうかを返す
func (s *Scheduler) Ready() bool {
	return s.ready
}

// HandleControl は制御コマンドを処理する
func (s *Scheduler) HandleControl(cmd control.Command, now time.Time) {
	if err := s.session.Apply(cmd, now); err != nil {
		logger.Warn(s.tag, "%v", err)
	}

	if cmd.Flags.Has(control.FlagStart) {
		s.seq = 1
		s.done = false
	}
	if cmd.Flags.Has(control.FlagSet) {
		s.recomputeOffset()
	}

	// 準備完了前はセッション状態だけを更新する
	if !s.ready {
		return
	}

	if !s.session.Enabled {
		s.halt()
		return
	}

	if cmd.Flags.Has(control.FlagStart) && s.session.Settings.PacketCount == 0 {
		s.finish()
		return
	}

	if cmd.Flags.Has(control.FlagStart) || cmd.Flags.Has(control.FlagSet) || s.state == StateIdle {
		s.arm()
	}
}

// HandleTimer はタイマー発火を処理する
func (s *Scheduler) HandleTimer(id TimerID, now time.Time) {
	if !s.session.Enabled {
		s.halt()
		return
	}

	switch id {
	case TimerStagger:
		s.send(now)
	case TimerPeriodic:
		// ずらし時間が周期と等しい場合、前の枠の送信がまだ残っている
		if s.state == StateStaggering {
			s.send(now)
			if !s.session.Enabled {
				return
			}
		}
		s.arm()
	}
}

// arm は両タイマーを張り直す
func (s *Scheduler) arm() {
	s.timers.Arm(TimerStagger, s.offset)
	s.timers.Arm(TimerPeriodic, s.session.IntervalDuration())
	s.state = StateStaggering
}

// halt はタイマーを止めて Idle に戻る
func (s *Scheduler) halt() {
	s.timers.Cancel(TimerStagger)
	s.timers.Cancel(TimerPeriodic)
	s.state = StateIdle
}

// send は 1 パケットを送信し、シーケンス番号を進める
func (s *Scheduler) send(now time.Time) {
	p := packet.New(s.session.Tick(now), s.seq)
	buf, err := p.MarshalBinary()
	if err == nil {
		err = s.sender.Send(buf)
	}
	if err != nil {
		logger.Debug(s.tag, "send seq %d failed: %v", p.Sequence, err)
	}

	s.stats.Inc(stats.AppTxed)
	if s.hooks.OnSent != nil {
		s.hooks.OnSent(p, err)
	}
	logger.Debug(s.tag, "msg %d - tick %d", p.Sequence, p.Tick)

	s.seq++
	if s.seq > uint16(s.session.Settings.PacketCount) {
		s.finish()
		return
	}
	s.state = StateSending
}

// finish はセッションを終了し DoneLine を一度だけ出力する
func (s *Scheduler) finish() {
	s.session.Enabled = false
	s.halt()
	if s.done {
		return
	}
	s.done = true
	s.writeStatus(DoneLine)
	logger.Info(s.tag, "All %d packets sent", s.session.Settings.PacketCount)
	if s.hooks.OnDone != nil {
		s.hooks.OnDone(s.seq - 1)
	}
}

// recomputeOffset はずらし時間を再計算する
func (s *Scheduler) recomputeOffset() {
	st := s.session.Settings
	off, ok := StaggerOffset(st.NodeCount, s.id, st.Interval)
	if !ok {
		logger.Warn(s.tag, "Node id %d outside node count %d, stagger offset forced to 0", s.id, st.NodeCount)
	}
	s.offset = time.Duration(off) * time.Millisecond
	logger.Debug(s.tag, "Nodes: %d; Interval %d; Offset %v", st.NodeCount, st.Interval, s.offset)
}

func (s *Scheduler) writeStatus(line string) {
	if _, err := io.WriteString(s.status, line); err != nil {
		logger.Warn(s.tag, "failed to write status line: %v", err)
	}
}

// Status はスケジューラ状態のスナップショット
type Status struct {
	NodeID   uint8            `json:"node_id"`
	State    string           `json:"state"`
	Ready    bool             `json:"ready"`
	Enabled  bool             `json:"enabled"`
	Done     bool             `json:"done"`
	Sequence uint16           `json:"next_sequence"`
	Offset   time.Duration    `json:"offset"`
	Settings control.Settings `json:"settings"`
}

// Status は現在の状態を返す
func (s *Scheduler) Status() Status {
	return Status{
		NodeID:   s.id,
		State:    s.state.String(),
		Ready:    s.ready,
		Enabled:  s.session.Enabled,
		Done:     s.done,
		Sequence: s.seq,
		Offset:   s.offset,
		Settings: s.session.Settings,
	}
}

// State は現在の状態を返す
func (s *Scheduler) State() State {
	return s.state
}

// Offset は現在のずらし時間を返す
func (s *Scheduler) Offset() time.Duration {
	return s.offset
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("%s(%s seq=%d)", s.tag, s.state, s.seq)
}
