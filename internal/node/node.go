package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"meshbench/internal/client"
	"meshbench/internal/control"
	"meshbench/internal/events"
	"meshbench/internal/logger"
	"meshbench/internal/packet"
	"meshbench/internal/server"
	"meshbench/internal/stats"
	"meshbench/internal/transport"
)

const (
	// DefaultPollInterval は経路確認の間隔
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultQueueSize はディスパッチキューの長さ
	DefaultQueueSize = 64
)

// ErrNotRunning は停止中のノードに入力した場合のエラー
var ErrNotRunning = errors.New("node: not running")

// Config はノードの設定
type Config struct {
	ID           uint8
	Role         Role
	Status       io.Writer              // ステータス行の出力先
	Route        transport.RouteChecker // クライアントの経路確認（nil で常に経路あり）
	PollInterval time.Duration
	MaxSenders   int // シンクの送信元テーブルサイズ
	QueueSize    int
	Stats        *stats.Registry // nil なら新しく作る
	Bus          *events.Bus
}

type event struct {
	kind  EventKind
	cmd   control.Command
	timer client.TimerID
	gen   uint64
	gram  transport.Datagram
}

// Snapshot はノード状態のスナップショット
type Snapshot struct {
	ID       uint8            `json:"id"`
	Name     string           `json:"name"`
	Role     string           `json:"role"`
	Status   string           `json:"status"`
	Ready    bool             `json:"ready"`
	Client   *client.Status   `json:"client,omitempty"`
	Settings control.Settings `json:"settings"`
	Stats    stats.Snapshot   `json:"stats"`
}

// Node はクライアントまたはシンクとして動くベンチマークノード
type Node struct {
	config Config
	name   string
	stats  *stats.Registry
	bus    *events.Bus
	route  transport.RouteChecker

	scheduler *client.Scheduler
	tracker   *server.Tracker
	timers    *timerSet
	inbox     chan event

	// ディスパッチループ専用
	heard bool
	poll  *time.Ticker

	mu           sync.RWMutex
	status       Status
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	clientStatus client.Status
}

// New は新しいノードを作成する
// シンクの場合 sender は nil でよい
func New(config Config, sender transport.Sender) *Node {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Status == nil {
		config.Status = io.Discard
	}

	if config.Stats == nil {
		config.Stats = stats.New()
	}

	n := &Node{
		config: config,
		name:   logger.NodeTag(config.Role.String(), config.ID),
		stats:  config.Stats,
		bus:    config.Bus,
		route:  config.Route,
		timers: &timerSet{},
		inbox:  make(chan event, config.QueueSize),
		status: StatusStopped,
	}
	if n.route == nil {
		n.route = transport.AlwaysRoute
	}

	switch config.Role {
	case RoleSink:
		n.name = "sink"
		n.tracker = server.New(server.Config{
			MaxSenders: config.MaxSenders,
			Status:     config.Status,
		}, n.stats)
	default:
		if sender == nil {
			sender = unrouted{}
		}
		n.scheduler = client.New(client.Config{
			NodeID: config.ID,
			Status: config.Status,
		}, n.stats, n.timers, sender)
		n.scheduler.SetHooks(client.Hooks{
			OnSent: func(p packet.Packet, err error) {
				n.bus.Publish(events.NewPacketSentEvent(n.name, p.Sequence, p.Tick, err))
			},
			OnDone: func(sent uint16) {
				n.bus.Publish(events.NewClientDoneEvent(n.name, sent))
			},
		})
		n.clientStatus = n.scheduler.Status()
	}
	return n
}

// ID はノード ID を返す
func (n *Node) ID() uint8 {
	return n.config.ID
}

// Name はログやイベントで使う名前を返す
func (n *Node) Name() string {
	return n.name
}

// Role は役割を返す
func (n *Node) Role() Role {
	return n.config.Role
}

// Stats は統計レジストリを返す
func (n *Node) Stats() *stats.Registry {
	return n.stats
}

// Tracker はシンクのトラッカーを返す（クライアントでは nil）
func (n *Node) Tracker() *server.Tracker {
	return n.tracker
}

// Start はディスパッチループを起動する
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == StatusRunning {
		return fmt.Errorf("node %s is already running", n.name)
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	n.status = StatusRunning

	loopCtx := n.ctx
	n.timers.setPost(func(ev event) bool {
		return n.post(loopCtx, ev)
	})

	go n.run(loopCtx, n.done)

	logger.Info(n.name, "Node started")
	return nil
}

// Stop はディスパッチループを止め、タイマーを全て解除する
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.status == StatusStopped {
		n.mu.Unlock()
		return fmt.Errorf("node %s is already stopped", n.name)
	}
	n.cancel()
	done := n.done
	n.mu.Unlock()

	<-done
	n.timers.setPost(nil)
	n.timers.stopAll()

	n.mu.Lock()
	n.status = StatusStopped
	n.mu.Unlock()

	logger.Info(n.name, "Node stopped")
	return nil
}

// Status はノードの現在のステータスを返す
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Control は制御コマンドをディスパッチループへ渡す
func (n *Node) Control(cmd control.Command) error {
	ctx, ok := n.running()
	if !ok {
		return ErrNotRunning
	}
	if !n.post(ctx, event{kind: ControlReceived, cmd: cmd}) {
		return ErrNotRunning
	}
	return nil
}

// Deliver は受信フレームをディスパッチループへ渡す
// transport.Handler として使える
func (n *Node) Deliver(d transport.Datagram) {
	ctx, ok := n.running()
	if !ok || !n.post(ctx, event{kind: PacketReceived, gram: d}) {
		n.stats.Inc(stats.RxOverflow)
		logger.Debug(n.name, "frame from %d dropped, node not running", d.From)
	}
}

// Snapshot はノード状態のスナップショットを返す
func (n *Node) Snapshot() Snapshot {
	n.mu.RLock()
	snap := Snapshot{
		ID:     n.config.ID,
		Name:   n.name,
		Role:   n.config.Role.String(),
		Status: n.status.String(),
	}
	if n.scheduler != nil {
		cs := n.clientStatus
		snap.Client = &cs
		snap.Ready = cs.Ready
		snap.Settings = cs.Settings
	}
	n.mu.RUnlock()

	if n.tracker != nil {
		snap.Ready = true
		snap.Settings = n.tracker.Settings()
	}
	snap.Stats = n.stats.Snapshot()
	return snap
}

func (n *Node) running() (context.Context, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.status != StatusRunning {
		return nil, false
	}
	return n.ctx, true
}

func (n *Node) post(ctx context.Context, ev event) bool {
	select {
	case n.inbox <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (n *Node) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer n.stopPolling()

	// 再起動時に経路待ちを再開する
	if n.scheduler != nil && n.heard && !n.scheduler.Ready() {
		n.awaitRoute()
	}

	for {
		var pollC <-chan time.Time
		if n.poll != nil {
			pollC = n.poll.C
		}

		select {
		case <-ctx.Done():
			return
		case ev := <-n.inbox:
			n.dispatch(ev, time.Now())
		case <-pollC:
			n.checkRoute()
		}
		n.refresh()
	}
}

func (n *Node) dispatch(ev event, now time.Time) {
	switch ev.kind {
	case ControlReceived:
		n.handleControl(ev.cmd, now)
	case TimerFired:
		if !n.timers.current(ev.timer, ev.gen) {
			logger.Debug(n.name, "stale %s timer discarded", ev.timer)
			return
		}
		n.scheduler.HandleTimer(ev.timer, now)
	case PacketReceived:
		n.handlePacket(ev.gram)
	}
}

func (n *Node) handleControl(cmd control.Command, now time.Time) {
	logger.Debug(n.name, "control %s", cmd.Flags)
	n.bus.Publish(events.NewControlEvent(n.name, cmd.Flags.String()))

	if n.tracker != nil {
		n.tracker.HandleControl(cmd, now)
	} else {
		n.scheduler.HandleControl(cmd, now)
		if cmd.Flags.Has(control.FlagStart) && n.scheduler.Ready() {
			n.bus.Publish(events.NewSessionStartedEvent(n.name))
		}
	}

	if cmd.Flags.Has(control.FlagReset) {
		n.bus.Publish(events.NewStatsResetEvent(n.name))
	}

	if n.scheduler != nil && !n.heard {
		n.heard = true
		n.awaitRoute()
	}
}

func (n *Node) handlePacket(d transport.Datagram) {
	if n.tracker == nil {
		logger.Debug(n.name, "ignoring frame from %d", d.From)
		return
	}

	p, res, err := n.tracker.Receive(d.From, d.Payload)
	switch res {
	case server.Accepted:
		if !p.Intact() {
			n.bus.Publish(events.NewPacketCorruptedEvent(n.name, d.From, nil))
			return
		}
		n.bus.Publish(events.NewPacketAcceptedEvent(n.name, d.From, p.Sequence, p.Tick))
	case server.Duplicate:
		n.bus.Publish(events.NewPacketDuplicateEvent(n.name, d.From, p.Sequence))
	case server.Rejected:
		logger.Warn(n.name, "frame from %d rejected: %v", d.From, err)
		n.bus.Publish(events.NewPacketCorruptedEvent(n.name, d.From, err))
	}
}

// awaitRoute は経路を確認し、なければ定期的な確認を始める
func (n *Node) awaitRoute() {
	if n.checkRoute() {
		return
	}
	logger.Info(n.name, "Waiting for route to sink")
	n.poll = time.NewTicker(n.config.PollInterval)
}

func (n *Node) checkRoute() bool {
	if !n.route.HasRoute() {
		return false
	}
	n.stopPolling()
	n.scheduler.MarkReady()
	n.bus.Publish(events.NewNodeReadyEvent(n.name))
	return true
}

func (n *Node) stopPolling() {
	if n.poll != nil {
		n.poll.Stop()
		n.poll = nil
	}
}

// refresh はスナップショット用の状態を更新する
func (n *Node) refresh() {
	if n.scheduler == nil {
		return
	}
	st := n.scheduler.Status()
	n.mu.Lock()
	n.clientStatus = st
	n.mu.Unlock()
}

// unrouted は送信先のないクライアント用の Sender
type unrouted struct{}

func (unrouted) Send([]byte) error { return transport.ErrNoRoute }
