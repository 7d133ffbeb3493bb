package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"meshbench/internal/chaos"
	"meshbench/internal/client"
	"meshbench/internal/cluster"
	"meshbench/internal/control"
	"meshbench/internal/events"
	"meshbench/internal/logger"
	"meshbench/internal/server"
	"meshbench/internal/stats"
	"meshbench/internal/transport"
)

const (
	defaultReadyTimeout = 10 * time.Second
	defaultGrace        = 5 * time.Second
	drainMargin         = 50 * time.Millisecond
)

// ErrTimeout はノードの応答待ちがタイムアウトした場合のエラー
var ErrTimeout = errors.New("scenario: timed out waiting for nodes")

// Config はシナリオの設定
type Config struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// セッション設定
	Clients      int           `json:"clients" yaml:"clients"`             // クライアント数
	Packets      uint8         `json:"packets" yaml:"packets"`             // クライアントごとの送信数
	Interval     time.Duration `json:"interval" yaml:"interval"`           // 送信間隔（ミリ秒単位）
	StatsEnabled bool          `json:"stats_enabled" yaml:"stats_enabled"` // 統計を有効にする

	// 媒体設定
	Impairments transport.Impairments `json:"impairments" yaml:"impairments"`
	Workers     int                   `json:"workers" yaml:"workers"`
	Seed        int64                 `json:"seed" yaml:"seed"`
	Chaos       *chaos.Config         `json:"chaos,omitempty" yaml:"chaos,omitempty"` // 送信中の媒体障害（nil で無効）

	// 待ち時間
	ReadyTimeout time.Duration `json:"ready_timeout" yaml:"ready_timeout"` // BMCC_START 待ち
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`             // BMCD_DONE 待ち（0で送信時間から算出）
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"` // クライアントの経路確認間隔
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:         "default",
		Description:  "Default scenario",
		Clients:      5,
		Packets:      20,
		Interval:     500 * time.Millisecond,
		StatsEnabled: true,
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.Clients < 1 || c.Clients > 255 {
		return fmt.Errorf("clients must be between 1 and 255, got %d", c.Clients)
	}
	if c.Interval%time.Millisecond != 0 {
		return fmt.Errorf("interval must be a whole number of milliseconds, got %v", c.Interval)
	}
	ms := c.Interval.Milliseconds()
	if ms < 1 || ms > control.MaxInterval {
		return fmt.Errorf("interval must be between 1ms and %dms, got %v", control.MaxInterval, c.Interval)
	}
	if err := c.Impairments.Validate(); err != nil {
		return err
	}
	if c.Chaos != nil {
		if err := c.Chaos.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Settings は SET で送る設定を返す
func (c Config) Settings() control.Settings {
	return control.Settings{
		NodeCount:   uint8(c.Clients),
		PacketCount: c.Packets,
		Interval:    uint16(c.Interval.Milliseconds()),
	}
}

// Expected は全パケットが送られるまでのおおよその時間を返す
func (c Config) Expected() time.Duration {
	return time.Duration(c.Packets)*c.Interval + c.Interval
}

func (c Config) statsFlag() control.Flags {
	if c.StatsEnabled {
		return control.FlagStats
	}
	return 0
}

// Result はシナリオ実行結果
type Result struct {
	ScenarioName string           `json:"scenario"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	Duration     time.Duration    `json:"duration"`
	Settings     control.Settings `json:"settings"`

	Impairments transport.Impairments `json:"impairments"`
	Medium      transport.MediumStats `json:"medium"`
	Chaos       *chaos.Stats          `json:"chaos,omitempty"`

	// 集計
	Clients       int     `json:"clients"`
	Completed     int     `json:"completed"` // BMCD_DONE を出したクライアント数
	TimedOut      bool    `json:"timed_out"`
	Sent          uint64  `json:"sent"`
	Received      uint64  `json:"received"`
	Delivered     uint64  `json:"delivered"`
	Discarded     uint64  `json:"discarded"` // 重複または不正として捨てたもの
	Corrupted     uint64  `json:"corrupted"`
	DeliveryRatio float64 `json:"delivery_ratio"`

	Senders         []server.SenderReport `json:"senders"`
	SinkStats       stats.Snapshot        `json:"sink_stats"`
	FinalNodeStatus map[string]string     `json:"final_node_status"`
}

// Engine はシナリオ実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus

	mu      sync.RWMutex
	running bool
	cluster *cluster.Cluster
	medium  *transport.Medium

	ready chan string
	done  chan string
}

// New は新しい Engine を作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// Config はシナリオ設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Run はシナリオを実行する
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", e.config.Name, err)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("scenario is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	logger.Info("", "=== Scenario '%s' started ===", e.config.Name)
	logger.Info("", "Description: %s", e.config.Description)

	result := &Result{
		ScenarioName: e.config.Name,
		StartTime:    time.Now(),
		Settings:     e.config.Settings(),
		Impairments:  e.config.Impairments,
		Clients:      e.config.Clients,
	}

	if err := e.setup(ctx); err != nil {
		e.teardown()
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	defer e.teardown()

	if err := e.runScenario(ctx, result); err != nil {
		return nil, err
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	e.collectResults(result)

	logger.Info("", "=== Scenario '%s' completed ===", e.config.Name)
	return result, nil
}

// setup は媒体とノードを用意する
func (e *Engine) setup(ctx context.Context) error {
	medium := transport.NewMedium(transport.MediumConfig{
		Impairments: e.config.Impairments,
		Workers:     e.config.Workers,
		Seed:        e.config.Seed,
	})
	medium.Start(ctx)

	c := cluster.New()

	e.mu.Lock()
	e.medium = medium
	e.cluster = c
	e.ready = make(chan string, e.config.Clients)
	e.done = make(chan string, e.config.Clients)
	e.mu.Unlock()

	err := c.CreateNodes(medium, e.config.Clients, cluster.NodeOptions{
		Bus:          e.eventBus,
		Status:       e.statusWriter,
		PollInterval: e.config.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create nodes: %w", err)
	}
	if err := c.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start nodes: %w", err)
	}
	return nil
}

func (e *Engine) statusWriter(name string) io.Writer {
	if !strings.HasPrefix(name, "client-") {
		return &lineWatcher{name: name, onLine: func(string, string) {}}
	}
	return &lineWatcher{name: name, onLine: e.onStatusLine}
}

// onStatusLine はクライアントのステータス行を振り分ける
func (e *Engine) onStatusLine(name, line string) {
	var ch chan string
	switch line + "\n" {
	case client.ReadyLine:
		ch = e.ready
	case client.DoneLine:
		ch = e.done
	default:
		logger.Debug(name, "status: %s", line)
		return
	}
	select {
	case ch <- name:
	default:
		logger.Warn(name, "unexpected repeated status line %q", line)
	}
}

// teardown はノードと媒体を止める
func (e *Engine) teardown() {
	e.mu.RLock()
	c, m := e.cluster, e.medium
	e.mu.RUnlock()

	if c != nil {
		_ = c.StopAll()
	}
	if m != nil {
		m.Stop()
	}
}

// runScenario はコントローラの手順を実行する
func (e *Engine) runScenario(ctx context.Context, result *Result) error {
	settings := e.config.Settings()
	setup := control.Command{
		Flags:    control.FlagSet | control.FlagReset | e.config.statsFlag(),
		Settings: settings,
	}
	if err := e.cluster.Broadcast(setup); err != nil {
		return fmt.Errorf("failed to configure nodes: %w", err)
	}
	logger.Info("", "Configured %d clients: %d packets every %dms",
		settings.NodeCount, settings.PacketCount, settings.Interval)

	readyTimeout := e.config.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = defaultReadyTimeout
	}
	if n, err := waitFor(ctx, e.ready, e.config.Clients, readyTimeout); err != nil {
		return fmt.Errorf("%d of %d clients ready: %w", n, e.config.Clients, err)
	}
	logger.Info("", "All clients ready, starting session")

	start := control.Command{Flags: control.FlagStart | e.config.statsFlag()}
	if err := e.cluster.Broadcast(start); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	timeout := e.config.Timeout
	if timeout <= 0 {
		timeout = e.config.Expected() + defaultGrace
	}
	monkey := e.startChaos(ctx)
	n, err := waitFor(ctx, e.done, e.config.Clients, timeout)
	if monkey != nil {
		monkey.Stop()
		s := monkey.Stats()
		result.Chaos = &s
	}
	result.Completed = n
	switch {
	case errors.Is(err, ErrTimeout):
		result.TimedOut = true
		logger.Warn("", "Only %d of %d clients finished", n, e.config.Clients)
		stop := control.Command{Flags: control.FlagStop | e.config.statsFlag()}
		if err := e.cluster.Broadcast(stop); err != nil {
			logger.Warn("", "failed to stop session: %v", err)
		}
	case err != nil:
		return err
	}

	// 媒体上に残っているフレームの到着を待つ
	imp := e.config.Impairments
	drain := imp.Delay + imp.Jitter + drainMargin
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(drain):
	}
	return nil
}

// startChaos は設定があれば媒体への障害注入を始める
func (e *Engine) startChaos(ctx context.Context) *chaos.Monkey {
	if e.config.Chaos == nil {
		return nil
	}
	monkey := chaos.New(e.medium, *e.config.Chaos)
	monkey.SetEventBus(e.eventBus)
	monkey.Start(ctx)
	return monkey
}

// waitFor は ch から異なる名前を want 個受け取るまで待つ
func waitFor(ctx context.Context, ch <-chan string, want int, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	seen := make(map[string]struct{}, want)
	for len(seen) < want {
		select {
		case <-ctx.Done():
			return len(seen), ctx.Err()
		case <-timer.C:
			return len(seen), ErrTimeout
		case name := <-ch:
			seen[name] = struct{}{}
		}
	}
	return len(seen), nil
}

// collectResults は結果を収集する
func (e *Engine) collectResults(result *Result) {
	for _, n := range e.cluster.Clients() {
		result.Sent += uint64(n.Stats().Get(stats.AppTxed))
	}

	if sink, ok := e.cluster.Sink(); ok {
		snap := sink.Stats().Snapshot()
		result.SinkStats = snap
		result.Received = uint64(snap.Get(stats.AppRxed))
		result.Corrupted = uint64(snap.Get(stats.Corrupted))
		result.Senders = sink.Tracker().Senders()
	}
	for _, s := range result.Senders {
		result.Delivered += uint64(s.Delivered)
	}
	if result.Received > result.Delivered {
		result.Discarded = result.Received - result.Delivered
	}

	expected := uint64(result.Settings.PacketCount) * uint64(result.Clients)
	if expected > 0 {
		result.DeliveryRatio = float64(result.Delivered) / float64(expected)
	}

	result.Medium = e.medium.Stats()

	result.FinalNodeStatus = make(map[string]string)
	for _, snap := range e.cluster.Snapshots() {
		state := snap.Status
		if snap.Client != nil {
			state = fmt.Sprintf("%s/%s", snap.Status, snap.Client.State)
			if snap.Client.Done {
				state += " done"
			}
		}
		result.FinalNodeStatus[snap.Name] = state
	}
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, `
================================================================================
                         BENCHMARK REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Clients:        %d (%d finished%s)
  Packets/Client: %d
  Interval:       %dms

MEDIUM
------
  Loss:           %.1f%%
  Duplicate:      %.1f%%
  Corrupt:        %.1f%%
  Delay:          %v (+%v jitter)
  Frames Sent:    %d
  Frames Lost:    %d
  Disruptions:    %d

DELIVERY
--------
  Sent:           %d
  Received:       %d
  Delivered:      %d
  Discarded:      %d
  Corrupted:      %d
  Delivery Ratio: %.2f%%

PER SENDER
----------
`,
		r.ScenarioName,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Clients, r.Completed, timedOutSuffix(r.TimedOut),
		r.Settings.PacketCount,
		r.Settings.Interval,
		r.Impairments.Loss*100,
		r.Impairments.Duplicate*100,
		r.Impairments.Corrupt*100,
		r.Impairments.Delay, r.Impairments.Jitter,
		r.Medium.Sent,
		r.Medium.Lost,
		r.disruptions(),
		r.Sent,
		r.Received,
		r.Delivered,
		r.Discarded,
		r.Corrupted,
		r.DeliveryRatio*100,
	)

	for _, s := range r.Senders {
		fmt.Fprintf(&b, "  node %-3d delivered %3d/%-3d (%6.2f%%)  high %3d  corrupted %d\n",
			s.ID, s.Delivered, s.Expected, s.Ratio*100, s.HighWater, s.Corrupted)
	}

	b.WriteString("\nFINAL NODE STATUS\n-----------------\n")
	names := make([]string, 0, len(r.FinalNodeStatus))
	for name := range r.FinalNodeStatus {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-20s %s\n", name+":", r.FinalNodeStatus[name])
	}

	b.WriteString("\n================================================================================")
	return b.String()
}

func (r *Result) disruptions() uint64 {
	if r.Chaos == nil {
		return 0
	}
	return r.Chaos.TotalAttacks
}

func timedOutSuffix(timedOut bool) string {
	if timedOut {
		return ", timed out"
	}
	return ""
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Cluster はクラスタを返す（未実行なら nil）
func (e *Engine) Cluster() *cluster.Cluster {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cluster
}

// MediumStats は媒体の統計を返す
func (e *Engine) MediumStats() *transport.MediumStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.medium == nil {
		return nil
	}
	s := e.medium.Stats()
	return &s
}
