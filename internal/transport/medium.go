package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"meshbench/internal/logger"
	"meshbench/internal/stats"
	"meshbench/internal/worker"
)

// Impairments は媒体で発生させる障害の確率と遅延
type Impairments struct {
	Loss      float64       `json:"loss" yaml:"loss"`           // 損失率 0..1
	Duplicate float64       `json:"duplicate" yaml:"duplicate"` // 重複率 0..1
	Corrupt   float64       `json:"corrupt" yaml:"corrupt"`     // 破損率 0..1
	Delay     time.Duration `json:"delay" yaml:"delay"`         // 基本遅延
	Jitter    time.Duration `json:"jitter" yaml:"jitter"`       // 遅延の揺らぎ（0..Jitter を加算）
}

// Validate は確率が 0..1 の範囲にあるか確認する
func (i Impairments) Validate() error {
	for name, p := range map[string]float64{
		"loss":      i.Loss,
		"duplicate": i.Duplicate,
		"corrupt":   i.Corrupt,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("transport: %s probability %v out of range [0,1]", name, p)
		}
	}
	if i.Delay < 0 || i.Jitter < 0 {
		return fmt.Errorf("transport: negative delay")
	}
	return nil
}

// MediumConfig は媒体の設定
type MediumConfig struct {
	Impairments Impairments
	Workers     int   // 配送ワーカー数（0でCPU数）
	Seed        int64 // 乱数シード（0で時刻）
}

// MediumStats は媒体全体の配送統計
type MediumStats struct {
	Sent       uint64 `json:"sent"`
	Delivered  uint64 `json:"delivered"`
	Lost       uint64 `json:"lost"`
	Duplicated uint64 `json:"duplicated"`
	Corrupted  uint64 `json:"corrupted"`
	Overflow   uint64 `json:"overflow"`
}

type endpoint struct {
	handler Handler
	stats   *stats.Registry
}

// Medium はプロセス内でノード間のフレームを運ぶ共有媒体
type Medium struct {
	config MediumConfig
	pool   *worker.Pool

	mu        sync.RWMutex
	endpoints map[uint8]endpoint
	impair    Impairments

	rngMu sync.Mutex
	rng   *rand.Rand

	sent       atomic.Uint64
	delivered  atomic.Uint64
	lost       atomic.Uint64
	duplicated atomic.Uint64
	corrupted  atomic.Uint64
	overflow   atomic.Uint64
}

// NewMedium は新しい媒体を作成する
func NewMedium(config MediumConfig) *Medium {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Medium{
		config:    config,
		pool:      worker.NewPool(worker.PoolConfig{Name: "medium", NumWorkers: config.Workers}),
		endpoints: make(map[uint8]endpoint),
		impair:    config.Impairments,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Start は配送ワーカーを起動する
func (m *Medium) Start(ctx context.Context) {
	m.pool.Start(ctx)
}

// Stop は配送ワーカーを停止する。配送待ちのフレームは捨てられる
func (m *Medium) Stop() {
	m.pool.Stop()
}

// Listen は id 宛てのフレームを handler で受け取る
// reg が nil でなければ受信側のカウンタを更新する
func (m *Medium) Listen(id uint8, reg *stats.Registry, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[id] = endpoint{handler: handler, stats: reg}
}

// Unlisten は id の受信を止める
func (m *Medium) Unlisten(id uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, id)
}

// SetImpairments は障害設定を差し替える
func (m *Medium) SetImpairments(i Impairments) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.impair = i
}

// Impairments は現在の障害設定を返す
func (m *Medium) Impairments() Impairments {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.impair
}

// Port は from から dest へ送る Sender を返す
func (m *Medium) Port(from, dest uint8, reg *stats.Registry) *Port {
	return &Port{medium: m, from: from, dest: dest, stats: reg}
}

// Stats は配送統計を返す
func (m *Medium) Stats() MediumStats {
	return MediumStats{
		Sent:       m.sent.Load(),
		Delivered:  m.delivered.Load(),
		Lost:       m.lost.Load(),
		Duplicated: m.duplicated.Load(),
		Corrupted:  m.corrupted.Load(),
		Overflow:   m.overflow.Load(),
	}
}

func (m *Medium) lookup(id uint8) (endpoint, Impairments, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[id]
	return ep, m.impair, ok
}

func (m *Medium) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Float64() < p
}

func (m *Medium) delay(i Impairments) time.Duration {
	d := i.Delay
	if i.Jitter > 0 {
		m.rngMu.Lock()
		d += time.Duration(m.rng.Int63n(int64(i.Jitter) + 1))
		m.rngMu.Unlock()
	}
	return d
}

// corrupt はペイロードの 1 バイトを反転したコピーを返す
func (m *Medium) corrupt(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	if len(out) == 0 {
		return out
	}
	m.rngMu.Lock()
	idx := m.rng.Intn(len(out))
	m.rngMu.Unlock()
	out[idx] ^= 0xFF
	return out
}

func (m *Medium) transmit(from, dest uint8, payload []byte, sender *stats.Registry) error {
	ep, impair, ok := m.lookup(dest)
	if !ok {
		return fmt.Errorf("%w: node %d", ErrNoRoute, dest)
	}
	m.sent.Add(1)

	if m.roll(impair.Loss) {
		m.lost.Add(1)
		inc(sender, stats.RadioTx)
		inc(sender, stats.Dropped)
		logger.Debug("medium", "frame %d->%d lost", from, dest)
		return nil
	}

	copies := 1
	if m.roll(impair.Duplicate) {
		copies = 2
		m.duplicated.Add(1)
	}
	// 複製されたフレームは無線上で 2 回送信されたものとして数える
	add(sender, stats.RadioTx, uint16(copies))

	for range copies {
		frame := make([]byte, len(payload))
		copy(frame, payload)
		if m.roll(impair.Corrupt) {
			frame = m.corrupt(frame)
			m.corrupted.Add(1)
		}

		d := Datagram{From: from, Payload: frame}
		err := m.pool.SubmitAfter(m.delay(impair), func() {
			inc(ep.stats, stats.RadioRx)
			inc(ep.stats, stats.LinkRxed)
			ep.handler(d)
			m.delivered.Add(1)
		})
		if err != nil {
			m.overflow.Add(1)
			inc(ep.stats, stats.RxOverflow)
			return fmt.Errorf("transport: medium delivery: %w", err)
		}
	}
	return nil
}

// Port は媒体上の 1 ノードの送信口
type Port struct {
	medium *Medium
	from   uint8
	dest   uint8
	stats  *stats.Registry
}

// Send はペイロードを宛先へ送る
// 損失は呼び出し側には見えない
func (p *Port) Send(payload []byte) error {
	inc(p.stats, stats.TransportQueued)
	if err := p.medium.transmit(p.from, p.dest, payload, p.stats); err != nil {
		inc(p.stats, stats.LinkTxFailed)
		return err
	}
	inc(p.stats, stats.TransportDequeued)
	inc(p.stats, stats.LinkTxed)
	return nil
}

// HasRoute は宛先で受信者が待ち受けているかを返す
func (p *Port) HasRoute() bool {
	_, _, ok := p.medium.lookup(p.dest)
	return ok
}

// ID は送信元 ID を返す
func (p *Port) ID() uint8 {
	return p.from
}

func inc(reg *stats.Registry, c stats.Counter) {
	if reg != nil {
		reg.Inc(c)
	}
}

func add(reg *stats.Registry, c stats.Counter, n uint16) {
	if reg != nil {
		reg.Add(c, n)
	}
}
