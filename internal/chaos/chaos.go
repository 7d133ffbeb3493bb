package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"meshbench/internal/events"
	"meshbench/internal/logger"
	"meshbench/internal/transport"
)

// AttackType は障害の種類を表す
type AttackType int

const (
	AttackBlackout AttackType = iota
	AttackBurstLoss
	AttackDelay
	AttackCorrupt
)

func (a AttackType) String() string {
	switch a {
	case AttackBlackout:
		return "blackout"
	case AttackBurstLoss:
		return "burst_loss"
	case AttackDelay:
		return "delay"
	case AttackCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// ParseAttackType は名前から AttackType を返す
func ParseAttackType(s string) (AttackType, error) {
	for _, a := range []AttackType{AttackBlackout, AttackBurstLoss, AttackDelay, AttackCorrupt} {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown attack type: %s", s)
}

// Target は障害設定を書き換えられる媒体
type Target interface {
	Impairments() transport.Impairments
	SetImpairments(transport.Impairments)
}

var _ Target = (*transport.Medium)(nil)

// Config は Monkey の設定
type Config struct {
	Interval      time.Duration `json:"interval" yaml:"interval"`             // 攻撃間隔
	Duration      time.Duration `json:"duration" yaml:"duration"`             // 1 回の障害の継続時間
	AttackTypes   []AttackType  `json:"attack_types" yaml:"attack_types"`     // 有効な攻撃タイプ
	BurstLoss     float64       `json:"burst_loss" yaml:"burst_loss"`         // BurstLoss で加える損失率
	DelayDuration time.Duration `json:"delay_duration" yaml:"delay_duration"` // Delay で加える遅延
	CorruptRate   float64       `json:"corrupt_rate" yaml:"corrupt_rate"`     // Corrupt で加える破損率
	Seed          int64         `json:"seed" yaml:"seed"`                     // 0 なら時刻から
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Interval:      2 * time.Second,
		Duration:      500 * time.Millisecond,
		AttackTypes:   []AttackType{AttackBlackout, AttackBurstLoss, AttackDelay, AttackCorrupt},
		BurstLoss:     0.5,
		DelayDuration: 100 * time.Millisecond,
		CorruptRate:   0.3,
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("chaos interval must be positive")
	}
	if c.Duration <= 0 || c.Duration >= c.Interval {
		return fmt.Errorf("chaos duration must be positive and shorter than the interval")
	}
	if c.BurstLoss < 0 || c.BurstLoss > 1 || c.CorruptRate < 0 || c.CorruptRate > 1 {
		return fmt.Errorf("chaos rates must be between 0 and 1")
	}
	if c.DelayDuration < 0 {
		return fmt.Errorf("chaos delay must not be negative")
	}
	return nil
}

// Stats はカオス攻撃の統計情報
type Stats struct {
	TotalAttacks uint64            `json:"total_attacks"`
	ByType       map[string]uint64 `json:"attacks_by_type"`
	Active       string            `json:"active,omitempty"`
}

// Monkey は媒体に障害を注入する
type Monkey struct {
	config   Config
	target   Target
	eventBus *events.Bus

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.Mutex
	rng          *rand.Rand
	attackCount  uint64
	attackByType map[AttackType]uint64
	baseline     transport.Impairments
	active       bool
	activeType   AttackType
	restoreAt    time.Time
}

// New は新しい Monkey を作成する
func New(target Target, config Config) *Monkey {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Monkey{
		config:       config,
		target:       target,
		rng:          rand.New(rand.NewSource(seed)),
		attackByType: make(map[AttackType]uint64),
	}
}

// SetEventBus はイベントバスを設定する
func (m *Monkey) SetEventBus(bus *events.Bus) {
	m.eventBus = bus
}

// Start はカオス注入を開始する。開始時の障害設定を復元先として記録する
func (m *Monkey) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	m.mu.Lock()
	m.baseline = m.target.Impairments()
	m.mu.Unlock()

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go m.attackLoop()
	go m.restoreLoop()

	logger.Info("", "ChaosMonkey started (interval: %v, duration: %v)",
		m.config.Interval, m.config.Duration)
}

// Stop はカオス注入を停止し、媒体を元の設定へ戻す
func (m *Monkey) Stop() {
	if !m.running.Swap(false) {
		return
	}

	m.cancel()
	m.wg.Wait()
	m.restore()

	logger.Info("", "ChaosMonkey stopped (total attacks: %d)", m.AttackCount())
}

// attackLoop は定期的に攻撃を実行する
func (m *Monkey) attackLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.attack(time.Now())
		}
	}
}

// restoreLoop は継続時間を過ぎた障害を元に戻す
func (m *Monkey) restoreLoop() {
	defer m.wg.Done()

	tick := m.config.Duration / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			due := m.active && !now.Before(m.restoreAt)
			m.mu.Unlock()
			if due {
				m.restore()
			}
		}
	}
}

// attack は障害を 1 つ適用する。既に障害中なら何もしない
func (m *Monkey) attack(now time.Time) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	attackType := m.selectAttackType()
	imp := m.apply(m.baseline, attackType)
	m.active = true
	m.activeType = attackType
	m.restoreAt = now.Add(m.config.Duration)
	m.attackCount++
	m.attackByType[attackType]++
	m.mu.Unlock()

	m.target.SetImpairments(imp)
	logger.Warn("", "ChaosMonkey: %s on medium for %v", attackType, m.config.Duration)
	m.publishEvent(events.NewDisruptionStartedEvent(attackType.String()))
}

// restore は媒体を記録した設定へ戻す
func (m *Monkey) restore() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	attackType := m.activeType
	baseline := m.baseline
	m.active = false
	m.mu.Unlock()

	m.target.SetImpairments(baseline)
	logger.Info("", "ChaosMonkey: medium restored after %s", attackType)
	m.publishEvent(events.NewDisruptionEndedEvent(attackType.String()))
}

// selectAttackType は攻撃タイプをランダムに選択する（mu 保持中に呼ぶ）
func (m *Monkey) selectAttackType() AttackType {
	if len(m.config.AttackTypes) == 0 {
		return AttackBlackout
	}
	return m.config.AttackTypes[m.rng.Intn(len(m.config.AttackTypes))]
}

// apply は base に攻撃を重ねた障害設定を返す
func (m *Monkey) apply(base transport.Impairments, attackType AttackType) transport.Impairments {
	switch attackType {
	case AttackBlackout:
		base.Loss = 1
	case AttackBurstLoss:
		base.Loss = min(1, base.Loss+m.config.BurstLoss)
	case AttackDelay:
		base.Delay += m.config.DelayDuration
	case AttackCorrupt:
		base.Corrupt = min(1, base.Corrupt+m.config.CorruptRate)
	}
	return base
}

func (m *Monkey) publishEvent(event events.Event) {
	if m.eventBus != nil {
		m.eventBus.Publish(event)
	}
}

// IsRunning は実行中かどうかを返す
func (m *Monkey) IsRunning() bool {
	return m.running.Load()
}

// AttackCount は攻撃回数を返す
func (m *Monkey) AttackCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attackCount
}

// Stats は攻撃統計を返す
func (m *Monkey) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[string]uint64)
	for t, count := range m.attackByType {
		byType[t.String()] = count
	}

	stats := Stats{
		TotalAttacks: m.attackCount,
		ByType:       byType,
	}
	if m.active {
		stats.Active = m.activeType.String()
	}
	return stats
}
