package stats

import (
	"math"
	"sync"
)

// Max はカウンタの最大値（16bit 固定幅）
const Max = math.MaxUint16

// Registry はノード全体の統計カウンタ集合
//
// 全カウンタは一つの有効フラグを共有する。無効時の更新は何もしない。
// 最大値に達しているカウンタをインクリメントするとブロック全体がリセットされる。
type Registry struct {
	mu             sync.RWMutex
	enabled        bool
	values         [NumCounters]uint16
	overflowResets uint64
}

// New は有効状態の Registry を作成する
func New() *Registry {
	return &Registry{enabled: true}
}

// Enable は統計を有効化する
func (r *Registry) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
}

// Disable は統計を無効化する（値は保持される）
func (r *Registry) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
}

// SetEnabled は有効フラグを設定する
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// Enabled は有効かどうかを返す
func (r *Registry) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Reset は有効フラグに関係なく全カウンタを 0 にする
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = [NumCounters]uint16{}
}

// Inc はカウンタを 1 増やす
func (r *Registry) Inc(c Counter) {
	if !c.Valid() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}
	if r.values[c] == Max {
		r.values = [NumCounters]uint16{}
		r.overflowResets++
		return
	}
	r.values[c]++
}

// Add はカウンタに n を加算する（最大値で飽和）
func (r *Registry) Add(c Counter, n uint16) {
	if !c.Valid() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}
	sum := uint32(r.values[c]) + uint32(n)
	if sum > Max {
		sum = Max
	}
	r.values[c] = uint16(sum)
}

// Get はカウンタの現在値を返す
func (r *Registry) Get(c Counter) uint16 {
	if !c.Valid() {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[c]
}

// ResetCounter は単一のカウンタを 0 にする
func (r *Registry) ResetCounter(c Counter) {
	if !c.Valid() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[c] = 0
}

// Snapshot は統計のスナップショット
type Snapshot struct {
	Enabled        bool
	Values         [NumCounters]uint16
	OverflowResets uint64
}

// Snapshot は現在の統計のスナップショットを返す
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		Enabled:        r.enabled,
		Values:         r.values,
		OverflowResets: r.overflowResets,
	}
}

// Get はスナップショット内のカウンタ値を返す
func (s Snapshot) Get(c Counter) uint16 {
	if !c.Valid() {
		return 0
	}
	return s.Values[c]
}

// Map はカウンタ名をキーにした値の map を返す
func (s Snapshot) Map() map[string]uint16 {
	m := make(map[string]uint16, NumCounters)
	for c := Counter(0); c < NumCounters; c++ {
		m[c.String()] = s.Values[c]
	}
	return m
}
