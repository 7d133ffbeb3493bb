package node

import (
	"sync"
	"time"

	"meshbench/internal/client"
)

// timerSet はスケジューラのタイマーを time.AfterFunc で実装する
//
// Arm と Cancel はディスパッチループからのみ呼ばれる。世代番号を進めることで
// 既に発火してキューに入ったイベントを古いものとして判別できる。
type timerSet struct {
	timers [2]*time.Timer
	gens   [2]uint64

	mu   sync.Mutex
	post func(event) bool
}

var _ client.Timers = (*timerSet)(nil)

func (t *timerSet) setPost(post func(event) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.post = post
}

func (t *timerSet) fire(ev event) {
	t.mu.Lock()
	post := t.post
	t.mu.Unlock()
	if post != nil {
		post(ev)
	}
}

// Arm は id のタイマーを d 後に発火するよう張り直す
func (t *timerSet) Arm(id client.TimerID, d time.Duration) {
	t.stop(id)
	t.gens[id]++
	ev := event{kind: TimerFired, timer: id, gen: t.gens[id]}
	t.timers[id] = time.AfterFunc(d, func() { t.fire(ev) })
}

// Cancel は id のタイマーを無効化する
func (t *timerSet) Cancel(id client.TimerID) {
	t.stop(id)
	t.gens[id]++
}

// current は発火イベントが最新の Arm に対応するかを返す
func (t *timerSet) current(id client.TimerID, gen uint64) bool {
	return int(id) < len(t.gens) && t.gens[id] == gen
}

func (t *timerSet) stop(id client.TimerID) {
	if t.timers[id] != nil {
		t.timers[id].Stop()
		t.timers[id] = nil
	}
}

func (t *timerSet) stopAll() {
	for id := range t.timers {
		t.Cancel(client.TimerID(id))
	}
}
