package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"meshbench/internal/logger"
)

var (
	// ErrStopped はプールが起動していない、または停止済みの場合のエラー
	ErrStopped = errors.New("worker: pool is not running")
	// ErrQueueFull はキューに空きがない場合のエラー
	ErrQueueFull = errors.New("worker: queue is full")
)

// Job はワーカーが実行するジョブ
type Job func()

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	Name        string // ログ用の名前
	NumWorkers  int    // ワーカー数（0でCPU数）
	QueueFactor int    // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Name:        "pool",
		NumWorkers:  0,
		QueueFactor: 64,
	}
}

// Stats はプールの処理件数
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Pending   int    `json:"pending"`
}

// Pool はゴルーチンのプールを管理する
type Pool struct {
	name       string
	numWorkers int
	jobs       chan Job

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}

	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
}

// NewPool は設定を指定してワーカープールを作成する
func NewPool(config PoolConfig) *Pool {
	defaults := DefaultPoolConfig()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}
	if config.QueueFactor <= 0 {
		config.QueueFactor = defaults.QueueFactor
	}
	return &Pool{
		name:       config.Name,
		numWorkers: config.NumWorkers,
		jobs:       make(chan Job, config.NumWorkers*config.QueueFactor),
		timers:     make(map[*time.Timer]struct{}),
	}
}

// Start はワーカープールを起動する
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for range p.numWorkers {
		p.wg.Add(1)
		go p.run(p.ctx)
	}

	logger.Debug(p.name, "worker pool started with %d workers", p.numWorkers)
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			job()
			p.completed.Add(1)
		}
	}
}

// running は起動中のコンテキストを返す
func (p *Pool) running() (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.ctx.Err() != nil {
		return nil, false
	}
	return p.ctx, true
}

// Submit はジョブをキューに入れる。ブロックしない
func (p *Pool) Submit(job Job) error {
	if _, ok := p.running(); !ok {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// SubmitWait はキューに空きができるまで待ってジョブを入れる
func (p *Pool) SubmitWait(job Job) error {
	ctx, ok := p.running()
	if !ok {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case <-ctx.Done():
		p.rejected.Add(1)
		return ErrStopped
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	}
}

// SubmitAfter は d 経過後にジョブをキューに入れる
// d が 0 以下なら Submit と同じ
func (p *Pool) SubmitAfter(d time.Duration, job Job) error {
	if d <= 0 {
		return p.Submit(job)
	}
	if _, ok := p.running(); !ok {
		p.rejected.Add(1)
		return ErrStopped
	}

	p.timersMu.Lock()
	defer p.timersMu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		p.timersMu.Lock()
		delete(p.timers, timer)
		p.timersMu.Unlock()

		if err := p.Submit(job); err != nil {
			logger.Debug(p.name, "delayed job dropped: %v", err)
		}
	})
	p.timers[timer] = struct{}{}
	return nil
}

// Stop はワーカープールを停止する
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.cancel()
	p.mu.Unlock()

	p.timersMu.Lock()
	for timer := range p.timers {
		timer.Stop()
		delete(p.timers, timer)
	}
	p.timersMu.Unlock()

	p.wg.Wait()

	// 実行されなかったジョブを捨てる
	for len(p.jobs) > 0 {
		<-p.jobs
	}

	logger.Debug(p.name, "worker pool stopped")
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在キューに溜まっているジョブ数を返す
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Stats は処理件数のスナップショットを返す
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Pending:   len(p.jobs),
	}
}
