// Package worker provides a bounded goroutine pool for running short jobs.
//
// The in-memory medium hands every frame delivery to a Pool so that a slow
// or blocked receiver never stalls the sender's dispatch loop. Jobs may be
// queued immediately or after a delay, which is how the medium models
// propagation latency.
//
// # Basic Usage
//
//	pool := worker.NewPool(worker.PoolConfig{Name: "medium", NumWorkers: 4})
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	if err := pool.Submit(func() { deliver(frame) }); err != nil {
//	    // queue full or pool stopped
//	}
//	pool.SubmitAfter(20*time.Millisecond, func() { deliver(frame) })
//
// # Back Pressure
//
// Submit never blocks: when the queue is full it returns ErrQueueFull and
// the caller decides whether that counts as a drop. SubmitWait blocks until
// there is room or the pool's context is cancelled.
//
// # Shutdown
//
// Stop cancels the pool's context, discards delayed jobs that have not yet
// fired and waits for the running jobs to return.
package worker
