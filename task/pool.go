// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package task provides a worker pool whose workers can declare themselves
// blocked. A blocked worker doesn't count against the pool's target, so a
// pool of N keeps N workers making progress even while some of them wait
// on something slow, such as a busy partition.
package task

import (
	"sync"
	"sync/atomic"
)

// Pool keeps a target number of unblocked goroutines running step() in a
// loop. Block and Unblock adjust the unblocked count; when it drops below the
// target a new worker is spawned immediately, and when it rises above the
// target the next worker to finish a step exits.
//
// step must return from time to time (for instance when a channel it waits
// on is closed) or the pool can't shrink or shut down.
type Pool struct {
	mu        sync.Mutex // locker used for cond
	cond      *sync.Cond // notify of exiting workers
	step      func()
	targetN   int32 // desired number
	unblocked int32 // currently active and unblocked
	live      int32 // currently active including blocked
	stats     PoolStats
}

// PoolStats receives the pool size whenever it changes.
type PoolStats interface {
	PoolSize(int)
}

// NewPool creates a pool that keeps targetN goroutines running step. stats
// may be nil.
func NewPool(targetN int, step func(), stats PoolStats) *Pool {
	p := &Pool{targetN: int32(targetN), step: step, stats: stats}
	p.cond = sync.NewCond(&p.mu)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < targetN; i++ {
		p.addWorker()
	}
	return p
}

// Block marks the calling worker as blocked, spawning a replacement before
// returning if the pool would otherwise fall below its target.
func (p *Pool) Block() {
	p.mu.Lock()
	defer p.mu.Unlock()
	unblocked := atomic.AddInt32(&p.unblocked, -1)
	if unblocked < atomic.LoadInt32(&p.targetN) {
		p.addWorker()
	}
}

// Unblock marks the calling worker as unblocked again. Any excess worker
// retires after its current step.
func (p *Pool) Unblock() {
	atomic.AddInt32(&p.unblocked, 1)
}

// Shutdown sets the target to zero without waiting for workers to exit.
func (p *Pool) Shutdown() {
	atomic.StoreInt32(&p.targetN, 0)
}

// Stats samples the live, unblocked and target counts. The values are read
// individually and are only approximately consistent.
func (p *Pool) Stats() (live, unblocked, target int) {
	return int(atomic.LoadInt32(&p.live)), int(atomic.LoadInt32(&p.unblocked)), int(atomic.LoadInt32(&p.targetN))
}

// Close shuts the pool down and waits for every worker to exit.
func (p *Pool) Close() {
	// cond.Wait releases p.mu while waiting, and workers take p.mu before
	// decrementing live, so no exit can slip between our read and the wait.
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Shutdown()
	for atomic.LoadInt32(&p.live) > 0 {
		p.cond.Wait()
	}
}

// addWorker requires p.mu.
func (p *Pool) addWorker() {
	live := atomic.AddInt32(&p.live, 1)
	if p.stats != nil {
		p.stats.PoolSize(int(live))
	}
	atomic.AddInt32(&p.unblocked, 1)
	go p.work()
}

func (p *Pool) work() {
	defer func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		live := atomic.AddInt32(&p.live, -1)
		if p.stats != nil {
			p.stats.PoolSize(int(live))
		}
		if live == 0 {
			p.cond.Broadcast()
		}
	}()
	for {
		unblocked := atomic.LoadInt32(&p.unblocked)
		target := atomic.LoadInt32(&p.targetN)
		for unblocked > target {
			if atomic.CompareAndSwapInt32(&p.unblocked, unblocked, unblocked-1) {
				return
			}
			// Lost a race with Block/Unblock or Shutdown; re-read both.
			unblocked = atomic.LoadInt32(&p.unblocked)
			target = atomic.LoadInt32(&p.targetN)
		}
		p.step()
	}
}
