// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"sync/atomic"
	"testing"
	"time"
)

type sizeRecorder struct {
	max int32
}

func (s *sizeRecorder) PoolSize(n int) {
	for {
		cur := atomic.LoadInt32(&s.max)
		if int32(n) <= cur || atomic.CompareAndSwapInt32(&s.max, cur, int32(n)) {
			return
		}
	}
}

func TestPoolStartup(t *testing.T) {
	var counter int32
	started := make(chan struct{})
	done := make(chan struct{})
	addAndWait := func() {
		<-started
		atomic.AddInt32(&counter, 1)
		<-done
	}
	p := NewPool(3, addAndWait, nil)
	time.Sleep(50 * time.Millisecond)
	if v := atomic.LoadInt32(&counter); v != 0 {
		t.Fatalf("expected no adds yet, got %d", v)
	}
	close(started)
	time.Sleep(50 * time.Millisecond)
	if v := atomic.LoadInt32(&counter); v != 3 {
		t.Fatalf("expected 3 adds, got %d", v)
	}
	p.Shutdown()
	close(done)
	p.Close()
	time.Sleep(50 * time.Millisecond)
	if v := atomic.LoadInt32(&counter); v != 3 {
		t.Fatalf("expected no more adds, got %d including previous 3", v)
	}
}

// A worker which blocks is replaced, so the pool keeps making progress
// while it waits.
func TestPoolBlockSpawnsReplacement(t *testing.T) {
	var p *Pool
	stats := &sizeRecorder{}
	release := make(chan struct{})
	var blockedOnce int32
	var steps int32
	stop := make(chan struct{})

	step := func() {
		select {
		case <-stop:
			return
		default:
		}
		if atomic.CompareAndSwapInt32(&blockedOnce, 0, 1) {
			p.Block()
			<-release
			p.Unblock()
			return
		}
		atomic.AddInt32(&steps, 1)
		time.Sleep(time.Millisecond)
	}
	p = NewPool(1, step, stats)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&steps) < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("pool made no progress while its only worker was blocked")
		}
		time.Sleep(time.Millisecond)
	}
	if max := atomic.LoadInt32(&stats.max); max < 2 {
		t.Fatalf("expected a replacement worker, max pool size %d", max)
	}

	close(release)
	p.Shutdown()
	close(stop)
	p.Close()
	if live, _, _ := p.Stats(); live != 0 {
		t.Fatalf("expected no live workers after close, got %d", live)
	}
}

// Close must not miss a broadcast from a worker exiting between its read of
// the live count and its wait on the condition variable.
func TestPoolShutdown(t *testing.T) {
	for i := 0; i < 10000; i++ {
		ch := make(chan struct{})
		p := NewPool(3, func() { <-ch }, nil)
		close(ch)
		p.Close()
	}
}
