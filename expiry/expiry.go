// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package expiry implements the active-expiry engine: a deadline-ordered
// min-heap plus a probabilistic sampling loop running on a
// ticker+context background goroutine.
package expiry

import (
	"container/heap"
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ClusterCockpit/microredis-go/log"
)

const (
	tickInterval       = 100 * time.Millisecond
	sampleSize         = 20
	stopSamplingRatio  = 0.25
	maxDeletesPerTick  = 100
)

// keyChecker is the subset of storage.Storage the sampler needs. Defined
// here (rather than importing storage directly) so expiry has no
// dependency on the keyspace's internal representation -- it only needs
// to ask "is this key due, and if so, delete it".
type keyChecker interface {
	ExpireIfDue(key string) bool
	HasKey(key string) bool
	ExpireAtMs(key string) (int64, bool)
}

type heapEntry struct {
	deadline int64
	key      string
}

type deadlineHeap []heapEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(heapEntry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Engine owns the deadline heap. All of its methods except Run run on
// the dispatcher goroutine; Run's own ticker goroutine only ever
// submits closures through the submit func it's given, never touching
// storage directly, preserving the single-writer invariant EXEC
// atomicity relies on.
type Engine struct {
	mu sync.Mutex
	h  deadlineHeap
}

func New() *Engine {
	e := &Engine{}
	heap.Init(&e.h)
	return e
}

// Track records that key now expires at deadlineMs. Called by the
// dispatcher whenever EXPIRE/PEXPIRE/EXPIREAT/SET EX et al. set a TTL.
func (e *Engine) Track(key string, deadlineMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	heap.Push(&e.h, heapEntry{deadline: deadlineMs, key: key})
}

// Seed bulk-loads deadlines, used at startup after a snapshot load.
func (e *Engine) Seed(deadlines map[string]int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, d := range deadlines {
		heap.Push(&e.h, heapEntry{deadline: d, key: k})
	}
}

// NextDeadline returns the soonest tracked deadline, skipping stale
// entries left behind by keys that were deleted or re-expired since being
// pushed (lazy pruning: stale entries found at the top are popped).
func (e *Engine) NextDeadline(sc keyChecker) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.h.Len() > 0 {
		top := e.h[0]
		if !sc.HasKey(top.key) {
			heap.Pop(&e.h)
			continue
		}
		d, has := sc.ExpireAtMs(top.key)
		if !has || d != top.deadline {
			heap.Pop(&e.h)
			continue
		}
		return top.deadline, true
	}
	return 0, false
}

// sampleOnce implements the Redis-style probabilistic active-expire
// cycle: repeatedly sample up to sampleSize heap entries, delete any that
// are due, and stop once no more than stopSamplingRatio of the sample was
// expired (or the per-tick deletion cap is hit).
func (e *Engine) sampleOnce(sc keyChecker) int {
	deleted := 0
	for deleted < maxDeletesPerTick {
		e.mu.Lock()
		n := e.h.Len()
		if n == 0 {
			e.mu.Unlock()
			return deleted
		}
		take := sampleSize
		if take > n {
			take = n
		}
		candidates := make([]heapEntry, 0, take)
		// Sampling uniformly over a heap's slice representation is biased
		// toward shallow entries, but since shallow entries are also the
		// ones nearest expiry, that bias works in the sampler's favor here.
		idxs := rand.Perm(n)[:take]
		for _, idx := range idxs {
			candidates = append(candidates, e.h[idx])
		}
		e.mu.Unlock()

		expiredInSample := 0
		for _, c := range candidates {
			if !sc.HasKey(c.key) {
				continue
			}
			if sc.ExpireIfDue(c.key) {
				expiredInSample++
				deleted++
				if deleted >= maxDeletesPerTick {
					break
				}
			}
		}
		e.compact(sc)
		if float64(expiredInSample)/float64(take) <= stopSamplingRatio {
			return deleted
		}
	}
	return deleted
}

// compact drops heap entries for keys no longer present or whose TTL
// moved, keeping the heap from growing unboundedly across a long-running
// process with heavy EXPIRE churn.
func (e *Engine) compact(sc keyChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	live := e.h[:0]
	for _, ent := range e.h {
		if !sc.HasKey(ent.key) {
			continue
		}
		d, has := sc.ExpireAtMs(ent.key)
		if !has || d != ent.deadline {
			continue
		}
		live = append(live, ent)
	}
	e.h = live
	heap.Init(&e.h)
}

// Run starts the 100ms sampling loop. submit schedules a closure to run
// on the dispatcher goroutine and blocks until it completes, giving the
// sampler exclusive access to storage for the duration of one closure
// without holding any lock across ticks.
func (e *Engine) Run(ctx context.Context, wg *sync.WaitGroup, sc keyChecker, submit func(func())) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var n int
				submit(func() { n = e.sampleOnce(sc) })
				if n > 0 {
					log.Debugf("expiry: reaped %d key(s)", n)
				}
			}
		}
	}()
}
