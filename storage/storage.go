// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"sync/atomic"
	"time"

	"github.com/ClusterCockpit/microredis-go/config"
	"github.com/ClusterCockpit/microredis-go/eviction"
	"github.com/ClusterCockpit/microredis-go/resp"
)

// Storage is the single keyspace. It is never locked: every operation on
// it runs on the dispatcher goroutine (server/dispatch.go), so the maps
// below are safe to mutate without synchronization. This mirrors how
// pkg/metricstore's Level tree confines all mutation to a single lock
// domain, except here the domain is "one goroutine" rather than one mutex.
type Storage struct {
	data       map[string]Value
	expires    map[string]int64 // key -> unix-ms deadline; absent = no TTL
	versions   map[string]uint64
	lastAccess map[string]int64 // unix-ms, for LRU-ish eviction policies

	maxKeys   int
	maxMemory int64 // approximate bytes, 0 = unlimited
	policy    config.EvictionPolicy

	changesSinceSave uint64
	keyCount         int64 // atomic, read by the memory monitor loop without hopping onto the dispatcher
	memUsed          int64 // atomic, approximate bytes currently held
}

func New(maxKeys int) *Storage {
	return &Storage{
		data:       make(map[string]Value),
		expires:    make(map[string]int64),
		versions:   make(map[string]uint64),
		lastAccess: make(map[string]int64),
		maxKeys:    maxKeys,
		policy:     config.EvictionNoEviction,
	}
}

// SetMemoryBudget configures the maxmemory guard: maxBytes <= 0 disables
// it, and policy selects which eviction.PickVictim strategy runs when a
// write would exceed it.
func (s *Storage) SetMemoryBudget(maxBytes int64, policy config.EvictionPolicy) {
	s.maxMemory = maxBytes
	s.policy = policy
}

// AtomicMemoryUsed is safe to call off the dispatcher goroutine, mirroring
// AtomicKeyCount.
func (s *Storage) AtomicMemoryUsed() int64 { return atomic.LoadInt64(&s.memUsed) }

// EnforceMemoryBudget evicts keys under the configured policy until usage
// is back within maxMemory, catching growth from in-place mutations
// (APPEND, SETRANGE, list/hash/set growth) that admit never sees because
// they don't add a new key. Returns the number of keys evicted. A no-op
// under noeviction or with no budget configured.
func (s *Storage) EnforceMemoryBudget() int {
	if s.maxMemory <= 0 {
		return 0
	}
	// Re-total the estimate: in-place mutations change a value's Len
	// without updating memUsed.
	var used int64
	for k, v := range s.data {
		used += approxSize(k, v)
	}
	atomic.StoreInt64(&s.memUsed, used)
	evicted := 0
	for atomic.LoadInt64(&s.memUsed) > s.maxMemory {
		victim, ok, _ := eviction.PickVictim(s, s.policy)
		if !ok {
			break
		}
		s.deleteKey(victim)
		evicted++
	}
	return evicted
}

// approxSize estimates the bytes a key/value pair occupies. It is a rough
// proxy, not an exact accounting -- good enough to drive the maxmemory
// guard without walking every nested collection element on every write.
func approxSize(key string, v Value) int64 {
	return int64(len(key)) + int64(v.Len()) + 48
}

// admit enforces two independent guards before a new key is stored. The
// key-count cap is unconditional: once reached, writes fail with OOM
// regardless of eviction policy. The maxmemory byte budget is not: it
// consults eviction.PickVictim first, freeing room under the configured
// policy before a write fails.
func (s *Storage) admit(want int64) error {
	if s.atCapacity() {
		return resp.ErrTooManyKeys
	}
	for s.maxMemory > 0 && atomic.LoadInt64(&s.memUsed)+want > s.maxMemory {
		victim, ok, err := eviction.PickVictim(s, s.policy)
		if !ok {
			if err != nil {
				return err
			}
			return resp.OOM("no eligible key to evict")
		}
		s.deleteKey(victim)
	}
	return nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

// lookup returns the live value at key, transparently treating an expired
// key as absent (the expiry-read invariant: a stale key is never
// observable even if the background sampler hasn't reaped it yet).
func (s *Storage) lookup(key string) (Value, bool) {
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if deadline, has := s.expires[key]; has && deadline <= nowMs() {
		s.deleteKey(key)
		return nil, false
	}
	s.lastAccess[key] = nowMs()
	return v, true
}

// atCapacity reports whether admitting one more distinct key would
// exceed the configured key budget. maxKeys <= 0 means unlimited.
func (s *Storage) atCapacity() bool {
	return s.maxKeys > 0 && len(s.data) >= s.maxKeys
}

// set stores v at key, clearing any existing TTL. If key is new, admit
// runs first: at the key-count cap the write fails with ErrTooManyKeys,
// and over the maxmemory budget eviction.PickVictim is asked for room
// under the configured policy; if no room can be made, v is not stored
// and the error describes why. Overwriting an existing key always
// succeeds.
func (s *Storage) set(key string, v Value) error {
	old, existed := s.data[key]
	if !existed {
		if err := s.admit(approxSize(key, v)); err != nil {
			return err
		}
	} else {
		atomic.AddInt64(&s.memUsed, -approxSize(key, old))
	}
	s.data[key] = v
	delete(s.expires, key)
	s.bumpVersion(key)
	s.lastAccess[key] = nowMs()
	if !existed {
		atomic.AddInt64(&s.keyCount, 1)
	}
	atomic.AddInt64(&s.memUsed, approxSize(key, v))
	s.changesSinceSave++
	return nil
}

// setKeepTTL stores v at key without clearing an existing TTL, the
// behavior SET ... KEEPTTL and the internal list/hash/set/zset mutators
// need (those commands never touch expiry on their own). Same admission
// rules as set.
func (s *Storage) setKeepTTL(key string, v Value) error {
	old, existed := s.data[key]
	if !existed {
		if err := s.admit(approxSize(key, v)); err != nil {
			return err
		}
	} else {
		atomic.AddInt64(&s.memUsed, -approxSize(key, old))
	}
	s.data[key] = v
	s.bumpVersion(key)
	s.lastAccess[key] = nowMs()
	if !existed {
		atomic.AddInt64(&s.keyCount, 1)
	}
	atomic.AddInt64(&s.memUsed, approxSize(key, v))
	s.changesSinceSave++
	return nil
}

func (s *Storage) deleteKey(key string) bool {
	v, ok := s.data[key]
	if !ok {
		return false
	}
	atomic.AddInt64(&s.memUsed, -approxSize(key, v))
	delete(s.data, key)
	delete(s.expires, key)
	delete(s.lastAccess, key)
	s.bumpVersion(key)
	atomic.AddInt64(&s.keyCount, -1)
	s.changesSinceSave++
	return true
}

// bumpVersion increments key's optimistic-concurrency counter. Versions
// survive deletion (the map entry is never removed) so a WATCH taken
// before a DEL and checked after a recreate still observes a change.
func (s *Storage) bumpVersion(key string) {
	s.versions[key]++
}

func (s *Storage) Version(key string) uint64 { return s.versions[key] }

// KeyCount returns the number of live (unexpired, not-yet-reaped still
// counts) keys. Read by the eviction guard and by INFO-less introspection
// commands like DBSIZE.
func (s *Storage) KeyCount() int { return len(s.data) }

// AtomicKeyCount is safe to call from goroutines other than the
// dispatcher (the memory monitor background loop), which may sample
// without round-tripping through the job queue.
func (s *Storage) AtomicKeyCount() int64 { return atomic.LoadInt64(&s.keyCount) }

// SampleKeys implements eviction.Source: it returns up to n keys picked
// from Go's randomized map iteration order, which is an adequate source
// of randomness for reservoir sampling without maintaining a separate
// shuffled key index.
func (s *Storage) SampleKeys(n int, volatileOnly bool) []eviction.Candidate {
	out := make([]eviction.Candidate, 0, n)
	for k := range s.data {
		if len(out) >= n {
			break
		}
		_, hasTTL := s.expires[k]
		if volatileOnly && !hasTTL {
			continue
		}
		out = append(out, eviction.Candidate{Key: k, LastAccess: s.lastAccess[k], HasTTL: hasTTL})
	}
	return out
}

// Exists reports whether key holds a live value.
func (s *Storage) Exists(key string) bool {
	_, ok := s.lookup(key)
	return ok
}

// TypeOf returns the value kind at key, or TypeNone if absent/expired.
func (s *Storage) TypeOf(key string) Type {
	v, ok := s.lookup(key)
	if !ok {
		return TypeNone
	}
	return v.Type()
}

// Del removes zero or more keys, returning the count actually removed.
func (s *Storage) Del(keys ...string) int {
	n := 0
	for _, k := range keys {
		if _, ok := s.lookup(k); !ok {
			continue
		}
		if s.deleteKey(k) {
			n++
		}
	}
	return n
}

// Rename implements RENAME; returns ErrNoSuchKey if src is absent.
func (s *Storage) Rename(src, dst string) error {
	v, ok := s.lookup(src)
	if !ok {
		return resp.ErrNoSuchKey
	}
	var ttl int64
	hasTTL := false
	if d, has := s.expires[src]; has {
		ttl, hasTTL = d, true
	}
	s.deleteKey(src)
	_, dstExisted := s.data[dst]
	if dstExisted {
		s.deleteKey(dst)
	}
	s.data[dst] = v
	atomic.AddInt64(&s.memUsed, approxSize(dst, v))
	s.bumpVersion(dst)
	s.lastAccess[dst] = nowMs()
	atomic.AddInt64(&s.keyCount, 1)
	if hasTTL {
		s.expires[dst] = ttl
	} else {
		delete(s.expires, dst)
	}
	s.changesSinceSave++
	return nil
}

// RenameNX implements RENAMENX: no-op (returns false) if dst already exists.
func (s *Storage) RenameNX(src, dst string) (bool, error) {
	if _, ok := s.lookup(dst); ok {
		return false, nil
	}
	if err := s.Rename(src, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Keys returns every live key matching a glob pattern.
func (s *Storage) Keys(pattern string) []string {
	now := nowMs()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		if d, has := s.expires[k]; has && d <= now {
			continue
		}
		if globMatch(pattern, k) {
			out = append(out, k)
		}
	}
	return out
}

// Flush drops every key.
func (s *Storage) Flush() {
	s.data = make(map[string]Value)
	s.expires = make(map[string]int64)
	s.lastAccess = make(map[string]int64)
	atomic.StoreInt64(&s.keyCount, 0)
	atomic.StoreInt64(&s.memUsed, 0)
	s.changesSinceSave++
	// Versions are intentionally NOT reset: an in-flight WATCH on a key
	// flushed out from under it must still see a version change.
	for k := range s.versions {
		s.versions[k]++
	}
}

// ChangesSinceSave and ResetChangesSinceSave back the auto-save scheduler's
// "min_changes" gate.
func (s *Storage) ChangesSinceSave() uint64 { return s.changesSinceSave }
func (s *Storage) ResetChangesSinceSave()   { s.changesSinceSave = 0 }

// globMatch implements Redis-style glob matching (*, ?, [abc], [^abc],
// [a-z], \-escapes) with an explicit two-pointer backtracking scan
// instead of compiling to regexp.
func globMatch(pattern, s string) bool {
	return globMatchBytes([]byte(pattern), []byte(s))
}

func globMatchBytes(pattern, s []byte) bool {
	var pi, si int
	var starPi, starSi int = -1, -1
	for si < len(s) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			starPi, starSi = pi, si
			pi++
		case pi < len(pattern) && pattern[pi] == '?':
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '[':
			end, ok := matchClass(pattern, pi, s[si])
			if !ok {
				if starPi < 0 {
					return false
				}
				starSi++
				si = starSi
				pi = starPi + 1
				continue
			}
			pi = end
			si++
		case pi < len(pattern) && pattern[pi] == '\\' && pi+1 < len(pattern):
			if pattern[pi+1] != s[si] {
				if starPi < 0 {
					return false
				}
				starSi++
				si = starSi
				pi = starPi + 1
				continue
			}
			pi += 2
			si++
		case pi < len(pattern) && pattern[pi] == s[si]:
			pi++
			si++
		default:
			if starPi < 0 {
				return false
			}
			starSi++
			si = starSi
			pi = starPi + 1
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// matchClass handles a "[...]" character class starting at pattern[pi]=='['.
// Returns the index right after the closing ']' and whether c matched.
func matchClass(pattern []byte, pi int, c byte) (int, bool) {
	j := pi + 1
	negate := false
	if j < len(pattern) && pattern[j] == '^' {
		negate = true
		j++
	}
	matched := false
	first := true
	for j < len(pattern) && (pattern[j] != ']' || first) {
		first = false
		if pattern[j] == '\\' && j+1 < len(pattern) {
			if pattern[j+1] == c {
				matched = true
			}
			j += 2
			continue
		}
		if j+2 < len(pattern) && pattern[j+1] == '-' && pattern[j+2] != ']' {
			lo, hi := pattern[j], pattern[j+2]
			if lo <= c && c <= hi {
				matched = true
			}
			j += 3
			continue
		}
		if pattern[j] == c {
			matched = true
		}
		j++
	}
	if j < len(pattern) {
		j++ // consume ']'
	}
	if negate {
		matched = !matched
	}
	return j, matched
}
