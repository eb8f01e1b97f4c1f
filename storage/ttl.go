// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

// Expire sets key's TTL to ttlMs milliseconds from now. Returns false if
// key does not exist. A deadline that has already passed deletes the key
// immediately rather than leaving it for lazy or active expiry to catch.
func (s *Storage) Expire(key string, ttlMs int64) bool {
	if _, ok := s.lookup(key); !ok {
		return false
	}
	return s.ExpireAt(key, nowMs()+ttlMs)
}

// ExpireAt sets key's TTL to an absolute unix-ms deadline. Returns false
// if key does not exist. A deadline that has already passed deletes the
// key immediately rather than leaving it for lazy or active expiry to
// catch.
func (s *Storage) ExpireAt(key string, deadlineMs int64) bool {
	if _, ok := s.lookup(key); !ok {
		return false
	}
	if deadlineMs <= nowMs() {
		s.deleteKey(key)
		return true
	}
	s.expires[key] = deadlineMs
	s.changesSinceSave++
	return true
}

// Persist removes key's TTL, making it never expire. Returns false if key
// was absent or already had no TTL.
func (s *Storage) Persist(key string) bool {
	if _, ok := s.lookup(key); !ok {
		return false
	}
	if _, has := s.expires[key]; !has {
		return false
	}
	delete(s.expires, key)
	s.changesSinceSave++
	return true
}

// TTL returns the remaining time-to-live in milliseconds, -1 if key exists
// but has no TTL, or -2 if key does not exist.
func (s *Storage) TTL(key string) int64 {
	if _, ok := s.lookup(key); !ok {
		return -2
	}
	d, has := s.expires[key]
	if !has {
		return -1
	}
	remaining := d - nowMs()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ExpireAtMs returns key's absolute deadline and whether one is set, used
// by the expiry heap to (re)seed itself and by snapshot encoding.
func (s *Storage) ExpireAtMs(key string) (int64, bool) {
	d, has := s.expires[key]
	return d, has
}

// ExpireDeadlines exposes a snapshot of every key with a TTL, for seeding
// the expiry min-heap at startup and after loading a snapshot.
func (s *Storage) ExpireDeadlines() map[string]int64 {
	out := make(map[string]int64, len(s.expires))
	for k, v := range s.expires {
		out[k] = v
	}
	return out
}

// ExpireIfDue deletes key if it has a TTL that has passed. Returns
// whether it was deleted. Called by the active-expiry sampler.
func (s *Storage) ExpireIfDue(key string) bool {
	d, has := s.expires[key]
	if !has {
		return false
	}
	if d > nowMs() {
		return false
	}
	return s.deleteKey(key)
}

// HasKey reports raw presence including already-expired-but-not-reaped
// keys, for the expiry sampler's bookkeeping (it must not re-lookup
// through the lazy-expiry path, which would itself delete the key before
// the sampler gets to count it toward the round's expired ratio).
func (s *Storage) HasKey(key string) bool {
	_, ok := s.data[key]
	return ok
}
