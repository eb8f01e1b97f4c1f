// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package expiry

import "testing"

type fakeChecker struct {
	deadlines map[string]int64
	deleted   map[string]bool
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{deadlines: map[string]int64{}, deleted: map[string]bool{}}
}

func (f *fakeChecker) HasKey(key string) bool {
	if f.deleted[key] {
		return false
	}
	_, ok := f.deadlines[key]
	return ok
}

func (f *fakeChecker) ExpireAtMs(key string) (int64, bool) {
	d, ok := f.deadlines[key]
	return d, ok
}

func (f *fakeChecker) ExpireIfDue(key string) bool {
	d, ok := f.deadlines[key]
	if !ok || f.deleted[key] {
		return false
	}
	if d > 500 {
		return false
	}
	f.deleted[key] = true
	return true
}

func TestNextDeadlineReturnsSoonest(t *testing.T) {
	e := New()
	e.Track("a", 300)
	e.Track("b", 100)
	e.Track("c", 200)

	sc := newFakeChecker()
	sc.deadlines["a"] = 300
	sc.deadlines["b"] = 100
	sc.deadlines["c"] = 200

	d, ok := e.NextDeadline(sc)
	if !ok || d != 100 {
		t.Fatalf("d=%d ok=%v, want 100/true", d, ok)
	}
}

func TestNextDeadlineSkipsStaleEntries(t *testing.T) {
	e := New()
	e.Track("gone", 50)
	e.Track("live", 150)

	sc := newFakeChecker()
	sc.deadlines["live"] = 150
	// "gone" was never registered with the checker, simulating a key
	// deleted after being tracked.

	d, ok := e.NextDeadline(sc)
	if !ok || d != 150 {
		t.Fatalf("d=%d ok=%v, want 150/true", d, ok)
	}
}

func TestSampleOnceReapsDueKeys(t *testing.T) {
	e := New()
	sc := newFakeChecker()
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		deadline := int64(100) // all due
		sc.deadlines[key] = deadline
		e.Track(key, deadline)
	}
	n := e.sampleOnce(sc)
	if n == 0 {
		t.Fatal("expected at least one key to be reaped from an all-due sample")
	}
}

func TestSeedLoadsDeadlines(t *testing.T) {
	e := New()
	e.Seed(map[string]int64{"a": 10, "b": 20})
	sc := newFakeChecker()
	sc.deadlines["a"] = 10
	sc.deadlines["b"] = 20

	d, ok := e.NextDeadline(sc)
	if !ok || d != 10 {
		t.Fatalf("d=%d ok=%v, want 10/true", d, ok)
	}
}
