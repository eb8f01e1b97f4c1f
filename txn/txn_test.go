// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package txn

import "testing"

type fakeVersions map[string]uint64

func (f fakeVersions) Version(key string) uint64 { return f[key] }

func TestMultiNestedRejected(t *testing.T) {
	s := NewState()
	if err := s.Multi(); err != nil {
		t.Fatalf("first MULTI should succeed: %v", err)
	}
	if err := s.Multi(); err == nil {
		t.Error("nested MULTI should be rejected")
	}
}

func TestExecReplaysQueueInOrder(t *testing.T) {
	s := NewState()
	vs := fakeVersions{}
	s.Multi()
	s.Enqueue("SET", [][]byte{[]byte("k"), []byte("v")})
	s.Enqueue("GET", [][]byte{[]byte("k")})

	queue, err := s.BeginExec(vs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue) != 2 || queue[0].Name != "SET" || queue[1].Name != "GET" {
		t.Fatalf("unexpected queue: %+v", queue)
	}
	if s.InMulti {
		t.Error("EXEC should clear InMulti")
	}
}

func TestDirtyTransactionAborts(t *testing.T) {
	s := NewState()
	vs := fakeVersions{}
	s.Multi()
	s.MarkDirty()

	_, err := s.BeginExec(vs)
	if err == nil {
		t.Fatal("expected EXECABORT error for a dirty transaction")
	}
}

func TestWatchInvalidatesExec(t *testing.T) {
	s := NewState()
	vs := fakeVersions{"k": 1}
	if err := s.Watch(vs, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Multi()
	s.Enqueue("GET", [][]byte{[]byte("k")})

	vs["k"] = 2 // simulate another client's write bumping the version

	queue, err := s.BeginExec(vs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queue != nil {
		t.Error("EXEC with a stale watch should return a nil queue (null array)")
	}
}

func TestWatchMismatchTakesPrecedenceOverDirty(t *testing.T) {
	s := NewState()
	vs := fakeVersions{"k": 1}
	if err := s.Watch(vs, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Multi()
	s.MarkDirty()

	vs["k"] = 2 // another client's write invalidates the watch too

	queue, err := s.BeginExec(vs)
	if err != nil {
		t.Fatalf("a stale watch must return a null array, not EXECABORT: %v", err)
	}
	if queue != nil {
		t.Error("EXEC with a stale watch should return a nil queue (null array)")
	}
}

func TestWatchInsideMultiRejected(t *testing.T) {
	s := NewState()
	vs := fakeVersions{}
	s.Multi()
	if err := s.Watch(vs, "k"); err == nil {
		t.Error("WATCH inside MULTI should be rejected")
	}
}

func TestUnwatchClearsWatches(t *testing.T) {
	s := NewState()
	vs := fakeVersions{"k": 1}
	s.Watch(vs, "k")
	s.Unwatch()
	if len(s.Watches) != 0 {
		t.Error("Unwatch should clear all watched keys")
	}
}
