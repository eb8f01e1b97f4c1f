// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package txn implements the per-connection WATCH/MULTI/EXEC/DISCARD
// state machine. Because every command already runs on the single
// dispatcher goroutine (server/dispatch.go), EXEC gets atomicity for
// free: nothing can observe or mutate storage between a queued
// command's arrival and the moment EXEC replays it.
package txn

import "github.com/ClusterCockpit/microredis-go/resp"

// QueuedCommand is one command captured between MULTI and EXEC.
type QueuedCommand struct {
	Name string
	Args [][]byte
}

// VersionSource lets State check watched keys against storage without
// importing the storage package.
type VersionSource interface {
	Version(key string) uint64
}

// State is one connection's transaction state.
type State struct {
	InMulti bool
	Dirty   bool // a bad command was queued; EXEC must abort with EXECABORT
	Queue   []QueuedCommand
	Watches map[string]uint64
}

func NewState() *State { return &State{} }

// Multi begins a transaction. Nested MULTI is an error.
func (s *State) Multi() error {
	if s.InMulti {
		return resp.ErrNestedMulti
	}
	s.InMulti = true
	s.Dirty = false
	s.Queue = nil
	return nil
}

// Watch records key's current version. WATCH while already in MULTI is
// rejected: watches must be established before queuing begins.
func (s *State) Watch(vs VersionSource, key string) error {
	if s.InMulti {
		return resp.ErrWatchInsideMulti
	}
	if s.Watches == nil {
		s.Watches = make(map[string]uint64)
	}
	s.Watches[key] = vs.Version(key)
	return nil
}

// Unwatch clears every watched key, used by UNWATCH, a successful EXEC,
// and a DISCARD.
func (s *State) Unwatch() {
	s.Watches = nil
}

// Enqueue appends a command to the pending transaction. It does no
// validation: a malformed command (unknown command/wrong arity) is never
// enqueued, the caller marks the state with MarkDirty instead so EXEC
// will abort.
func (s *State) Enqueue(name string, args [][]byte) {
	s.Queue = append(s.Queue, QueuedCommand{Name: name, Args: args})
}

func (s *State) MarkDirty() { s.Dirty = true }

// Discard aborts a pending transaction without running it.
func (s *State) Discard() error {
	if !s.InMulti {
		return resp.ErrDiscardNoMulti
	}
	s.InMulti = false
	s.Dirty = false
	s.Queue = nil
	s.Unwatch()
	return nil
}

// WatchesStillValid reports whether every watched key's version matches
// what it was at WATCH time. Must be called and acted on atomically with
// the EXEC it gates -- true on the dispatcher goroutine by construction.
func (s *State) WatchesStillValid(vs VersionSource) bool {
	for k, v := range s.Watches {
		if vs.Version(k) != v {
			return false
		}
	}
	return true
}

// BeginExec validates transaction preconditions and returns the queued
// commands to replay, clearing the transaction state regardless of
// outcome (a successful or aborted EXEC both end the transaction).
func (s *State) BeginExec(vs VersionSource) ([]QueuedCommand, error) {
	if !s.InMulti {
		return nil, resp.ErrNotInMulti
	}
	dirty := s.Dirty
	queue := s.Queue
	watchesOK := s.WatchesStillValid(vs)

	s.InMulti = false
	s.Dirty = false
	s.Queue = nil
	s.Unwatch()

	if !watchesOK {
		return nil, nil // nil, nil signals "EXEC returns a null array"
	}
	if dirty {
		return nil, resp.ErrExecAbort
	}
	return queue, nil
}
