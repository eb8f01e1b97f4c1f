// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router implements the command dispatch table: metadata-only
// records (name, arity, flags, key-position hints) that the server
// package's handler map is validated and introspected against before a
// command ever touches storage.
package router

// Flags classifies a command the way real Redis's command table does,
// trimmed to what this server's middleware and MULTI/EXEC engine need to
// decide, ahead of calling a handler.
type Flags uint16

const (
	FlagWrite Flags = 1 << iota
	FlagReadonly
	FlagAdmin
	FlagPubsub
	// FlagNoMulti marks the transaction-control and subscription
	// commands (MULTI, EXEC, DISCARD, WATCH, UNWATCH, (P)SUBSCRIBE,
	// (P)UNSUBSCRIBE). The connection handler does not consult it: what
	// runs at once inside MULTI is decided by command name there, and
	// the subscription commands are queued like any other.
	FlagNoMulti
	FlagFast
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// CommandInfo is one row of the dispatch table.
//
// Arity mirrors the real Redis convention: a positive value is the exact
// argument count including the command name itself; a negative value is
// a minimum (abs(Arity) or more arguments required).
//
// FirstKey/LastKey/Step describe which argument positions are key names,
// 1-indexed against args (not including the command name), with LastKey
// of -1 meaning "to the end of args" and Step 0 meaning "no keys".
type CommandInfo struct {
	Name     string
	Arity    int
	Flags    Flags
	FirstKey int
	LastKey  int
	Step     int
	Category string
}

// CheckArity reports whether argc (argument count, command name
// included) satisfies info's declared arity.
func (info *CommandInfo) CheckArity(argc int) bool {
	if info.Arity >= 0 {
		return argc == info.Arity
	}
	return argc >= -info.Arity
}

// ExtractKeys returns the key-position arguments out of args (which does
// NOT include the command name), per FirstKey/LastKey/Step.
func (info *CommandInfo) ExtractKeys(args [][]byte) []string {
	if info.Step == 0 || info.FirstKey <= 0 {
		return nil
	}
	first := info.FirstKey - 1
	last := info.LastKey - 1
	if info.LastKey < 0 {
		last = len(args) - 1
	}
	if first < 0 || first >= len(args) {
		return nil
	}
	if last >= len(args) {
		last = len(args) - 1
	}
	var out []string
	for i := first; i <= last; i += info.Step {
		out = append(out, string(args[i]))
	}
	return out
}

// Table is the full set of registered commands, keyed by upper-cased name.
type Table struct {
	commands map[string]*CommandInfo
}

func NewTable() *Table {
	return &Table{commands: make(map[string]*CommandInfo)}
}

func (t *Table) Register(info CommandInfo) {
	c := info
	t.commands[c.Name] = &c
}

func (t *Table) Lookup(name string) (*CommandInfo, bool) {
	c, ok := t.commands[name]
	return c, ok
}

func (t *Table) Names() []string {
	out := make([]string, 0, len(t.commands))
	for n := range t.commands {
		out = append(out, n)
	}
	return out
}
