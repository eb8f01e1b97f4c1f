// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package router

import "testing"

func TestCheckArityExact(t *testing.T) {
	info := CommandInfo{Name: "GET", Arity: 2}
	if !info.CheckArity(2) {
		t.Error("exact arity of 2 should accept argc=2")
	}
	if info.CheckArity(3) {
		t.Error("exact arity of 2 should reject argc=3")
	}
}

func TestCheckArityMinimum(t *testing.T) {
	info := CommandInfo{Name: "SET", Arity: -3}
	if info.CheckArity(2) {
		t.Error("minimum arity of 3 should reject argc=2")
	}
	if !info.CheckArity(5) {
		t.Error("minimum arity of 3 should accept argc=5")
	}
}

func TestExtractKeysSingle(t *testing.T) {
	info := CommandInfo{Name: "GET", FirstKey: 1, LastKey: 1, Step: 1}
	keys := info.ExtractKeys([][]byte{[]byte("k")})
	if len(keys) != 1 || keys[0] != "k" {
		t.Errorf("keys = %v, want [k]", keys)
	}
}

func TestExtractKeysToEnd(t *testing.T) {
	info := CommandInfo{Name: "DEL", FirstKey: 1, LastKey: -1, Step: 1}
	keys := info.ExtractKeys([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if len(keys) != 3 {
		t.Errorf("keys = %v, want 3 keys", keys)
	}
}

func TestTableLookup(t *testing.T) {
	tbl := NewTable()
	tbl.Register(CommandInfo{Name: "PING", Arity: -1})
	if _, ok := tbl.Lookup("PING"); !ok {
		t.Fatal("expected PING to be registered")
	}
	if _, ok := tbl.Lookup("NOPE"); ok {
		t.Error("unregistered command should not be found")
	}
}
