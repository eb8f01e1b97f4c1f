// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package eviction

import (
	"testing"

	"github.com/ClusterCockpit/microredis-go/config"
)

type fakeSource struct {
	all      []Candidate
	volatile []Candidate
}

func (f *fakeSource) SampleKeys(n int, volatileOnly bool) []Candidate {
	pool := f.all
	if volatileOnly {
		pool = f.volatile
	}
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

func TestNoEvictionAlwaysOOMs(t *testing.T) {
	src := &fakeSource{all: []Candidate{{Key: "a"}}}
	_, ok, err := PickVictim(src, config.EvictionNoEviction)
	if ok || err == nil {
		t.Fatal("noeviction must never pick a victim")
	}
}

func TestAllKeysLRUPicksOldest(t *testing.T) {
	src := &fakeSource{all: []Candidate{
		{Key: "new", LastAccess: 100},
		{Key: "old", LastAccess: 10},
		{Key: "mid", LastAccess: 50},
	}}
	key, ok, err := PickVictim(src, config.EvictionAllKeysLRU)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if key != "old" {
		t.Errorf("picked %q, want the oldest key", key)
	}
}

func TestVolatileRandomRequiresVolatileCandidates(t *testing.T) {
	src := &fakeSource{all: []Candidate{{Key: "a"}}, volatile: nil}
	_, ok, err := PickVictim(src, config.EvictionVolatileRandom)
	if ok || err == nil {
		t.Fatal("volatile-random with no volatile keys must OOM")
	}
}

func TestAllKeysRandomPicksAmongCandidates(t *testing.T) {
	src := &fakeSource{all: []Candidate{{Key: "a"}, {Key: "b"}}}
	key, ok, err := PickVictim(src, config.EvictionAllKeysRandom)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if key != "a" && key != "b" {
		t.Errorf("picked %q, want one of the candidates", key)
	}
}
