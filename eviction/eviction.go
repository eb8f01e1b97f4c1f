// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eviction implements the maxmemory-policy guard: when a write
// would take the keyspace over its configured maxmemory byte budget, pick
// a victim key to evict before admitting it. The separate key-count cap
// never evicts; storage rejects new keys at that cap outright.
package eviction

import (
	"math/rand"

	"github.com/ClusterCockpit/microredis-go/config"
	"github.com/ClusterCockpit/microredis-go/resp"
)

// Candidate is one key considered for eviction.
type Candidate struct {
	Key        string
	LastAccess int64
	HasTTL     bool
}

// Source supplies eviction candidates without exposing the whole keyspace.
type Source interface {
	// SampleKeys returns up to n candidate keys (volatileOnly restricts
	// the sample to keys with a TTL set, matching the volatile-* policies).
	SampleKeys(n int, volatileOnly bool) []Candidate
}

const sampleSize = 5

// PickVictim selects a key to evict under policy, or ("", false, err) if
// the policy forbids eviction (noeviction) or no eligible key exists.
//
// allkeys-random / volatile-random pick uniformly via reservoir sampling
// over the candidate stream, matching Redis's own approximated-LRU
// approach of sampling rather than maintaining a true global ordering.
func PickVictim(src Source, policy config.EvictionPolicy) (string, bool, error) {
	switch policy {
	case config.EvictionNoEviction, "":
		return "", false, resp.OOM("eviction policy is 'noeviction'")
	case config.EvictionAllKeysRandom:
		key := reservoirPick(src, false)
		if key == "" {
			return "", false, resp.OOM("no keys to evict")
		}
		return key, true, nil
	case config.EvictionVolatileRandom:
		key := reservoirPick(src, true)
		if key == "" {
			return "", false, resp.OOM("no volatile keys to evict under 'volatile-random'")
		}
		return key, true, nil
	case config.EvictionAllKeysLRU:
		return lruPick(src, false)
	case config.EvictionVolatileLRU:
		return lruPick(src, true)
	default:
		return "", false, resp.OOM("unknown eviction policy")
	}
}

func reservoirPick(src Source, volatileOnly bool) string {
	candidates := src.SampleKeys(sampleSize, volatileOnly)
	if len(candidates) == 0 {
		return ""
	}
	chosen := candidates[0].Key
	for i := 1; i < len(candidates); i++ {
		if rand.Intn(i+1) == 0 {
			chosen = candidates[i].Key
		}
	}
	return chosen
}

func lruPick(src Source, volatileOnly bool) (string, bool, error) {
	candidates := src.SampleKeys(sampleSize, volatileOnly)
	if len(candidates) == 0 {
		if volatileOnly {
			return "", false, resp.OOM("no volatile keys to evict under 'volatile-lru'")
		}
		return "", false, resp.OOM("no keys to evict")
	}
	oldest := candidates[0]
	for _, c := range candidates[1:] {
		if c.LastAccess < oldest.LastAccess {
			oldest = c
		}
	}
	return oldest.Key, true, nil
}
