// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"math/rand"

	"github.com/ClusterCockpit/microredis-go/resp"
)

// setIntsetMaxEntries is the member count at which an intset promotes to
// a hashset. Mirrors the threshold the original datatypes/set.py uses.
const setIntsetMaxEntries = 512

// SetValue backs SADD/SREM/SINTER etc. A fresh set starts as an
// "intset": a sorted int64 vector searched by binary search, the same
// representation real Redis (and the original datatypes/set.py) keeps
// while every member is a canonical integer. The first non-integer
// member, or growing past setIntsetMaxEntries members, promotes it to a
// hashset (a plain map) for good.
type SetValue struct {
	ints []int64         // sorted ascending; nil once promoted
	hash map[string]struct{} // nil while an intset
}

func NewSet() *SetValue { return &SetValue{} }

func (v *SetValue) Type() Type { return TypeSet }

func (v *SetValue) Len() int {
	if v.hash != nil {
		return len(v.hash)
	}
	return len(v.ints)
}

func (v *SetValue) Clone() Value {
	out := &SetValue{}
	if v.hash != nil {
		out.hash = make(map[string]struct{}, len(v.hash))
		for m := range v.hash {
			out.hash[m] = struct{}{}
		}
		return out
	}
	out.ints = make([]int64, len(v.ints))
	copy(out.ints, v.ints)
	return out
}

// search returns the position n belongs at in the sorted ints vector
// (its index if present, or the insertion point otherwise) and whether
// it is present. This is the intset's bisect_left.
func (v *SetValue) search(n int64) (int, bool) {
	lo, hi := 0, len(v.ints)
	for lo < hi {
		mid := (lo + hi) / 2
		if v.ints[mid] < n {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(v.ints) && v.ints[lo] == n
}

// asCanonicalInt reports n and true if m is exactly how n prints, e.g.
// rejecting "+5", "007", and " 5" the way real Redis's intset does --
// those go to the hashset even though they parse as integers.
func asCanonicalInt(m string) (int64, bool) {
	n, err := parseInt64([]byte(m))
	if err != nil || formatInt64(n) != m {
		return 0, false
	}
	return n, true
}

func (v *SetValue) contains(m string) bool {
	if v.hash != nil {
		_, ok := v.hash[m]
		return ok
	}
	n, ok := asCanonicalInt(m)
	if !ok {
		return false
	}
	_, found := v.search(n)
	return found
}

// add inserts m, reporting whether it was newly added, and promotes to
// a hashset on the first non-integer member or once past the intset cap.
func (v *SetValue) add(m string) bool {
	if v.hash == nil {
		if n, ok := asCanonicalInt(m); ok {
			idx, found := v.search(n)
			if found {
				return false
			}
			v.ints = append(v.ints, 0)
			copy(v.ints[idx+1:], v.ints[idx:])
			v.ints[idx] = n
			if len(v.ints) > setIntsetMaxEntries {
				v.promote()
			}
			return true
		}
		v.promote()
	}
	if _, ok := v.hash[m]; ok {
		return false
	}
	v.hash[m] = struct{}{}
	return true
}

func (v *SetValue) promote() {
	hash := make(map[string]struct{}, len(v.ints)+1)
	for _, n := range v.ints {
		hash[formatInt64(n)] = struct{}{}
	}
	v.hash = hash
	v.ints = nil
}

func (v *SetValue) remove(m string) bool {
	if v.hash != nil {
		if _, ok := v.hash[m]; ok {
			delete(v.hash, m)
			return true
		}
		return false
	}
	n, ok := asCanonicalInt(m)
	if !ok {
		return false
	}
	idx, found := v.search(n)
	if !found {
		return false
	}
	v.ints = append(v.ints[:idx], v.ints[idx+1:]...)
	return true
}

// each visits every member. Intset order is ascending numeric; hashset
// order is Go's randomized map order.
func (v *SetValue) each(fn func(member string)) {
	if v.hash != nil {
		for m := range v.hash {
			fn(m)
		}
		return
	}
	for _, n := range v.ints {
		fn(formatInt64(n))
	}
}

func (v *SetValue) members() []string {
	out := make([]string, 0, v.Len())
	v.each(func(m string) { out = append(out, m) })
	return out
}

func (s *Storage) getSet(key string, create bool) (*SetValue, error) {
	v, ok := s.lookup(key)
	if !ok {
		if !create {
			return nil, nil
		}
		sv := NewSet()
		if err := s.setKeepTTL(key, sv); err != nil {
			return nil, err
		}
		return sv, nil
	}
	sv, ok := v.(*SetValue)
	if !ok {
		return nil, resp.ErrWrongType
	}
	return sv, nil
}

func (s *Storage) SAdd(key string, members ...string) (int, error) {
	set, err := s.getSet(key, true)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, m := range members {
		if set.add(m) {
			added++
		}
	}
	if added > 0 {
		s.bumpVersion(key)
		s.changesSinceSave++
	}
	return added, nil
}

func (s *Storage) SRem(key string, members ...string) (int, error) {
	set, err := s.getSet(key, false)
	if err != nil || set == nil {
		return 0, err
	}
	removed := 0
	for _, m := range members {
		if set.remove(m) {
			removed++
		}
	}
	if removed > 0 {
		s.bumpVersion(key)
		s.changesSinceSave++
		if set.Len() == 0 {
			s.deleteKey(key)
		}
	}
	return removed, nil
}

func (s *Storage) SIsMember(key, member string) (bool, error) {
	set, err := s.getSet(key, false)
	if err != nil || set == nil {
		return false, err
	}
	return set.contains(member), nil
}

func (s *Storage) SMembers(key string) ([]string, error) {
	set, err := s.getSet(key, false)
	if err != nil || set == nil {
		return nil, err
	}
	return set.members(), nil
}

func (s *Storage) SCard(key string) (int, error) {
	set, err := s.getSet(key, false)
	if err != nil || set == nil {
		return 0, err
	}
	return set.Len(), nil
}

// SPop removes and returns up to count random members. A negative count is
// not valid for SPOP (unlike SRANDMEMBER) and is the caller's job to reject.
func (s *Storage) SPop(key string, count int) ([]string, error) {
	set, err := s.getSet(key, false)
	if err != nil || set == nil {
		return nil, err
	}
	all := set.members()
	if count > len(all) {
		count = len(all)
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	out := all[:count]
	for _, m := range out {
		set.remove(m)
	}
	if count > 0 {
		s.bumpVersion(key)
		s.changesSinceSave++
		if set.Len() == 0 {
			s.deleteKey(key)
		}
	}
	return out, nil
}

// SRandMember returns distinct members (capped at set size) for a
// non-negative count, or `count` members with replacement for a negative
// one. Callers with no count at all pass 1 and unwrap the single result.
func (s *Storage) SRandMember(key string, count int) ([]string, error) {
	set, err := s.getSet(key, false)
	if err != nil || set == nil {
		return nil, nil
	}
	all := set.members()
	if len(all) == 0 {
		return nil, nil
	}
	if count < 0 {
		n := -count
		out := make([]string, n)
		for i := 0; i < n; i++ {
			out[i] = all[rand.Intn(len(all))]
		}
		return out, nil
	}
	if count > len(all) {
		count = len(all)
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:count], nil
}

// SMove atomically moves member from src to dst. Reports whether member
// was actually present in src.
func (s *Storage) SMove(src, dst, member string) (bool, error) {
	srcSet, err := s.getSet(src, false)
	if err != nil || srcSet == nil {
		return false, err
	}
	if !srcSet.contains(member) {
		return false, nil
	}
	dstSet, err := s.getSet(dst, true)
	if err != nil {
		return false, err
	}
	srcSet.remove(member)
	dstSet.add(member)
	s.bumpVersion(src)
	s.bumpVersion(dst)
	s.changesSinceSave++
	if srcSet.Len() == 0 {
		s.deleteKey(src)
	}
	return true, nil
}

// storeSet overwrites dest with members (deleting it first); an empty
// result leaves dest absent rather than creating an empty set.
func (s *Storage) storeSet(dest string, members []string) (int, error) {
	s.Del(dest)
	if len(members) == 0 {
		return 0, nil
	}
	set := NewSet()
	for _, m := range members {
		set.add(m)
	}
	if err := s.setKeepTTL(dest, set); err != nil {
		return 0, err
	}
	return len(members), nil
}

func (s *Storage) SInterStore(dest string, keys ...string) (int, error) {
	members, err := s.SInter(keys...)
	if err != nil {
		return 0, err
	}
	return s.storeSet(dest, members)
}

func (s *Storage) SUnionStore(dest string, keys ...string) (int, error) {
	members, err := s.SUnion(keys...)
	if err != nil {
		return 0, err
	}
	return s.storeSet(dest, members)
}

func (s *Storage) SDiffStore(dest string, keys ...string) (int, error) {
	members, err := s.SDiff(keys...)
	if err != nil {
		return 0, err
	}
	return s.storeSet(dest, members)
}

func (s *Storage) setsFor(keys []string) ([]*SetValue, error) {
	out := make([]*SetValue, 0, len(keys))
	for _, k := range keys {
		set, err := s.getSet(k, false)
		if err != nil {
			return nil, err
		}
		if set == nil {
			set = NewSet()
		}
		out = append(out, set)
	}
	return out, nil
}

func (s *Storage) SInter(keys ...string) ([]string, error) {
	sets, err := s.setsFor(keys)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return []string{}, nil
	}
	out := make([]string, 0)
	sets[0].each(func(m string) {
		inAll := true
		for _, other := range sets[1:] {
			if !other.contains(m) {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, m)
		}
	})
	return out, nil
}

func (s *Storage) SUnion(keys ...string) ([]string, error) {
	sets, err := s.setsFor(keys)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, set := range sets {
		set.each(func(m string) { seen[m] = struct{}{} })
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	return out, nil
}

func (s *Storage) SDiff(keys ...string) ([]string, error) {
	sets, err := s.setsFor(keys)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return []string{}, nil
	}
	out := make([]string, 0)
	sets[0].each(func(m string) {
		inOther := false
		for _, other := range sets[1:] {
			if other.contains(m) {
				inOther = true
				break
			}
		}
		if !inOther {
			out = append(out, m)
		}
	})
	return out, nil
}
