// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import "github.com/ClusterCockpit/microredis-go/resp"

// ListValue backs LPUSH/RPUSH/LRANGE etc. Real Redis keeps a quicklist of
// listpacks for cheap head/tail operations; a plain Go slice is adequate
// here since this server targets single-node, in-memory workloads rather
// than the multi-GB lists Redis optimizes for.
type ListValue struct {
	Items [][]byte
}

func NewList() *ListValue { return &ListValue{} }

func (l *ListValue) Type() Type { return TypeList }
func (l *ListValue) Len() int   { return len(l.Items) }
func (l *ListValue) Clone() Value {
	out := make([][]byte, len(l.Items))
	for i, v := range l.Items {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[i] = cp
	}
	return &ListValue{Items: out}
}

func (s *Storage) getList(key string, create bool) (*ListValue, error) {
	v, ok := s.lookup(key)
	if !ok {
		if !create {
			return nil, nil
		}
		l := NewList()
		if err := s.setKeepTTL(key, l); err != nil {
			return nil, err
		}
		return l, nil
	}
	l, ok := v.(*ListValue)
	if !ok {
		return nil, resp.ErrWrongType
	}
	return l, nil
}

func (s *Storage) LPush(key string, values ...[]byte) (int, error) {
	l, err := s.getList(key, true)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		l.Items = append([][]byte{v}, l.Items...)
	}
	s.bumpVersion(key)
	s.changesSinceSave++
	return len(l.Items), nil
}

func (s *Storage) RPush(key string, values ...[]byte) (int, error) {
	l, err := s.getList(key, true)
	if err != nil {
		return 0, err
	}
	l.Items = append(l.Items, values...)
	s.bumpVersion(key)
	s.changesSinceSave++
	return len(l.Items), nil
}

func (s *Storage) LPop(key string, count int) ([][]byte, error) {
	l, err := s.getList(key, false)
	if err != nil || l == nil {
		return nil, err
	}
	if count > len(l.Items) {
		count = len(l.Items)
	}
	out := l.Items[:count]
	l.Items = l.Items[count:]
	s.bumpVersion(key)
	s.changesSinceSave++
	if len(l.Items) == 0 {
		s.deleteKey(key)
	}
	return out, nil
}

func (s *Storage) RPop(key string, count int) ([][]byte, error) {
	l, err := s.getList(key, false)
	if err != nil || l == nil {
		return nil, err
	}
	if count > len(l.Items) {
		count = len(l.Items)
	}
	n := len(l.Items)
	out := make([][]byte, count)
	for i := 0; i < count; i++ {
		out[i] = l.Items[n-1-i]
	}
	l.Items = l.Items[:n-count]
	s.bumpVersion(key)
	s.changesSinceSave++
	if len(l.Items) == 0 {
		s.deleteKey(key)
	}
	return out, nil
}

func (s *Storage) LLen(key string) (int, error) {
	l, err := s.getList(key, false)
	if err != nil || l == nil {
		return 0, err
	}
	return len(l.Items), nil
}

func (s *Storage) LRange(key string, start, end int) ([][]byte, error) {
	l, err := s.getList(key, false)
	if err != nil || l == nil {
		return nil, err
	}
	n := len(l.Items)
	start, end = clampRange(start, end, n)
	if start > end || n == 0 {
		return [][]byte{}, nil
	}
	out := make([][]byte, end-start+1)
	copy(out, l.Items[start:end+1])
	return out, nil
}

func (s *Storage) LIndex(key string, idx int) ([]byte, error) {
	l, err := s.getList(key, false)
	if err != nil || l == nil {
		return nil, err
	}
	n := len(l.Items)
	if idx < 0 {
		idx = n + idx
	}
	if idx < 0 || idx >= n {
		return nil, nil
	}
	return l.Items[idx], nil
}

func (s *Storage) LSet(key string, idx int, value []byte) error {
	l, err := s.getList(key, false)
	if err != nil {
		return err
	}
	if l == nil {
		return resp.ErrNoSuchKey
	}
	n := len(l.Items)
	if idx < 0 {
		idx = n + idx
	}
	if idx < 0 || idx >= n {
		return resp.ErrIndexOutOfRange
	}
	l.Items[idx] = value
	s.bumpVersion(key)
	s.changesSinceSave++
	return nil
}

func (s *Storage) LRem(key string, count int, value []byte) (int, error) {
	l, err := s.getList(key, false)
	if err != nil || l == nil {
		return 0, err
	}
	removed := 0
	out := l.Items[:0]
	switch {
	case count >= 0:
		limit := count
		if limit == 0 {
			limit = len(l.Items)
		}
		for _, v := range l.Items {
			if removed < limit && bytesEqual(v, value) {
				removed++
				continue
			}
			out = append(out, v)
		}
	default:
		limit := -count
		// walk from the tail, keep everything, but drop up to limit matches
		tmp := make([][]byte, 0, len(l.Items))
		for i := len(l.Items) - 1; i >= 0; i-- {
			v := l.Items[i]
			if removed < limit && bytesEqual(v, value) {
				removed++
				continue
			}
			tmp = append(tmp, v)
		}
		for i := len(tmp) - 1; i >= 0; i-- {
			out = append(out, tmp[i])
		}
	}
	l.Items = out
	if removed > 0 {
		s.bumpVersion(key)
		s.changesSinceSave++
		if len(l.Items) == 0 {
			s.deleteKey(key)
		}
	}
	return removed, nil
}

func (s *Storage) LTrim(key string, start, end int) error {
	l, err := s.getList(key, false)
	if err != nil || l == nil {
		return err
	}
	n := len(l.Items)
	start, end = clampRange(start, end, n)
	if start > end || n == 0 {
		s.deleteKey(key)
		return nil
	}
	l.Items = append([][]byte(nil), l.Items[start:end+1]...)
	s.bumpVersion(key)
	s.changesSinceSave++
	return nil
}

// LInsert implements LINSERT BEFORE|AFTER. Returns -1 if pivot isn't
// found, 0 if the key doesn't exist, else the new length.
func (s *Storage) LInsert(key string, before bool, pivot, value []byte) (int, error) {
	l, err := s.getList(key, false)
	if err != nil {
		return 0, err
	}
	if l == nil {
		return 0, nil
	}
	idx := -1
	for i, v := range l.Items {
		if bytesEqual(v, pivot) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return -1, nil
	}
	if !before {
		idx++
	}
	l.Items = append(l.Items, nil)
	copy(l.Items[idx+1:], l.Items[idx:])
	l.Items[idx] = value
	s.bumpVersion(key)
	s.changesSinceSave++
	return len(l.Items), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
