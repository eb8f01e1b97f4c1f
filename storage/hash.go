// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import "github.com/ClusterCockpit/microredis-go/resp"

// hashCompactMaxFields is the field count at which a compact hash
// promotes to a dict. Mirrors the ziplist-to-hashtable conversion real
// Redis makes, and the threshold the original datatypes/hash.py uses.
const hashCompactMaxFields = 64

type hashField struct {
	Field string
	Value []byte
}

// HashValue backs HSET/HGET/HDEL etc. A fresh hash starts "compact": an
// insertion-ordered slice, cheap to scan and the only representation
// that makes HGETALL/HKEYS/HVALS return fields in the order they were
// added. Once it reaches hashCompactMaxFields fields it promotes to
// a dict (a plain map) and never looks back, same one-way conversion
// real Redis makes at its own listpack/hashtable boundary.
type HashValue struct {
	compact []hashField       // insertion order; nil once promoted
	dict    map[string][]byte // nil while compact
}

func NewHash() *HashValue { return &HashValue{} }

func (h *HashValue) Type() Type { return TypeHash }

func (h *HashValue) Len() int {
	if h.dict != nil {
		return len(h.dict)
	}
	return len(h.compact)
}

func (h *HashValue) Clone() Value {
	out := &HashValue{}
	if h.dict != nil {
		out.dict = make(map[string][]byte, len(h.dict))
		for k, v := range h.dict {
			cp := make([]byte, len(v))
			copy(cp, v)
			out.dict[k] = cp
		}
		return out
	}
	out.compact = make([]hashField, len(h.compact))
	for i, f := range h.compact {
		cp := make([]byte, len(f.Value))
		copy(cp, f.Value)
		out.compact[i] = hashField{Field: f.Field, Value: cp}
	}
	return out
}

func (h *HashValue) get(field string) ([]byte, bool) {
	if h.dict != nil {
		v, ok := h.dict[field]
		return v, ok
	}
	for _, f := range h.compact {
		if f.Field == field {
			return f.Value, true
		}
	}
	return nil, false
}

// put sets field to value, reporting whether the field is new, and
// promotes the hash to a dict once it reaches hashCompactMaxFields.
func (h *HashValue) put(field string, value []byte) bool {
	if h.dict != nil {
		_, existed := h.dict[field]
		h.dict[field] = value
		return !existed
	}
	for i, f := range h.compact {
		if f.Field == field {
			h.compact[i].Value = value
			return false
		}
	}
	h.compact = append(h.compact, hashField{Field: field, Value: value})
	if len(h.compact) >= hashCompactMaxFields {
		h.promote()
	}
	return true
}

func (h *HashValue) promote() {
	dict := make(map[string][]byte, len(h.compact))
	for _, f := range h.compact {
		dict[f.Field] = f.Value
	}
	h.dict = dict
	h.compact = nil
}

func (h *HashValue) remove(field string) bool {
	if h.dict != nil {
		if _, ok := h.dict[field]; ok {
			delete(h.dict, field)
			return true
		}
		return false
	}
	for i, f := range h.compact {
		if f.Field == field {
			h.compact = append(h.compact[:i], h.compact[i+1:]...)
			return true
		}
	}
	return false
}

// each visits every field, in insertion order for a compact hash or in
// Go's randomized map order once promoted to a dict.
func (h *HashValue) each(fn func(field string, value []byte)) {
	if h.dict != nil {
		for f, v := range h.dict {
			fn(f, v)
		}
		return
	}
	for _, f := range h.compact {
		fn(f.Field, f.Value)
	}
}

func (s *Storage) getHash(key string, create bool) (*HashValue, error) {
	v, ok := s.lookup(key)
	if !ok {
		if !create {
			return nil, nil
		}
		h := NewHash()
		if err := s.setKeepTTL(key, h); err != nil {
			return nil, err
		}
		return h, nil
	}
	h, ok := v.(*HashValue)
	if !ok {
		return nil, resp.ErrWrongType
	}
	return h, nil
}

// HSet sets one or more fields, returning the number of fields newly added.
func (s *Storage) HSet(key string, pairs map[string][]byte) (int, error) {
	h, err := s.getHash(key, true)
	if err != nil {
		return 0, err
	}
	added := 0
	for f, v := range pairs {
		if h.put(f, v) {
			added++
		}
	}
	s.bumpVersion(key)
	s.changesSinceSave++
	return added, nil
}

func (s *Storage) HGet(key, field string) ([]byte, error) {
	h, err := s.getHash(key, false)
	if err != nil || h == nil {
		return nil, err
	}
	v, _ := h.get(field)
	return v, nil
}

func (s *Storage) HDel(key string, fields ...string) (int, error) {
	h, err := s.getHash(key, false)
	if err != nil || h == nil {
		return 0, err
	}
	n := 0
	for _, f := range fields {
		if h.remove(f) {
			n++
		}
	}
	if n > 0 {
		s.bumpVersion(key)
		s.changesSinceSave++
		if h.Len() == 0 {
			s.deleteKey(key)
		}
	}
	return n, nil
}

// HGetAll returns every field/value pair, in insertion order while the
// hash is compact.
func (s *Storage) HGetAll(key string) ([]string, [][]byte, error) {
	h, err := s.getHash(key, false)
	if err != nil || h == nil {
		return nil, nil, err
	}
	fields := make([]string, 0, h.Len())
	values := make([][]byte, 0, h.Len())
	h.each(func(f string, v []byte) {
		fields = append(fields, f)
		values = append(values, v)
	})
	return fields, values, nil
}

func (s *Storage) HExists(key, field string) (bool, error) {
	h, err := s.getHash(key, false)
	if err != nil || h == nil {
		return false, err
	}
	_, ok := h.get(field)
	return ok, nil
}

func (s *Storage) HLen(key string) (int, error) {
	h, err := s.getHash(key, false)
	if err != nil || h == nil {
		return 0, err
	}
	return h.Len(), nil
}

// HKeys returns field names in insertion order while the hash is compact.
func (s *Storage) HKeys(key string) ([]string, error) {
	h, err := s.getHash(key, false)
	if err != nil || h == nil {
		return nil, err
	}
	out := make([]string, 0, h.Len())
	h.each(func(f string, _ []byte) { out = append(out, f) })
	return out, nil
}

// HMGet returns one slot per requested field, nil for fields that don't
// exist (or for a missing key entirely).
func (s *Storage) HMGet(key string, fields []string) ([][]byte, error) {
	h, err := s.getHash(key, false)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(fields))
	if h == nil {
		return out, nil
	}
	for i, f := range fields {
		out[i], _ = h.get(f)
	}
	return out, nil
}

// HVals returns values in insertion order while the hash is compact.
func (s *Storage) HVals(key string) ([][]byte, error) {
	h, err := s.getHash(key, false)
	if err != nil || h == nil {
		return nil, err
	}
	out := make([][]byte, 0, h.Len())
	h.each(func(_ string, v []byte) { out = append(out, v) })
	return out, nil
}

// HSetNX sets field only if it does not already exist in the hash.
func (s *Storage) HSetNX(key, field string, value []byte) (bool, error) {
	h, err := s.getHash(key, true)
	if err != nil {
		return false, err
	}
	if _, exists := h.get(field); exists {
		return false, nil
	}
	h.put(field, value)
	s.bumpVersion(key)
	s.changesSinceSave++
	return true, nil
}

func (s *Storage) HIncrByFloat(key, field string, delta float64) (float64, error) {
	h, err := s.getHash(key, true)
	if err != nil {
		return 0, err
	}
	cur := 0.0
	if raw, ok := h.get(field); ok {
		f, perr := parseFloat64(raw)
		if perr != nil {
			return 0, resp.ErrNotFloat
		}
		cur = f
	}
	next := cur + delta
	h.put(field, []byte(formatFloat64(next)))
	s.bumpVersion(key)
	s.changesSinceSave++
	return next, nil
}

func (s *Storage) HIncrBy(key, field string, delta int64) (int64, error) {
	h, err := s.getHash(key, true)
	if err != nil {
		return 0, err
	}
	cur := int64(0)
	if raw, ok := h.get(field); ok {
		n, perr := parseInt64(raw)
		if perr != nil {
			return 0, resp.ErrNotInteger
		}
		cur = n
	}
	next := cur + delta
	h.put(field, []byte(formatInt64(next)))
	s.bumpVersion(key)
	s.changesSinceSave++
	return next, nil
}
