// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"strconv"

	"github.com/ClusterCockpit/microredis-go/resp"
)

// StringValue is the payload behind GET/SET and friends. It is just a
// byte slice; integers are not given a distinct representation, matching
// real RESP semantics where INCR/DECR reparse the bytes every time.
type StringValue struct {
	Bytes []byte
}

func NewString(b []byte) *StringValue { return &StringValue{Bytes: b} }

func (s *StringValue) Type() Type { return TypeString }
func (s *StringValue) Len() int   { return len(s.Bytes) }
func (s *StringValue) Clone() Value {
	out := make([]byte, len(s.Bytes))
	copy(out, s.Bytes)
	return &StringValue{Bytes: out}
}

// Get returns the value at key as a *StringValue, or a WRONGTYPE error if
// key holds something else, or (nil, nil, false) if key is absent.
func (s *Storage) GetString(key string) (*StringValue, error, bool) {
	v, ok := s.lookup(key)
	if !ok {
		return nil, nil, false
	}
	sv, ok := v.(*StringValue)
	if !ok {
		return nil, resp.ErrWrongType, true
	}
	return sv, nil, true
}

func (s *Storage) SetString(key string, b []byte) error {
	return s.set(key, &StringValue{Bytes: b})
}

// Append implements APPEND: create-or-extend semantics, returns new length.
func (s *Storage) Append(key string, b []byte) (int, error) {
	v, ok := s.lookup(key)
	if !ok {
		sv := &StringValue{Bytes: append([]byte(nil), b...)}
		if err := s.set(key, sv); err != nil {
			return 0, err
		}
		return len(sv.Bytes), nil
	}
	sv, ok := v.(*StringValue)
	if !ok {
		return 0, resp.ErrWrongType
	}
	sv.Bytes = append(sv.Bytes, b...)
	s.bumpVersion(key)
	return len(sv.Bytes), nil
}

// GetSet implements GETSET: atomically swaps in a new value and returns the
// old one. Clears any TTL, same as plain SET.
func (s *Storage) GetSet(key string, b []byte) ([]byte, error, bool) {
	v, ok := s.lookup(key)
	if !ok {
		if err := s.SetString(key, b); err != nil {
			return nil, err, false
		}
		return nil, nil, false
	}
	sv, isStr := v.(*StringValue)
	if !isStr {
		return nil, resp.ErrWrongType, true
	}
	old := sv.Bytes
	if err := s.SetString(key, b); err != nil {
		return nil, err, true
	}
	return old, nil, true
}

// GetDel implements GETDEL: returns the value (if any) then removes the key.
func (s *Storage) GetDel(key string) ([]byte, error, bool) {
	sv, err, ok := s.GetString(key)
	if err != nil || !ok {
		return nil, err, ok
	}
	out := sv.Bytes
	s.deleteKey(key)
	return out, nil, true
}

// SetNX implements SETNX: sets only if the key does not already exist.
func (s *Storage) SetNX(key string, b []byte) (bool, error) {
	if s.Exists(key) {
		return false, nil
	}
	if err := s.SetString(key, b); err != nil {
		return false, err
	}
	return true, nil
}

// MGet implements MGET: one reply slot per key, nil for absent or
// wrong-type keys (MGET never errors, it just treats mismatches as misses).
func (s *Storage) MGet(keys []string) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if sv, err, ok := s.GetString(k); err == nil && ok {
			out[i] = sv.Bytes
		}
	}
	return out
}

// MSet implements MSET: unconditional multi-key set, each key resets its TTL.
func (s *Storage) MSet(pairs map[string][]byte) error {
	for k, v := range pairs {
		if err := s.SetString(k, v); err != nil {
			return err
		}
	}
	return nil
}

// MSetNX implements MSETNX: all-or-nothing, fails if any key already exists.
func (s *Storage) MSetNX(pairs map[string][]byte) (bool, error) {
	for k := range pairs {
		if s.Exists(k) {
			return false, nil
		}
	}
	for k, v := range pairs {
		if err := s.SetString(k, v); err != nil {
			return false, err
		}
	}
	return true, nil
}

const maxBitStringBytes = 64 * 1024

// SetBit implements SETBIT: big-endian bit numbering within each byte,
// zero-padding the string out to the needed byte, capped at 64 KiB.
func (s *Storage) SetBit(key string, offset int, bit int) (int, error) {
	if offset < 0 || offset >= maxBitStringBytes*8 {
		return 0, resp.NewError(resp.PrefixErr, "bit offset is not an integer or out of range")
	}
	v, ok := s.lookup(key)
	var sv *StringValue
	if ok {
		existing, isStr := v.(*StringValue)
		if !isStr {
			return 0, resp.ErrWrongType
		}
		sv = existing
	} else {
		sv = &StringValue{}
		if err := s.setKeepTTL(key, sv); err != nil {
			return 0, err
		}
	}
	byteIdx := offset / 8
	if byteIdx >= len(sv.Bytes) {
		padded := make([]byte, byteIdx+1)
		copy(padded, sv.Bytes)
		sv.Bytes = padded
	}
	bitIdx := uint(7 - offset%8)
	old := (sv.Bytes[byteIdx] >> bitIdx) & 1
	if bit != 0 {
		sv.Bytes[byteIdx] |= 1 << bitIdx
	} else {
		sv.Bytes[byteIdx] &^= 1 << bitIdx
	}
	s.bumpVersion(key)
	s.changesSinceSave++
	return int(old), nil
}

// GetBit implements GETBIT: bits past the end of the string read as 0.
func (s *Storage) GetBit(key string, offset int) (int, error) {
	sv, err, ok := s.GetString(key)
	if err != nil || !ok {
		return 0, err
	}
	byteIdx := offset / 8
	if offset < 0 || byteIdx >= len(sv.Bytes) {
		return 0, nil
	}
	bitIdx := uint(7 - offset%8)
	return int((sv.Bytes[byteIdx] >> bitIdx) & 1), nil
}

// BitCount implements BITCOUNT over an inclusive byte range (negative
// indices count from the end), using the classic Brian-Kernighan pop-count.
func (s *Storage) BitCount(key string, start, end int) (int, error) {
	sv, err, ok := s.GetString(key)
	if err != nil || !ok {
		return 0, err
	}
	n := len(sv.Bytes)
	start, end = clampRange(start, end, n)
	if n == 0 || start > end {
		return 0, nil
	}
	count := 0
	for _, b := range sv.Bytes[start : end+1] {
		for b != 0 {
			b &= b - 1
			count++
		}
	}
	return count, nil
}

// BitPos implements BITPOS: finds the first bit set to bitVal within an
// inclusive byte range.
func (s *Storage) BitPos(key string, bitVal int, start, end int, hasEnd bool) (int, error) {
	sv, err, ok := s.GetString(key)
	if err != nil || !ok {
		if bitVal == 0 {
			return 0, nil
		}
		return -1, nil
	}
	n := len(sv.Bytes)
	if !hasEnd {
		end = n - 1
	}
	start, end = clampRange(start, end, n)
	if n == 0 || start > end {
		return -1, nil
	}
	for byteIdx := start; byteIdx <= end; byteIdx++ {
		b := sv.Bytes[byteIdx]
		for bit := 0; bit < 8; bit++ {
			got := int((b >> uint(7-bit)) & 1)
			if got == bitVal {
				return byteIdx*8 + bit, nil
			}
		}
	}
	if bitVal == 0 && !hasEnd {
		return n * 8, nil
	}
	return -1, nil
}

// BitOp implements BITOP {AND,OR,XOR,NOT}: result length is the length of
// the longest source (NOT takes exactly one source), shorter sources are
// treated as zero-padded.
func (s *Storage) BitOp(op string, dest string, sources ...string) (int, error) {
	srcs := make([][]byte, len(sources))
	maxLen := 0
	for i, k := range sources {
		sv, err, ok := s.GetString(k)
		if err != nil {
			return 0, err
		}
		if ok {
			srcs[i] = sv.Bytes
			if len(sv.Bytes) > maxLen {
				maxLen = len(sv.Bytes)
			}
		}
	}
	out := make([]byte, maxLen)
	switch op {
	case "AND":
		for i := range out {
			out[i] = 0xFF
		}
		for _, src := range srcs {
			for i := 0; i < maxLen; i++ {
				var b byte
				if i < len(src) {
					b = src[i]
				}
				out[i] &= b
			}
		}
	case "OR":
		for _, src := range srcs {
			for i := 0; i < len(src); i++ {
				out[i] |= src[i]
			}
		}
	case "XOR":
		for _, src := range srcs {
			for i := 0; i < len(src); i++ {
				out[i] ^= src[i]
			}
		}
	case "NOT":
		if len(srcs) != 1 {
			return 0, resp.NewError(resp.PrefixErr, "BITOP NOT must be called with a single source key")
		}
		for i := 0; i < maxLen; i++ {
			out[i] = ^srcs[0][i]
		}
	default:
		return 0, resp.NewError(resp.PrefixErr, "syntax error")
	}
	if maxLen == 0 {
		s.Del(dest)
		return 0, nil
	}
	if err := s.SetString(dest, out); err != nil {
		return 0, err
	}
	return maxLen, nil
}

// IncrBy implements INCR/INCRBY/DECR/DECRBY: parses the string as a base-10
// int64, applies delta, re-encodes, and stores it back.
func (s *Storage) IncrBy(key string, delta int64) (int64, error) {
	v, ok := s.lookup(key)
	var cur int64
	if ok {
		sv, isStr := v.(*StringValue)
		if !isStr {
			return 0, resp.ErrWrongType
		}
		n, err := strconv.ParseInt(string(sv.Bytes), 10, 64)
		if err != nil {
			return 0, resp.ErrNotInteger
		}
		cur = n
	}
	next := cur + delta
	if (delta > 0 && next < cur) || (delta < 0 && next > cur) {
		return 0, resp.NewError(resp.PrefixErr, "increment or decrement would overflow")
	}
	if err := s.setKeepTTL(key, &StringValue{Bytes: []byte(strconv.FormatInt(next, 10))}); err != nil {
		return 0, err
	}
	return next, nil
}

// IncrByFloat implements INCRBYFLOAT.
func (s *Storage) IncrByFloat(key string, delta float64) (float64, error) {
	v, ok := s.lookup(key)
	var cur float64
	if ok {
		sv, isStr := v.(*StringValue)
		if !isStr {
			return 0, resp.ErrWrongType
		}
		f, err := strconv.ParseFloat(string(sv.Bytes), 64)
		if err != nil {
			return 0, resp.ErrNotFloat
		}
		cur = f
	}
	next := cur + delta
	out := strconv.FormatFloat(next, 'f', -1, 64)
	if err := s.setKeepTTL(key, &StringValue{Bytes: []byte(out)}); err != nil {
		return 0, err
	}
	return next, nil
}

// GetRange implements GETRANGE with Redis's negative-index clamp rules.
func (s *Storage) GetRange(key string, start, end int) ([]byte, error) {
	sv, err, ok := s.GetString(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []byte{}, nil
	}
	n := len(sv.Bytes)
	start, end = clampRange(start, end, n)
	if start > end || n == 0 {
		return []byte{}, nil
	}
	return sv.Bytes[start : end+1], nil
}

// SetRange implements SETRANGE: zero-pads the value out to offset if needed.
func (s *Storage) SetRange(key string, offset int, b []byte) (int, error) {
	v, ok := s.lookup(key)
	var sv *StringValue
	if ok {
		existing, isStr := v.(*StringValue)
		if !isStr {
			return 0, resp.ErrWrongType
		}
		sv = existing
	} else {
		sv = &StringValue{}
		if err := s.set(key, sv); err != nil {
			return 0, err
		}
	}
	needed := offset + len(b)
	if needed > len(sv.Bytes) {
		padded := make([]byte, needed)
		copy(padded, sv.Bytes)
		sv.Bytes = padded
	}
	copy(sv.Bytes[offset:], b)
	s.bumpVersion(key)
	return len(sv.Bytes), nil
}

func clampRange(start, end, n int) (int, int) {
	if start < 0 {
		start = n + start
	}
	if end < 0 {
		end = n + end
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	return start, end
}
