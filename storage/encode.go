// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Entry is one key's worth of snapshot payload: a type tag, an optional
// TTL deadline, and a kind-specific encoded payload. The snapshot
// package only knows how to frame and checksum a stream of Entries; it
// has no notion of what's inside one.
type Entry struct {
	Key     string
	Kind    Type
	HasTTL  bool
	TTLAtMs int64
	Payload []byte
}

// ExportEntries snapshots every live key into the on-disk payload format.
func (s *Storage) ExportEntries() []Entry {
	out := make([]Entry, 0, len(s.data))
	now := nowMs()
	for k, v := range s.data {
		if d, has := s.expires[k]; has && d <= now {
			continue
		}
		payload, err := encodeValue(v)
		if err != nil {
			continue
		}
		e := Entry{Key: k, Kind: v.Type(), Payload: payload}
		if d, has := s.expires[k]; has {
			e.HasTTL, e.TTLAtMs = true, d
		}
		out = append(out, e)
	}
	return out
}

// ImportEntries replaces the keyspace with the given entries, used when
// loading a snapshot at startup.
func (s *Storage) ImportEntries(entries []Entry) error {
	data := make(map[string]Value, len(entries))
	expires := make(map[string]int64)
	for _, e := range entries {
		v, err := decodeValue(e.Kind, e.Payload)
		if err != nil {
			return fmt.Errorf("key %q: %w", e.Key, err)
		}
		data[e.Key] = v
		if e.HasTTL {
			expires[e.Key] = e.TTLAtMs
		}
	}
	s.data = data
	s.expires = expires
	s.lastAccess = make(map[string]int64)
	var mem int64
	for k, v := range data {
		s.lastAccess[k] = nowMs()
		s.versions[k]++
		mem += approxSize(k, v)
	}
	s.keyCount = int64(len(data))
	s.memUsed = mem
	s.changesSinceSave = 0
	return nil
}

func encodeValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	switch t := v.(type) {
	case *StringValue:
		buf.Write(t.Bytes)
	case *HyperLogLogValue:
		buf.Write(t.Registers)
	case *HashValue:
		writeU32(&buf, uint32(t.Len()))
		t.each(func(f string, val []byte) {
			writeBytes16(&buf, []byte(f))
			writeBytes32(&buf, val)
		})
	case *ListValue:
		writeU32(&buf, uint32(len(t.Items)))
		for _, item := range t.Items {
			writeBytes32(&buf, item)
		}
	case *SetValue:
		writeU32(&buf, uint32(t.Len()))
		t.each(func(m string) {
			writeBytes16(&buf, []byte(m))
		})
	case *ZSetValue:
		writeU32(&buf, uint32(len(t.Scores)))
		for m, sc := range t.Scores {
			writeBytes16(&buf, []byte(m))
			binary.Write(&buf, binary.LittleEndian, sc)
		}
	case *StreamValue:
		writeU32(&buf, uint32(len(t.Entries)))
		binary.Write(&buf, binary.LittleEndian, t.LastMs)
		binary.Write(&buf, binary.LittleEndian, t.LastSeq)
		for _, e := range t.Entries {
			writeBytes16(&buf, []byte(e.ID))
			writeU32(&buf, uint32(len(e.Fields)))
			for f, val := range e.Fields {
				writeBytes16(&buf, []byte(f))
				writeBytes32(&buf, val)
			}
		}
	default:
		return nil, fmt.Errorf("unknown value kind for encoding: %T", v)
	}
	return buf.Bytes(), nil
}

func decodeValue(kind Type, payload []byte) (Value, error) {
	r := bytes.NewReader(payload)
	switch kind {
	case TypeString:
		b := make([]byte, r.Len())
		r.Read(b)
		return &StringValue{Bytes: b}, nil
	case TypeHyperLogLog:
		b := make([]byte, r.Len())
		r.Read(b)
		if len(b) != hllSize {
			return nil, fmt.Errorf("corrupt hyperloglog payload: %d bytes", len(b))
		}
		return &HyperLogLogValue{Registers: b}, nil
	case TypeHash:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		h := NewHash()
		for i := uint32(0); i < n; i++ {
			f, err := readBytes16(r)
			if err != nil {
				return nil, err
			}
			v, err := readBytes32(r)
			if err != nil {
				return nil, err
			}
			h.put(string(f), v)
		}
		return h, nil
	case TypeList:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		l := NewList()
		for i := uint32(0); i < n; i++ {
			item, err := readBytes32(r)
			if err != nil {
				return nil, err
			}
			l.Items = append(l.Items, item)
		}
		return l, nil
	case TypeSet:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		set := NewSet()
		for i := uint32(0); i < n; i++ {
			m, err := readBytes16(r)
			if err != nil {
				return nil, err
			}
			set.add(string(m))
		}
		return set, nil
	case TypeZSet:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		z := NewZSet()
		for i := uint32(0); i < n; i++ {
			m, err := readBytes16(r)
			if err != nil {
				return nil, err
			}
			var sc float64
			if err := binary.Read(r, binary.LittleEndian, &sc); err != nil {
				return nil, err
			}
			z.Scores[string(m)] = sc
		}
		return z, nil
	case TypeStream:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		st := NewStream()
		if err := binary.Read(r, binary.LittleEndian, &st.LastMs); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &st.LastSeq); err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			id, err := readBytes16(r)
			if err != nil {
				return nil, err
			}
			fn, err := readU32(r)
			if err != nil {
				return nil, err
			}
			fields := make(map[string][]byte, fn)
			for j := uint32(0); j < fn; j++ {
				name, err := readBytes16(r)
				if err != nil {
					return nil, err
				}
				val, err := readBytes32(r)
				if err != nil {
					return nil, err
				}
				fields[string(name)] = val
			}
			st.Entries = append(st.Entries, StreamEntry{ID: string(id), Fields: fields})
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown value kind tag %d", kind)
	}
}

func writeU32(buf *bytes.Buffer, n uint32) {
	binary.Write(buf, binary.LittleEndian, n)
}

func writeBytes16(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint16(len(b)))
	buf.Write(b)
}

func writeBytes32(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(b)))
	buf.Write(b)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var n uint32
	err := binary.Read(r, binary.LittleEndian, &n)
	return n, err
}

func readBytes16(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return b, nil
}

func readBytes32(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return b, nil
}
