// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ClusterCockpit/microredis-go/resp"
)

// StreamEntry is one XADD-appended record. Consumer groups, XREAD BLOCK,
// and trimming strategies beyond MAXLEN are out of scope (non-goals);
// this covers append, length, and range scans.
type StreamEntry struct {
	ID     string // "<ms>-<seq>"
	Fields map[string][]byte
}

type StreamValue struct {
	Entries  []StreamEntry
	LastMs   int64
	LastSeq  int64
}

func NewStream() *StreamValue { return &StreamValue{LastMs: -1, LastSeq: -1} }

func (v *StreamValue) Type() Type { return TypeStream }
func (v *StreamValue) Len() int   { return len(v.Entries) }
func (v *StreamValue) Clone() Value {
	out := make([]StreamEntry, len(v.Entries))
	for i, e := range v.Entries {
		fields := make(map[string][]byte, len(e.Fields))
		for k, f := range e.Fields {
			cp := make([]byte, len(f))
			copy(cp, f)
			fields[k] = cp
		}
		out[i] = StreamEntry{ID: e.ID, Fields: fields}
	}
	return &StreamValue{Entries: out, LastMs: v.LastMs, LastSeq: v.LastSeq}
}

func (s *Storage) getStream(key string, create bool) (*StreamValue, error) {
	v, ok := s.lookup(key)
	if !ok {
		if !create {
			return nil, nil
		}
		st := NewStream()
		if err := s.setKeepTTL(key, st); err != nil {
			return nil, err
		}
		return st, nil
	}
	st, ok := v.(*StreamValue)
	if !ok {
		return nil, resp.ErrWrongType
	}
	return st, nil
}

// XAdd appends an entry. id "*" auto-generates "<nowMs>-<seq>"; an
// explicit id must be strictly greater than the stream's last id.
func (s *Storage) XAdd(key, id string, fields map[string][]byte) (string, error) {
	st, err := s.getStream(key, true)
	if err != nil {
		return "", err
	}
	var ms, seq int64
	if id == "*" {
		ms = nowMs()
		if ms <= st.LastMs {
			ms = st.LastMs
			seq = st.LastSeq + 1
		}
	} else {
		ms, seq, err = parseStreamID(id)
		if err != nil {
			return "", err
		}
		if ms < st.LastMs || (ms == st.LastMs && seq <= st.LastSeq) {
			return "", resp.NewError(resp.PrefixErr, "The ID specified in XADD is equal or smaller than the target stream top item")
		}
	}
	newID := fmt.Sprintf("%d-%d", ms, seq)
	st.Entries = append(st.Entries, StreamEntry{ID: newID, Fields: fields})
	st.LastMs, st.LastSeq = ms, seq
	s.bumpVersion(key)
	s.changesSinceSave++
	return newID, nil
}

func (s *Storage) XLen(key string) (int, error) {
	st, err := s.getStream(key, false)
	if err != nil || st == nil {
		return 0, err
	}
	return len(st.Entries), nil
}

// XRange returns entries with start <= id <= end ("-" and "+" mean the
// lowest and highest possible id).
func (s *Storage) XRange(key, start, end string) ([]StreamEntry, error) {
	st, err := s.getStream(key, false)
	if err != nil || st == nil {
		return nil, err
	}
	loMs, loSeq := int64(0), int64(0)
	hiMs, hiSeq := int64(1<<62), int64(1<<62)
	if start != "-" {
		loMs, loSeq, err = parseStreamID(start)
		if err != nil {
			return nil, err
		}
	}
	if end != "+" {
		hiMs, hiSeq, err = parseStreamID(end)
		if err != nil {
			return nil, err
		}
	}
	out := make([]StreamEntry, 0)
	for _, e := range st.Entries {
		ms, seq, perr := parseStreamID(e.ID)
		if perr != nil {
			continue
		}
		if streamIDLess(ms, seq, loMs, loSeq) {
			continue
		}
		if streamIDLess(hiMs, hiSeq, ms, seq) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		mi, si, _ := parseStreamID(out[i].ID)
		mj, sj, _ := parseStreamID(out[j].ID)
		return streamIDLess(mi, si, mj, sj)
	})
	return out, nil
}

// XRevRange is XRANGE with start/end given high-to-low and results
// returned in descending order.
func (s *Storage) XRevRange(key, end, start string) ([]StreamEntry, error) {
	out, err := s.XRange(key, start, end)
	if err != nil {
		return nil, err
	}
	reversed := make([]StreamEntry, len(out))
	for i, e := range out {
		reversed[len(out)-1-i] = e
	}
	return reversed, nil
}

// XRead returns, for each requested stream, entries strictly newer than
// the paired lastID ("$" resolves to the stream's current last id at call
// time, meaning nothing newer exists yet). Streams with no fresh entries
// are omitted from the result.
func (s *Storage) XRead(streams []string, lastIDs []string, count int) (map[string][]StreamEntry, error) {
	out := make(map[string][]StreamEntry)
	for i, key := range streams {
		st, err := s.getStream(key, false)
		if err != nil {
			return nil, err
		}
		if st == nil {
			continue
		}
		loMs, loSeq := int64(0), int64(0)
		if lastIDs[i] == "$" {
			loMs, loSeq = st.LastMs, st.LastSeq
		} else {
			loMs, loSeq, err = parseStreamID(lastIDs[i])
			if err != nil {
				return nil, err
			}
		}
		var entries []StreamEntry
		for _, e := range st.Entries {
			ms, seq, perr := parseStreamID(e.ID)
			if perr != nil {
				continue
			}
			if !streamIDLess(loMs, loSeq, ms, seq) {
				continue
			}
			entries = append(entries, e)
			if count > 0 && len(entries) >= count {
				break
			}
		}
		if len(entries) > 0 {
			out[key] = entries
		}
	}
	return out, nil
}

// XTrim implements XTRIM MAXLEN n: keeps the n newest entries, dropping
// the oldest. Approximate (~) trimming is accepted syntactically but
// always performed exactly.
func (s *Storage) XTrim(key string, maxLen int) (int, error) {
	st, err := s.getStream(key, false)
	if err != nil || st == nil {
		return 0, err
	}
	if len(st.Entries) <= maxLen {
		return 0, nil
	}
	removed := len(st.Entries) - maxLen
	st.Entries = st.Entries[removed:]
	s.bumpVersion(key)
	s.changesSinceSave++
	return removed, nil
}

func streamIDLess(ms1, seq1, ms2, seq2 int64) bool {
	if ms1 != ms2 {
		return ms1 < ms2
	}
	return seq1 < seq2
}

func parseStreamID(id string) (int64, int64, error) {
	parts := strings.SplitN(id, "-", 2)
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, resp.NewError(resp.PrefixErr, "Invalid stream ID specified as stream command argument")
	}
	seq := int64(0)
	if len(parts) == 2 {
		seq, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, resp.NewError(resp.PrefixErr, "Invalid stream ID specified as stream command argument")
		}
	}
	return ms, seq, nil
}
