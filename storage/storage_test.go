// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"testing"

	"github.com/ClusterCockpit/microredis-go/config"
	"github.com/ClusterCockpit/microredis-go/resp"
)

func TestSetGetString(t *testing.T) {
	s := New(0)
	s.SetString("k", []byte("v"))
	v, err, ok := s.GetString("k")
	if err != nil || !ok {
		t.Fatalf("err=%v ok=%v", err, ok)
	}
	if string(v.Bytes) != "v" {
		t.Errorf("got %q, want v", v.Bytes)
	}
}

func TestWrongTypeError(t *testing.T) {
	s := New(0)
	if _, err := s.LPush("k", []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err, _ := s.GetString("k"); err != resp.ErrWrongType {
		t.Errorf("expected ErrWrongType, got %v", err)
	}
}

func TestIncrByOverflow(t *testing.T) {
	s := New(0)
	s.SetString("k", []byte("9223372036854775807"))
	if _, err := s.IncrBy("k", 1); err == nil {
		t.Fatal("expected an overflow error")
	}
}

func TestExpireAndTTL(t *testing.T) {
	s := New(0)
	s.SetString("k", []byte("v"))
	if !s.Expire("k", 10_000) {
		t.Fatal("Expire on existing key should succeed")
	}
	ttl := s.TTL("k")
	if ttl <= 0 || ttl > 10_000 {
		t.Errorf("TTL = %d, want in (0, 10000]", ttl)
	}
	if s.TTL("missing") != -2 {
		t.Error("TTL of missing key should be -2")
	}
}

func TestExpireIfDueReapsPastDeadline(t *testing.T) {
	s := New(0)
	s.SetString("k", []byte("v"))
	s.expires["k"] = nowMs() - 1000 // ExpireAt would delete the key at once
	if !s.ExpireIfDue("k") {
		t.Fatal("expected key with a past deadline to be reaped")
	}
	if s.Exists("k") {
		t.Error("key should no longer exist after ExpireIfDue")
	}
}

func TestFlushBumpsVersionsInsteadOfClearing(t *testing.T) {
	s := New(0)
	s.SetString("k", []byte("v"))
	before := s.Version("k")
	s.Flush()
	if s.Exists("k") {
		t.Fatal("Flush should remove all keys")
	}
	s.SetString("k", []byte("v2"))
	if s.Version("k") == before {
		t.Error("re-creating a flushed key should not reuse its old version")
	}
}

func TestRenameMovesTTL(t *testing.T) {
	s := New(0)
	s.SetString("a", []byte("v"))
	s.Expire("a", 5000)
	if err := s.Rename("a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Exists("a") {
		t.Error("source key should be gone after rename")
	}
	if ttl := s.TTL("b"); ttl <= 0 {
		t.Errorf("destination key should carry over the TTL, got %d", ttl)
	}
}

func TestGlobMatchKeys(t *testing.T) {
	s := New(0)
	s.SetString("foo1", []byte("v"))
	s.SetString("foo2", []byte("v"))
	s.SetString("bar", []byte("v"))
	keys := s.Keys("foo*")
	if len(keys) != 2 {
		t.Errorf("Keys(foo*) = %v, want 2 matches", keys)
	}
}

func TestHashOperations(t *testing.T) {
	s := New(0)
	n, err := s.HSet("h", map[string][]byte{"f1": []byte("v1"), "f2": []byte("v2")})
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	v, err := s.HGet("h", "f1")
	if err != nil || string(v) != "v1" {
		t.Fatalf("v=%q err=%v", v, err)
	}
	if ln, _ := s.HLen("h"); ln != 2 {
		t.Errorf("HLen = %d, want 2", ln)
	}
	if n, err := s.HDel("h", "f1", "f2"); err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if s.Exists("h") {
		t.Error("hash with no fields left should be deleted")
	}
}

func TestGlobMatchClassHonorsBackslashEscape(t *testing.T) {
	s := New(0)
	s.SetString("a]b", []byte("v"))
	s.SetString("acb", []byte("v"))
	keys := s.Keys(`a[\]]b`)
	if len(keys) != 1 || keys[0] != "a]b" {
		t.Errorf("Keys(a[\\]]b) = %v, want [a]b]", keys)
	}
}

func TestHashGetAllPreservesInsertionOrderWhileCompact(t *testing.T) {
	s := New(0)
	s.HSet("h", map[string][]byte{"first": []byte("1")})
	s.HSet("h", map[string][]byte{"second": []byte("2")})
	s.HSet("h", map[string][]byte{"third": []byte("3")})
	fields, values, err := s.HGetAll("h")
	if err != nil {
		t.Fatal(err)
	}
	wantFields := []string{"first", "second", "third"}
	wantValues := []string{"1", "2", "3"}
	for i, f := range wantFields {
		if fields[i] != f || string(values[i]) != wantValues[i] {
			t.Fatalf("HGetAll = %v/%v, want %v/%v", fields, values, wantFields, wantValues)
		}
	}
}

func TestHashPromotesToDictAtCompactThreshold(t *testing.T) {
	s := New(0)
	for i := 0; i < hashCompactMaxFields; i++ {
		if _, err := s.HSet("h", map[string][]byte{formatInt64(int64(i)): []byte("v")}); err != nil {
			t.Fatal(err)
		}
	}
	v, _ := s.lookup("h")
	h := v.(*HashValue)
	if h.dict == nil {
		t.Fatal("hash should have promoted to a dict at the compact threshold")
	}
	if n, _ := s.HLen("h"); n != hashCompactMaxFields {
		t.Fatalf("HLen = %d, want %d", n, hashCompactMaxFields)
	}
}

func TestListPushPopOrder(t *testing.T) {
	s := New(0)
	s.RPush("l", []byte("a"), []byte("b"), []byte("c"))
	items, err := s.LRange("l", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(items))
	for i, it := range items {
		got[i] = string(it)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LRange = %v, want %v", got, want)
		}
	}
	popped, err := s.LPop("l", 1)
	if err != nil || len(popped) != 1 || string(popped[0]) != "a" {
		t.Fatalf("popped=%v err=%v", popped, err)
	}
}

func TestSetOperations(t *testing.T) {
	s := New(0)
	s.SAdd("s1", "a", "b", "c")
	s.SAdd("s2", "b", "c", "d")
	inter, _ := s.SInter("s1", "s2")
	if len(inter) != 2 {
		t.Errorf("SInter = %v, want 2 members", inter)
	}
	union, _ := s.SUnion("s1", "s2")
	if len(union) != 4 {
		t.Errorf("SUnion = %v, want 4 members", union)
	}
	diff, _ := s.SDiff("s1", "s2")
	if len(diff) != 1 || diff[0] != "a" {
		t.Errorf("SDiff = %v, want [a]", diff)
	}
}

func TestSetStaysIntsetForIntegerMembers(t *testing.T) {
	s := New(0)
	s.SAdd("s", "3", "1", "2")
	v, _ := s.lookup("s")
	set := v.(*SetValue)
	if set.hash != nil {
		t.Fatal("set of integers should stay an intset")
	}
	want := []int64{1, 2, 3}
	for i, n := range want {
		if set.ints[i] != n {
			t.Fatalf("ints = %v, want sorted %v", set.ints, want)
		}
	}
	if !set.contains("2") {
		t.Error("intset should find an existing member by binary search")
	}
}

func TestSetPromotesToHashsetOnNonIntegerMember(t *testing.T) {
	s := New(0)
	s.SAdd("s", "1", "2")
	s.SAdd("s", "hello")
	v, _ := s.lookup("s")
	set := v.(*SetValue)
	if set.hash == nil {
		t.Fatal("set should have promoted to a hashset on a non-integer member")
	}
	for _, m := range []string{"1", "2", "hello"} {
		if !set.contains(m) {
			t.Errorf("hashset should still contain %q after promotion", m)
		}
	}
}

func TestSetPromotesToHashsetPastIntsetCap(t *testing.T) {
	s := New(0)
	for i := 0; i < setIntsetMaxEntries+1; i++ {
		if _, err := s.SAdd("s", formatInt64(int64(i))); err != nil {
			t.Fatal(err)
		}
	}
	v, _ := s.lookup("s")
	set := v.(*SetValue)
	if set.hash == nil {
		t.Fatal("set should have promoted to a hashset past the intset cap")
	}
	if n, _ := s.SCard("s"); n != setIntsetMaxEntries+1 {
		t.Fatalf("SCard = %d, want %d", n, setIntsetMaxEntries+1)
	}
}

func TestZSetRangeAndRank(t *testing.T) {
	s := New(0)
	s.ZAdd("z", map[string]float64{"a": 1, "b": 2, "c": 3}, ZAddOptions{})
	members, err := s.ZRange("z", 0, -1, false)
	if err != nil || len(members) != 3 {
		t.Fatalf("members=%v err=%v", members, err)
	}
	if members[0].Member != "a" || members[2].Member != "c" {
		t.Errorf("unexpected order: %+v", members)
	}
	rank, ok, err := s.ZRank("z", "b")
	if err != nil || !ok || rank != 1 {
		t.Fatalf("rank=%d ok=%v err=%v", rank, ok, err)
	}
}

func TestHyperLogLogApproximatesCardinality(t *testing.T) {
	s := New(0)
	for i := 0; i < 1000; i++ {
		s.PFAdd("hll", []byte{byte(i), byte(i >> 8)})
	}
	count, err := s.PFCount("hll")
	if err != nil {
		t.Fatal(err)
	}
	if count < 900 || count > 1100 {
		t.Errorf("PFCount = %d, want within 10%% of 1000", count)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := New(0)
	s.SetString("str", []byte("hello"))
	s.HSet("h", map[string][]byte{"f": []byte("v")})
	s.SAdd("set", "x", "y")

	entries := s.ExportEntries()

	s2 := New(0)
	if err := s2.ImportEntries(entries); err != nil {
		t.Fatalf("ImportEntries: %v", err)
	}
	v, err, ok := s2.GetString("str")
	if err != nil || !ok || string(v.Bytes) != "hello" {
		t.Fatalf("v=%v err=%v ok=%v", v, err, ok)
	}
	if members, _ := s2.SMembers("set"); len(members) != 2 {
		t.Errorf("SMembers after import = %v, want 2 members", members)
	}
}

func TestIncrByPreservesTTL(t *testing.T) {
	s := New(0)
	s.SetString("k", []byte("1"))
	s.Expire("k", 60_000)
	if _, err := s.IncrBy("k", 1); err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	if ttl := s.TTL("k"); ttl <= 0 {
		t.Errorf("TTL after INCRBY = %d, want a positive remaining TTL", ttl)
	}
}

func TestSetBitAndGetBit(t *testing.T) {
	s := New(0)
	old, err := s.SetBit("k", 7, 1)
	if err != nil || old != 0 {
		t.Fatalf("old=%d err=%v", old, err)
	}
	bit, err := s.GetBit("k", 7)
	if err != nil || bit != 1 {
		t.Fatalf("bit=%d err=%v", bit, err)
	}
	if bit, _ := s.GetBit("k", 0); bit != 0 {
		t.Errorf("bit 0 = %d, want 0", bit)
	}
}

func TestBitCountCountsSetBits(t *testing.T) {
	s := New(0)
	s.SetString("k", []byte("foobar"))
	n, err := s.BitCount("k", 0, -1)
	if err != nil || n != 26 {
		t.Fatalf("n=%d err=%v, want 26", n, err)
	}
}

func TestBitOpAnd(t *testing.T) {
	s := New(0)
	s.SetString("a", []byte{0xFF, 0x0F})
	s.SetString("b", []byte{0x0F, 0xFF})
	n, err := s.BitOp("AND", "dest", "a", "b")
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	sv, _, _ := s.GetString("dest")
	if sv.Bytes[0] != 0x0F || sv.Bytes[1] != 0x0F {
		t.Errorf("dest = %v, want [0x0F 0x0F]", sv.Bytes)
	}
}

func TestBitFieldSetAndGetRoundTrip(t *testing.T) {
	s := New(0)
	results, err := s.BitField("k", []BitFieldOp{
		{Kind: BitFieldSet, Signed: false, Width: 8, Offset: 0, Value: 255},
		{Kind: BitFieldGet, Signed: false, Width: 8, Offset: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if *results[0] != 0 {
		t.Errorf("SET should return the old value 0, got %d", *results[0])
	}
	if *results[1] != 255 {
		t.Errorf("GET after SET = %d, want 255", *results[1])
	}
}

func TestBitFieldIncrByWrapsOnOverflow(t *testing.T) {
	s := New(0)
	results, err := s.BitField("k", []BitFieldOp{
		{Kind: BitFieldSet, Signed: false, Width: 8, Offset: 0, Value: 250},
		{Kind: BitFieldIncrBy, Signed: false, Width: 8, Offset: 0, Value: 10, Overflow: BitFieldWrap},
	})
	if err != nil {
		t.Fatal(err)
	}
	if *results[1] != 4 { // 250+10=260, wraps mod 256 to 4
		t.Errorf("wrapped INCRBY = %d, want 4", *results[1])
	}
}

func TestBitFieldIncrBySaturates(t *testing.T) {
	s := New(0)
	results, err := s.BitField("k", []BitFieldOp{
		{Kind: BitFieldSet, Signed: false, Width: 8, Offset: 0, Value: 250},
		{Kind: BitFieldIncrBy, Signed: false, Width: 8, Offset: 0, Value: 10, Overflow: BitFieldSat},
	})
	if err != nil {
		t.Fatal(err)
	}
	if *results[1] != 255 {
		t.Errorf("saturated INCRBY = %d, want 255", *results[1])
	}
}

func TestBitFieldIncrByFailsWithoutMutating(t *testing.T) {
	s := New(0)
	results, err := s.BitField("k", []BitFieldOp{
		{Kind: BitFieldSet, Signed: false, Width: 8, Offset: 0, Value: 250},
		{Kind: BitFieldIncrBy, Signed: false, Width: 8, Offset: 0, Value: 10, Overflow: BitFieldFail},
		{Kind: BitFieldGet, Signed: false, Width: 8, Offset: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if results[1] != nil {
		t.Errorf("INCRBY under FAIL overflow should return nil, got %v", *results[1])
	}
	if *results[2] != 250 {
		t.Errorf("value should be untouched by a failed INCRBY, got %d", *results[2])
	}
}

func TestBitFieldSignedGetSignExtends(t *testing.T) {
	s := New(0)
	results, err := s.BitField("k", []BitFieldOp{
		{Kind: BitFieldSet, Signed: true, Width: 8, Offset: 0, Value: -1},
		{Kind: BitFieldGet, Signed: true, Width: 8, Offset: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if *results[1] != -1 {
		t.Errorf("signed GET of an all-ones byte = %d, want -1", *results[1])
	}
}

func TestMSetNXAllOrNothing(t *testing.T) {
	s := New(0)
	s.SetString("a", []byte("1"))
	ok, _ := s.MSetNX(map[string][]byte{"a": []byte("2"), "b": []byte("3")})
	if ok {
		t.Fatal("MSETNX should fail when any key already exists")
	}
	if _, err, exists := s.GetString("b"); exists || err != nil {
		t.Error("MSETNX must not write any key when it fails")
	}
}

func TestKeyCountCapRejectsNewKeysUnconditionally(t *testing.T) {
	s := New(2)
	s.SetMemoryBudget(0, config.EvictionAllKeysLRU)
	if err := s.SetString("a", []byte("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetString("b", []byte("2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetString("c", []byte("3")); err != resp.ErrTooManyKeys {
		t.Fatalf("expected ErrTooManyKeys, got %v", err)
	}
	if err := s.SetString("a", []byte("overwritten")); err != nil {
		t.Errorf("overwriting an existing key at the cap should succeed, got %v", err)
	}
}

// a 3-byte key holding a 1-byte string costs ~52 bytes under approxSize's
// fixed per-entry overhead; a budget of 60 admits exactly one such key.
const oneKeyMemoryBudget = 60

func TestMaxMemoryEvictsUnderLRUPolicy(t *testing.T) {
	s := New(0)
	s.SetMemoryBudget(oneKeyMemoryBudget, config.EvictionAllKeysLRU)
	if err := s.SetString("old", []byte("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetString("new", []byte("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Exists("old") {
		t.Error("oldest key should have been evicted to make room under the memory budget")
	}
	if !s.Exists("new") {
		t.Error("the new write should have succeeded after eviction freed room")
	}
}

func TestMaxMemoryNoEvictionFailsWithOOM(t *testing.T) {
	s := New(0)
	s.SetMemoryBudget(oneKeyMemoryBudget, config.EvictionNoEviction)
	if err := s.SetString("a", []byte("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetString("b", []byte("v")); err == nil {
		t.Fatal("expected a write over the memory budget to fail under 'noeviction'")
	}
}

func TestZAddNXSkipsExistingMembers(t *testing.T) {
	s := New(0)
	s.ZAdd("z", map[string]float64{"a": 1}, ZAddOptions{})
	s.ZAdd("z", map[string]float64{"a": 99}, ZAddOptions{NX: true})
	score, _, _ := s.ZScore("z", "a")
	if score != 1 {
		t.Errorf("score = %v, want 1 (NX must not overwrite)", score)
	}
}

func TestZRangeByScoreLimit(t *testing.T) {
	s := New(0)
	s.ZAdd("z", map[string]float64{"a": 1, "b": 2, "c": 3, "d": 4}, ZAddOptions{})
	members, err := s.ZRangeByScore("z", 1, 4, false, false, true, 1, 2)
	if err != nil {
		t.Fatalf("ZRangeByScore: %v", err)
	}
	if len(members) != 2 || members[0].Member != "b" || members[1].Member != "c" {
		t.Errorf("members = %+v, want [b c]", members)
	}
}

func TestSMoveTransfersMember(t *testing.T) {
	s := New(0)
	s.SAdd("src", "x")
	moved, err := s.SMove("src", "dst", "x")
	if err != nil || !moved {
		t.Fatalf("moved=%v err=%v", moved, err)
	}
	if ok, _ := s.SIsMember("dst", "x"); !ok {
		t.Error("x should now be a member of dst")
	}
	if ok, _ := s.SIsMember("src", "x"); ok {
		t.Error("x should no longer be a member of src")
	}
}

func TestXTrimKeepsNewestEntries(t *testing.T) {
	s := New(0)
	for i := 0; i < 5; i++ {
		s.XAdd("stream", "*", map[string][]byte{"n": []byte{byte(i)}})
	}
	removed, err := s.XTrim("stream", 2)
	if err != nil || removed != 3 {
		t.Fatalf("removed=%d err=%v, want 3", removed, err)
	}
	n, _ := s.XLen("stream")
	if n != 2 {
		t.Errorf("XLen after trim = %d, want 2", n)
	}
}
