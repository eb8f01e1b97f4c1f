// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ClusterCockpit/microredis-go/storage"
)

func TestSaveSyncAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := []storage.Entry{
		{Key: "a", Kind: storage.TypeString, Payload: []byte("hello")},
		{Key: "b", Kind: storage.TypeString, HasTTL: true, TTLAtMs: 123456, Payload: []byte("world")},
	}

	if err := SaveSync(dir, "dump.mrdb", entries); err != nil {
		t.Fatalf("SaveSync: %v", err)
	}

	loaded, err := Load(filepath.Join(dir, "dump.mrdb"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d entries, want 2", len(loaded))
	}
	if loaded[0].Key != "a" || string(loaded[0].Payload) != "hello" {
		t.Errorf("entry 0 = %+v", loaded[0])
	}
	if !loaded[1].HasTTL || loaded[1].TTLAtMs != 123456 {
		t.Errorf("entry 1 = %+v", loaded[1])
	}
}

func TestLoadRejectsCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	entries := []storage.Entry{{Key: "a", Kind: storage.TypeString, Payload: []byte("v")}}
	if err := SaveSync(dir, "dump.mrdb", entries); err != nil {
		t.Fatalf("SaveSync: %v", err)
	}

	path := filepath.Join(dir, "dump.mrdb")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[5] ^= 0xFF // flip a byte inside the header, after the CRC was computed over it
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected a CRC mismatch error for a corrupted snapshot")
	}
}

func TestWriterAbortRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "dump.mrdb")
	if err := w.Begin([]storage.Entry{{Key: "a", Kind: storage.TypeString, Payload: []byte("v")}}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	w.Abort()
	if _, err := os.Stat(filepath.Join(dir, "dump.mrdb.tmp")); !os.IsNotExist(err) {
		t.Error("Abort should remove the temp file")
	}
}
