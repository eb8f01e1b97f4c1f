// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package snapshot implements the binary persistence format: a
// magic-number + CRC32-footer + atomic tmp-then-rename binary checkpoint.
//
// Format (little-endian throughout):
//
//	magic      [4]byte  "MRDB"
//	version    uint16
//	timestamp  uint32   unix seconds at save time
//	key_count  uint32
//	entries    ...      see writeEntry/readEntry
//	crc32      uint32   over every byte written above
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ClusterCockpit/microredis-go/storage"
)

const (
	magic   = "MRDB"
	version = uint16(1)

	// chunkSize bounds how many keys Writer.WriteChunk encodes before
	// returning control to the caller. SaveSync, the only caller, runs
	// the chunks back to back without yielding in between.
	chunkSize = 50
)

// Load reads a complete snapshot file, verifying its CRC32 footer before
// returning any entries -- a torn or corrupted file must never partially
// populate the keyspace.
func Load(path string) ([]storage.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 4+2+4+4+4 {
		return nil, fmt.Errorf("snapshot: file too short")
	}
	body := raw[:len(raw)-4]
	wantCRC := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	gotCRC := crc32.ChecksumIEEE(body)
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("snapshot: CRC32 mismatch (corrupt file)")
	}

	r := newByteReader(body)
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if string(hdr[:]) != magic {
		return nil, fmt.Errorf("snapshot: bad magic %q", hdr)
	}
	var ver uint16
	var ts, count uint32
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	entries := make([]storage.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readEntry(r io.Reader) (storage.Entry, error) {
	var e storage.Entry
	var kindByte, hasTTLByte uint8
	if err := binary.Read(r, binary.LittleEndian, &kindByte); err != nil {
		return e, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hasTTLByte); err != nil {
		return e, err
	}
	e.Kind = storage.Type(kindByte)
	e.HasTTL = hasTTLByte != 0
	if e.HasTTL {
		if err := binary.Read(r, binary.LittleEndian, &e.TTLAtMs); err != nil {
			return e, err
		}
	}
	var keyLen uint16
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return e, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return e, err
	}
	e.Key = string(key)
	var valLen uint32
	if err := binary.Read(r, binary.LittleEndian, &valLen); err != nil {
		return e, err
	}
	val := make([]byte, valLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return e, err
	}
	e.Payload = val
	return e, nil
}

// Writer performs one atomic, chunked snapshot write: Begin opens a
// ".tmp" file and writes the header, repeated calls to WriteChunk encode
// up to chunkSize entries each, and Finish writes the CRC32 footer and
// renames the temp file into place.
type Writer struct {
	finalPath string
	tmpPath   string
	file      *os.File
	w         *bufio.Writer
	crc       *crcWriter

	entries []storage.Entry
	idx     int
}

func NewWriter(dir, filename string) *Writer {
	final := filepath.Join(dir, filename)
	return &Writer{finalPath: final, tmpPath: final + ".tmp"}
}

func (sw *Writer) Begin(entries []storage.Entry) error {
	f, err := os.OpenFile(sw.tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	sw.file = f
	sw.crc = newCRCWriter(f)
	sw.w = bufio.NewWriter(sw.crc)
	sw.entries = entries
	sw.idx = 0

	if _, err := sw.w.WriteString(magic); err != nil {
		return err
	}
	if err := binary.Write(sw.w, binary.LittleEndian, version); err != nil {
		return err
	}
	if err := binary.Write(sw.w, binary.LittleEndian, uint32(time.Now().Unix())); err != nil {
		return err
	}
	return binary.Write(sw.w, binary.LittleEndian, uint32(len(entries)))
}

// WriteChunk encodes up to chunkSize more entries, returning done=true
// once every entry has been written.
func (sw *Writer) WriteChunk() (done bool, err error) {
	end := sw.idx + chunkSize
	if end > len(sw.entries) {
		end = len(sw.entries)
	}
	for ; sw.idx < end; sw.idx++ {
		if err := writeEntry(sw.w, sw.entries[sw.idx]); err != nil {
			return false, err
		}
	}
	return sw.idx >= len(sw.entries), nil
}

func writeEntry(w io.Writer, e storage.Entry) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(e.Kind)); err != nil {
		return err
	}
	hasTTL := uint8(0)
	if e.HasTTL {
		hasTTL = 1
	}
	if err := binary.Write(w, binary.LittleEndian, hasTTL); err != nil {
		return err
	}
	if e.HasTTL {
		if err := binary.Write(w, binary.LittleEndian, e.TTLAtMs); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(e.Key))); err != nil {
		return err
	}
	if _, err := w.Write([]byte(e.Key)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Payload))); err != nil {
		return err
	}
	_, err := w.Write(e.Payload)
	return err
}

// Finish flushes the CRC32 footer and atomically publishes the snapshot
// by renaming the temp file over the final path.
func (sw *Writer) Finish() error {
	if err := sw.w.Flush(); err != nil {
		sw.file.Close()
		return err
	}
	sum := sw.crc.Sum32()
	if err := binary.Write(sw.file, binary.LittleEndian, sum); err != nil {
		sw.file.Close()
		return err
	}
	if err := sw.file.Sync(); err != nil {
		sw.file.Close()
		return err
	}
	if err := sw.file.Close(); err != nil {
		return err
	}
	return os.Rename(sw.tmpPath, sw.finalPath)
}

// Abort removes a partially-written temp file after a failed Begin/
// WriteChunk, so a crash mid-save never leaves the real snapshot
// replaced by garbage (the rename in Finish never ran).
func (sw *Writer) Abort() {
	if sw.file != nil {
		sw.file.Close()
	}
	os.Remove(sw.tmpPath)
}

// crcWriter tees every write through a running CRC32 checksum.
type crcWriter struct {
	w   io.Writer
	sum uint32
	tbl *crc32.Table
}

func newCRCWriter(w io.Writer) *crcWriter {
	return &crcWriter{w: w, tbl: crc32.IEEETable}
}

func (c *crcWriter) Write(p []byte) (int, error) {
	c.sum = crc32.Update(c.sum, c.tbl, p)
	return c.w.Write(p)
}

func (c *crcWriter) Sum32() uint32 { return c.sum }

// byteReader is a minimal io.Reader over a byte slice used for Load,
// avoiding a dependency on bytes.Reader solely for symmetry with the
// writer side's hand-rolled crcWriter.
type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
