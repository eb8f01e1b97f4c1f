// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resp

import "testing"

func TestParserArrayFrame(t *testing.T) {
	p := NewParser(0)
	p.Feed([]byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"))

	frame, ok, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if frame.Name != "SET" {
		t.Errorf("Name = %q, want SET", frame.Name)
	}
	if len(frame.Args) != 2 || string(frame.Args[0]) != "foo" || string(frame.Args[1]) != "bar" {
		t.Errorf("Args = %v, want [foo bar]", frame.Args)
	}
}

func TestParserPartialFeed(t *testing.T) {
	p := NewParser(0)
	p.Feed([]byte("*2\r\n$4\r\nPING"))

	_, ok, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error on partial input: %v", err)
	}
	if ok {
		t.Fatal("expected incomplete frame to report not-ok")
	}

	p.Feed([]byte("\r\n$2\r\nhi\r\n"))
	frame, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("expected complete frame after remaining bytes fed, got ok=%v err=%v", ok, err)
	}
	if frame.Name != "PING" || string(frame.Args[0]) != "hi" {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestParserInlineCommand(t *testing.T) {
	p := NewParser(0)
	p.Feed([]byte("PING hello\r\n"))
	frame, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if frame.Name != "PING" || string(frame.Args[0]) != "hello" {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestParserInlineQuoted(t *testing.T) {
	p := NewParser(0)
	p.Feed([]byte("SET key \"a b\\nc\"\r\n"))
	frame, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if string(frame.Args[1]) != "a b\nc" {
		t.Errorf("Args[1] = %q, want %q", frame.Args[1], "a b\nc")
	}
}

func TestParserEmptyArrayIsSkipped(t *testing.T) {
	p := NewParser(0)
	p.Feed([]byte("*0\r\n"))
	frame, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !frame.Skip {
		t.Error("expected Skip=true for an empty array")
	}
}

func TestParserRejectsNestedArray(t *testing.T) {
	p := NewParser(0)
	p.Feed([]byte("*1\r\n*1\r\n$3\r\nfoo\r\n"))
	_, _, err := p.Next()
	if err == nil {
		t.Fatal("expected a protocol error for a nested array command")
	}
}

func TestParserRejectsOversizedBulk(t *testing.T) {
	p := NewParser(0)
	p.Feed([]byte("*1\r\n$100000000\r\n"))
	_, _, err := p.Next()
	if err == nil {
		t.Fatal("expected a protocol error for an over-cap bulk length")
	}
}

func TestParserUnclosedInlineQuoteErrors(t *testing.T) {
	p := NewParser(0)
	p.Feed([]byte("SET \"unterminated\r\n"))
	_, _, err := p.Next()
	if err == nil {
		t.Fatal("expected a protocol error for an unclosed quote")
	}
}
