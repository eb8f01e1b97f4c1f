// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/ClusterCockpit/microredis-go/config"
)

// startTestServer boots a Server on loopback with a fresh temp snapshot
// dir and returns a dialer plus a cleanup func. Each test gets its own
// OS-assigned port so tests can run in parallel without colliding.
func startTestServer(t *testing.T) func() net.Conn {
	t.Helper()
	cfg := config.Defaults()
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0
	cfg.Dir = t.TempDir()
	cfg.SaveIntervalSeconds = 0

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not reserve a port: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	cfg.Port = addr.Port
	ln.Close()

	srv := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})

	dial := func() net.Conn {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			c, err := net.Dial("tcp", addr.String())
			if err == nil {
				return c
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("could not connect to %s", addr.String())
		return nil
	}
	return dial
}

func sendAndRead(t *testing.T, conn net.Conn, req string) string {
	t.Helper()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return line
}

func TestPingPongOverTheWire(t *testing.T) {
	dial := startTestServer(t)
	conn := dial()
	defer conn.Close()

	got := sendAndRead(t, conn, "PING\r\n")
	if got != "+PONG\r\n" {
		t.Errorf("got %q, want +PONG\\r\\n", got)
	}
}

func TestSetGetOverTheWire(t *testing.T) {
	dial := startTestServer(t)
	conn := dial()
	defer conn.Close()

	if got := sendAndRead(t, conn, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"); got != "+OK\r\n" {
		t.Fatalf("SET reply = %q", got)
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	conn.Write([]byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"))
	r := bufio.NewReader(conn)
	header, _ := r.ReadString('\n')
	if header != "$3\r\n" {
		t.Fatalf("GET bulk header = %q", header)
	}
	body, _ := r.ReadString('\n')
	if body != "bar\r\n" {
		t.Fatalf("GET body = %q", body)
	}
}

func TestWrongTypeOverTheWire(t *testing.T) {
	dial := startTestServer(t)
	conn := dial()
	defer conn.Close()

	sendAndRead(t, conn, "*3\r\n$5\r\nLPUSH\r\n$1\r\nk\r\n$1\r\nv\r\n")
	got := sendAndRead(t, conn, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")
	if got[0] != '-' {
		t.Fatalf("expected an error reply for GET on a list key, got %q", got)
	}
}

func TestMultiExecOverTheWire(t *testing.T) {
	dial := startTestServer(t)
	conn := dial()
	defer conn.Close()

	if got := sendAndRead(t, conn, "MULTI\r\n"); got != "+OK\r\n" {
		t.Fatalf("MULTI reply = %q", got)
	}
	if got := sendAndRead(t, conn, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"); got != "+QUEUED\r\n" {
		t.Fatalf("queued SET reply = %q", got)
	}
	// EXEC's array header and the queued reply arrive in one write, so
	// both lines are read through the same buffered reader.
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	conn.Write([]byte("EXEC\r\n"))
	r := bufio.NewReader(conn)
	if got, _ := r.ReadString('\n'); got != "*1\r\n" {
		t.Fatalf("EXEC array header = %q", got)
	}
	if got, _ := r.ReadString('\n'); got != "+OK\r\n" {
		t.Fatalf("queued command reply = %q", got)
	}
}
