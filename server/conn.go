// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package server implements the connection handler, middleware stack,
// and single-dispatcher-goroutine scheduler, plus the Server aggregate
// that wires every other package together.
package server

import (
	"bufio"
	"net"
	"time"

	"github.com/ClusterCockpit/microredis-go/resp"
	"github.com/ClusterCockpit/microredis-go/txn"
)

const (
	readChunkSize = 4096
	idleTimeout   = 30 * time.Second
	writeTimeout  = 5 * time.Second
)

// Conn holds one client connection's state. Every field is read and
// written exclusively from inside dispatcher jobs (see dispatch.go) once
// the connection is registered, so Conn itself needs no locking.
type Conn struct {
	id      uint64
	netConn net.Conn
	reader  *bufio.Reader
	parser  *resp.Parser
	out     *resp.Writer

	authenticated bool
	name          string
	txn           *txn.State

	subChannels int // mirrors pubsub.Hub's per-subscriber count, for the "subscribe mode" restriction

	closed bool
}

func newConn(id uint64, nc net.Conn, parserBufCap int) *Conn {
	return &Conn{
		id:      id,
		netConn: nc,
		reader:  bufio.NewReaderSize(nc, readChunkSize),
		parser:  resp.NewParser(parserBufCap),
		out:     resp.NewWriter(),
		txn:     txn.NewState(),
	}
}

func (c *Conn) ID() uint64 { return c.id }

// DeliverMessage implements pubsub.Subscriber for a plain channel publish.
func (c *Conn) DeliverMessage(channel string, payload []byte) error {
	w := resp.NewWriter()
	w.ArrayHeader(3)
	w.BulkString("message")
	w.BulkString(channel)
	w.Bulk(payload)
	return c.writeNow(w.Bytes())
}

// DeliverPMessage implements pubsub.Subscriber for a pattern-matched publish.
func (c *Conn) DeliverPMessage(pattern, channel string, payload []byte) error {
	w := resp.NewWriter()
	w.ArrayHeader(4)
	w.BulkString("pmessage")
	w.BulkString(pattern)
	w.BulkString(channel)
	w.Bulk(payload)
	return c.writeNow(w.Bytes())
}

// writeNow writes straight to the socket. Safe to call from any
// dispatcher job (including one belonging to a different connection,
// such as a PUBLISH handler fanning out to subscribers) because all
// dispatcher jobs run strictly one at a time.
func (c *Conn) writeNow(b []byte) error {
	if c.closed {
		return nil
	}
	c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.netConn.Write(b)
	return err
}

// flush sends whatever the current command handler wrote to c.out and
// resets the buffer for the next command.
func (c *Conn) flush() error {
	if len(c.out.Bytes()) == 0 {
		return nil
	}
	err := c.writeNow(c.out.Bytes())
	c.out.Reset()
	return err
}

func (c *Conn) inSubscribeMode() bool { return c.subChannels > 0 }
