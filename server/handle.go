// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/ClusterCockpit/microredis-go/log"
	"github.com/ClusterCockpit/microredis-go/resp"
)

// handleConn is the per-connection read loop: read bytes, feed the
// parser, and hand each decoded frame to the dispatcher one at a time.
// This goroutine never touches storage, the pub/sub hub, or any other
// connection's state directly -- only through srv.Submit.
func (srv *Server) handleConn(ctx context.Context, c *Conn) {
	defer srv.dropConn(c)

	readBuf := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if srv.cfg.Timeout > 0 {
			c.netConn.SetReadDeadline(time.Now().Add(time.Duration(srv.cfg.Timeout) * time.Second))
		}
		n, err := c.reader.Read(readBuf)
		if n > 0 {
			c.parser.Feed(readBuf[:n])
			if !srv.drainFrames(c) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugf("conn %d: read error: %s", c.id, err.Error())
			}
			return
		}
	}
}

// drainFrames decodes and dispatches every complete frame currently
// buffered. Returns false if the connection must be closed (protocol
// error or QUIT).
func (srv *Server) drainFrames(c *Conn) bool {
	for {
		frame, ok, err := c.parser.Next()
		if err != nil {
			c.out.ErrorValue(err.(*resp.Error))
			c.flush()
			return false
		}
		if !ok {
			return true
		}
		if frame.Skip {
			continue
		}
		quit := false
		srv.Submit(func() {
			quit = srv.execute(c, frame)
		})
		if err := c.flush(); err != nil {
			return false
		}
		if quit {
			return false
		}
	}
}

// execute runs one frame to completion on the dispatcher goroutine,
// applying auth/size/rate middleware before handing off to the command
// table, and returns true if the connection should close (QUIT).
func (srv *Server) execute(c *Conn, frame resp.Frame) bool {
	name := frame.Name
	if name == "" {
		c.out.ErrorValue(resp.UnknownCommand(""))
		return false
	}

	if err := srv.checkMiddleware(c, name, frame.Args); err != nil {
		c.out.ErrorValue(err)
		return false
	}

	if c.inSubscribeMode() && !isSubscribeModeCommand(name) {
		c.out.ErrorValue(resp.Errorf(resp.PrefixErr,
			"Can't execute '%s': only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context",
			strings.ToLower(name)))
		return false
	}

	info, known := srv.table.Lookup(name)
	if !known {
		// Still must participate in a pending MULTI's dirty tracking.
		if c.txn.InMulti {
			c.txn.MarkDirty()
			c.out.ErrorValue(resp.UnknownCommand(strings.ToLower(name)))
			return false
		}
		c.out.ErrorValue(resp.UnknownCommand(strings.ToLower(name)))
		return false
	}
	if !info.CheckArity(len(frame.Args) + 1) {
		if c.txn.InMulti && name != "MULTI" && name != "EXEC" && name != "DISCARD" {
			c.txn.MarkDirty()
		}
		c.out.ErrorValue(resp.WrongArity(strings.ToLower(name)))
		return false
	}

	// Queue inside MULTI unless this is one of the transaction-control
	// commands themselves, which always run immediately.
	if c.txn.InMulti && name != "MULTI" && name != "EXEC" && name != "DISCARD" && name != "WATCH" {
		c.txn.Enqueue(name, frame.Args)
		c.out.Raw(resp.RespQueued)
		return false
	}

	handler := srv.handlers[name]
	if err := handler(srv, c, frame.Args); err != nil {
		if rerr, ok := err.(*resp.Error); ok {
			c.out.ErrorValue(rerr)
		} else {
			c.out.ErrorValue(resp.NewError(resp.PrefixErr, err.Error()))
		}
	}
	return name == "QUIT"
}

func isSubscribeModeCommand(name string) bool {
	switch name {
	case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT", "RESET":
		return true
	default:
		return false
	}
}

// checkMiddleware runs the connection middleware stack: AUTH gating,
// argument-size/count caps, and the optional per-address rate limiter.
func (srv *Server) checkMiddleware(c *Conn, name string, args [][]byte) *resp.Error {
	if srv.cfg.RequirePass != "" && !c.authenticated && name != "AUTH" && name != "PING" && name != "QUIT" {
		return resp.ErrNoAuth
	}
	if srv.cfg.MaxArgCount > 0 && len(args) > srv.cfg.MaxArgCount {
		return resp.NewError(resp.PrefixErr, "too many arguments")
	}
	for _, a := range args {
		if srv.cfg.MaxArgSize > 0 && len(a) > srv.cfg.MaxArgSize {
			return resp.NewError(resp.PrefixErr, "argument too large")
		}
	}
	if srv.cfg.RateLimitPerSecond > 0 {
		if !srv.allow(c) {
			return resp.NewError(resp.PrefixErr, "request rate limit exceeded")
		}
	}
	return nil
}

func (srv *Server) allow(c *Conn) bool {
	addr := c.netConn.RemoteAddr().String()
	srv.limitersMu.Lock()
	lim, ok := srv.limiters[addr]
	if !ok {
		lim = newLimiter(srv.cfg.RateLimitPerSecond)
		srv.limiters[addr] = lim
	}
	srv.limitersMu.Unlock()
	return lim.Allow()
}

// checkAuth compares a submitted password to the configured shared
// secret in constant time: this is a single shared-secret comparison,
// not a stored hash verification, so crypto/subtle is the right tool
// rather than bcrypt.
func checkAuth(configured, submitted string) bool {
	if len(configured) != len(submitted) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(submitted)) == 1
}
