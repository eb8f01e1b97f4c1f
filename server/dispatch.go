// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/microredis-go/config"
	"github.com/ClusterCockpit/microredis-go/expiry"
	"github.com/ClusterCockpit/microredis-go/log"
	"github.com/ClusterCockpit/microredis-go/pubsub"
	"github.com/ClusterCockpit/microredis-go/router"
	"github.com/ClusterCockpit/microredis-go/snapshot"
	"github.com/ClusterCockpit/microredis-go/storage"
)

const memoryMonitorInterval = time.Second

// runMemoryMonitor periodically re-checks the maxmemory budget, catching
// growth from in-place mutations that don't pass through the write-time
// admission check (APPEND, SETRANGE, and collection growth on an
// existing key never create a new key, so admit never sees them).
func (srv *Server) runMemoryMonitor(ctx context.Context, wg *sync.WaitGroup) {
	if srv.cfg.MaxMemory <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(memoryMonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var n int
				srv.Submit(func() { n = srv.storage.EnforceMemoryBudget() })
				if n > 0 {
					log.Debugf("memory monitor: evicted %d key(s) over maxmemory budget", n)
				}
			}
		}
	}()
}

// HandlerFunc executes one command's effect and writes its RESP reply
// into c.out. A non-nil error is translated into a RESP error reply by
// the dispatcher; the handler itself only needs to write a reply for the
// success path.
type HandlerFunc func(srv *Server, c *Conn, args [][]byte) error

// Server wires every subsystem together and owns the single dispatcher
// goroutine all of them funnel through, giving MULTI/EXEC its atomicity
// without any locking.
type Server struct {
	cfg      config.Config
	storage  *storage.Storage
	hub      *pubsub.Hub
	expiryEg *expiry.Engine
	auto     *snapshot.AutoSaver
	table    *router.Table
	handlers map[string]HandlerFunc

	jobs    chan func()
	nextID  uint64
	connsMu sync.Mutex
	conns   map[uint64]*Conn

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

func New(cfg config.Config) *Server {
	st := storage.New(cfg.MaxKeys)
	st.SetMemoryBudget(cfg.MaxMemory, cfg.MaxMemoryPolicy)
	srv := &Server{
		cfg:      cfg,
		storage:  st,
		hub:      pubsub.NewHub(),
		expiryEg: expiry.New(),
		table:    router.NewTable(),
		handlers: make(map[string]HandlerFunc),
		jobs:     make(chan func(), 64),
		conns:    make(map[uint64]*Conn),
		limiters: make(map[string]*rate.Limiter),
	}
	srv.registerCommands()
	return srv
}

// Submit schedules f to run on the dispatcher goroutine and blocks until
// it finishes. Every mutation of storage, the pub/sub hub, or any
// connection's txn state goes through this, which is what makes the
// server's concurrency model "single-threaded cooperative" despite
// having one goroutine per connection plus background loops.
func (srv *Server) Submit(f func()) {
	done := make(chan struct{})
	srv.jobs <- func() {
		f()
		close(done)
	}
	<-done
}

// Run starts the dispatcher goroutine, the background loops, and accepts
// connections until ctx is canceled.
func (srv *Server) Run(ctx context.Context) error {
	if srv.cfg.Dir != "" {
		if entries, err := snapshot.Load(srv.snapshotPath()); err == nil {
			if ierr := srv.storage.ImportEntries(entries); ierr != nil {
				log.Errorf("snapshot: could not import %s: %s", srv.snapshotPath(), ierr.Error())
			} else {
				log.Infof("loaded snapshot with %d keys from %s", len(entries), srv.snapshotPath())
			}
		} else {
			log.Infof("no usable snapshot at %s (%s); starting empty", srv.snapshotPath(), err.Error())
		}
	}
	srv.expiryEg.Seed(srv.storage.ExpireDeadlines())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case job := <-srv.jobs:
				job()
			case <-ctx.Done():
				return
			}
		}
	}()

	srv.expiryEg.Run(ctx, &wg, srv.storage, srv.Submit)
	srv.runMemoryMonitor(ctx, &wg)

	if srv.cfg.SaveIntervalSeconds > 0 {
		auto, err := snapshot.NewAutoSaver(srv.cfg.Dir, srv.cfg.DBFilename, srv.cfg.MinChanges)
		if err != nil {
			log.Errorf("autosave: could not start scheduler: %s", err.Error())
		} else {
			srv.auto = auto
			if err := auto.Start(srv.storage, srv.Submit); err != nil {
				log.Errorf("autosave: could not schedule job: %s", err.Error())
			}
		}
	}

	addr := fmt.Sprintf("%s:%d", srv.cfg.Bind, srv.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Infof("listening on %s", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			default:
				log.Warnf("accept: %s", err.Error())
				continue
			}
		}
		srv.nextID++
		id := srv.nextID
		if srv.atCapacity() {
			nc.Write([]byte("-ERR max number of clients reached\r\n"))
			nc.Close()
			continue
		}
		c := newConn(id, nc, srv.cfg.ParserBufCap)
		srv.connsMu.Lock()
		srv.conns[id] = c
		srv.connsMu.Unlock()
		go srv.handleConn(ctx, c)
	}
}

func (srv *Server) atCapacity() bool {
	srv.connsMu.Lock()
	defer srv.connsMu.Unlock()
	return srv.cfg.MaxClients > 0 && len(srv.conns) >= srv.cfg.MaxClients
}

func (srv *Server) snapshotPath() string {
	return srv.cfg.Dir + "/" + srv.cfg.DBFilename
}

// newLimiter builds a token-bucket limiter sized for perSecond requests,
// with a one-second burst allowance so a client isn't punished for a
// momentary burst within its budget.
func newLimiter(perSecond int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

func (srv *Server) dropConn(c *Conn) {
	srv.connsMu.Lock()
	delete(srv.conns, c.id)
	srv.connsMu.Unlock()
	srv.Submit(func() {
		srv.hub.UnsubscribeAll(c)
	})
	c.closed = true
	c.netConn.Close()
}
