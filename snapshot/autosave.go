// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package snapshot

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/microredis-go/log"
	"github.com/ClusterCockpit/microredis-go/storage"
)

// Source is the subset of storage.Storage the auto-save job needs.
type Source interface {
	ExportEntries() []storage.Entry
	ChangesSinceSave() uint64
	ResetChangesSinceSave()
}

// AutoSaver wraps a gocron.Scheduler for periodic housekeeping, checking
// the min_changes gate on every tick rather than encoding the gate into
// the cron schedule itself. It has no save_interval gate: a tick saves
// whenever min_changes is reached, however recently the last save ran.
type AutoSaver struct {
	sched        gocron.Scheduler
	dir          string
	filename     string
	minChanges   int
	lastSaveUnix int64
}

func NewAutoSaver(dir, filename string, minChanges int) (*AutoSaver, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &AutoSaver{sched: sched, dir: dir, filename: filename, minChanges: minChanges}, nil
}

// Start schedules a check every minute. submit runs a closure on the
// dispatcher goroutine and blocks until it's done, the same handoff the
// expiry sampler uses.
func (a *AutoSaver) Start(src Source, submit func(func())) error {
	_, err := a.sched.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			var entries []storage.Entry
			var changes uint64
			submit(func() {
				changes = src.ChangesSinceSave()
				if changes < uint64(a.minChanges) {
					return
				}
				entries = src.ExportEntries()
			})
			if entries == nil {
				return
			}
			if err := SaveSync(a.dir, a.filename, entries); err != nil {
				log.Errorf("autosave: %s", err.Error())
				return
			}
			submit(func() { src.ResetChangesSinceSave() })
			a.lastSaveUnix = time.Now().Unix()
			log.Infof("autosave: wrote %d keys (%d changes since last save)", len(entries), changes)
		}),
	)
	if err != nil {
		return err
	}
	a.sched.Start()
	return nil
}

func (a *AutoSaver) Stop(ctx context.Context) error {
	return a.sched.Shutdown()
}

// SaveSync runs a whole snapshot write to completion without yielding.
// Used by the auto-save job (which already runs off the dispatcher
// goroutine, in its own gocron-managed goroutine) and by the SAVE command,
// which runs it inside one dispatcher job: other connections' commands
// wait until that save has finished.
func SaveSync(dir, filename string, entries []storage.Entry) error {
	w := NewWriter(dir, filename)
	if err := w.Begin(entries); err != nil {
		w.Abort()
		return err
	}
	for {
		done, err := w.WriteChunk()
		if err != nil {
			w.Abort()
			return err
		}
		if done {
			break
		}
	}
	return w.Finish()
}
