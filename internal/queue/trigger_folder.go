// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
)

// FolderEnqueueFunc enqueues one Run for the last matching path observed
// during a debounce window.
type FolderEnqueueFunc func(path string) error

// FolderTrigger watches a directory and collapses bursts of create/modify
// events within debounce into a single enqueue carrying the last matching
// path (spec §4.H).
type FolderTrigger struct {
	watcher   *fsnotify.Watcher
	debounce  time.Duration
	enqueue   FolderEnqueueFunc
	log       logger.Logger
	mu        sync.Mutex
	pending   string
	timer     *time.Timer
	stopCh    chan struct{}
}

// NewFolderTrigger watches dir for create/write events, debouncing by
// debounceMs of quiet time before calling enqueue.
func NewFolderTrigger(dir string, debounceMs int, enqueue FolderEnqueueFunc) (*FolderTrigger, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	t := &FolderTrigger{
		watcher:  w,
		debounce: time.Duration(debounceMs) * time.Millisecond,
		enqueue:  enqueue,
		log:      logger.NewLogger("folder-trigger"),
		stopCh:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *FolderTrigger) run() {
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			t.schedule(ev.Name)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.log.Warnf("watcher error: %v", err)
		case <-t.stopCh:
			return
		}
	}
}

// schedule records path as the most recent match and (re)starts the
// debounce timer; only the last path in a burst survives (spec §4.H).
func (t *FolderTrigger) schedule(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = path
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.debounce, t.fire)
}

func (t *FolderTrigger) fire() {
	t.mu.Lock()
	path := t.pending
	t.pending = ""
	t.mu.Unlock()
	if path == "" {
		return
	}
	if err := t.enqueue(path); err != nil {
		t.log.Warnf("enqueue failed for %s: %v", path, err)
	}
}

func (t *FolderTrigger) Close() error {
	close(t.stopCh)
	return t.watcher.Close()
}
