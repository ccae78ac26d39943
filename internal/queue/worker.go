// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
)

// Handler processes one dequeued item (run). The Executor package supplies
// the concrete handler that turns an Item into a running plan.
type Handler func(ctx context.Context, item *Item) error

// Pool runs one queue's items with at most maxConcurrent handlers active
// at once, using golang.org/x/sync/errgroup for goroutine supervision plus
// a counting semaphore for the concurrency cap errgroup itself does not
// provide.
type Pool struct {
	queue         *Queue
	maxConcurrent int
	handler       Handler
	log           logger.Logger
}

func NewPool(q *Queue, maxConcurrent int, handler Handler) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pool{queue: q, maxConcurrent: maxConcurrent, handler: handler, log: logger.NewLogger("queue-pool-" + q.Name())}
}

// Run drains q until ctx is cancelled, never running more than
// maxConcurrent handlers concurrently (spec §4.H / testable property 8).
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.maxConcurrent)

drain:
	for {
		item, err := p.queue.Dequeue(gctx)
		if err != nil {
			break drain
		}

		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			break drain
		}

		it := item
		g.Go(func() error {
			defer func() { <-sem }()
			if err := p.handler(gctx, it); err != nil {
				p.log.WithField("run_id", it.RunID).Warnf("handler error: %v", err)
			}
			return nil
		})
	}

	return g.Wait()
}
