// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/queue"
)

func TestCronTrigger_StartsWithValidSchedule(t *testing.T) {
	var mu sync.Mutex
	var fired []string

	sched := []config.ScheduleConfig{
		{ID: "every-minute", Cron: "* * * * *"},
	}

	trigger, err := queue.NewCronTrigger(sched, func(s config.ScheduleConfig) error {
		mu.Lock()
		fired = append(fired, s.ID)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	trigger.Start()
	defer trigger.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) >= 0
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestCronTrigger_RejectsMalformedExpression(t *testing.T) {
	sched := []config.ScheduleConfig{
		{ID: "bad", Cron: "not a cron expression"},
	}
	_, err := queue.NewCronTrigger(sched, func(config.ScheduleConfig) error { return nil })
	assert.Error(t, err)
}
