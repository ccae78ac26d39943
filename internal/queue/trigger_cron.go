// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"github.com/robfig/cron/v3"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
)

// EnqueueFunc creates one Run for a named template and pushes it onto its
// configured queue; the Executor/orchestrator package supplies the
// concrete implementation (plan load, validate, manifest, policy, store).
type EnqueueFunc func(sched config.ScheduleConfig) error

// CronTrigger fires one Run per configured schedule entry (spec §4.H:
// "5-field crontab with timezone").
type CronTrigger struct {
	cron *cron.Cron
	log  logger.Logger
}

// NewCronTrigger builds a CronTrigger that invokes enqueue for every entry
// in schedules whose cron expression parses.
func NewCronTrigger(schedules []config.ScheduleConfig, enqueue EnqueueFunc) (*CronTrigger, error) {
	t := &CronTrigger{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		log: logger.NewLogger("cron-trigger"),
	}
	for _, sched := range schedules {
		sched := sched
		if _, err := t.cron.AddFunc(sched.Cron, func() {
			if err := enqueue(sched); err != nil {
				t.log.WithField("schedule_id", sched.ID).Errorf("enqueue failed: %v", err)
			}
		}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *CronTrigger) Start() { t.cron.Start() }
func (t *CronTrigger) Stop()  { t.cron.Stop() }
