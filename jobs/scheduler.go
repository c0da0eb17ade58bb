// Package jobs runs background tasks on a cron schedule.
package jobs

import (
	"fmt"

	"github.com/cufee/botto-feedback/config"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Counter - Reports open request list sizes
type Counter interface {
	OpenRequestCounts() (map[config.Channel]int, error)
}

// Scheduler - Owns the cron runner
type Scheduler struct {
	cron      *cron.Cron
	counter   Counter
	schedule  string
	threshold int
}

// NewScheduler - Prepare a scheduler, nothing runs until Start
func NewScheduler(cfg *config.Config, counter Counter) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		counter:   counter,
		schedule:  cfg.CapacityCheckSchedule,
		threshold: cfg.OpenRequestWarnThreshold,
	}
}

// Start - Register the jobs and start the runner
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.CheckCapacity() }); err != nil {
		return fmt.Errorf("bad capacity check schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	log.WithField("schedule", s.schedule).Info("scheduler started")
	return nil
}

// Stop - Wait for running jobs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("scheduler stopped")
}

// CheckCapacity - Log open request list sizes and return the channels over
// the warning threshold. Lists are never trimmed here.
func (s *Scheduler) CheckCapacity() []config.Channel {
	counts, err := s.counter.OpenRequestCounts()
	if err != nil {
		log.WithError(err).Error("[CRON] failed to count open requests")
		return nil
	}

	var over []config.Channel
	for c, n := range counts {
		logger := log.WithFields(log.Fields{"guild": c.GuildID, "channel": c.ChannelID, "open_requests": n})
		if s.threshold > 0 && n > s.threshold {
			logger.Warn("[CRON] open request list is growing, nothing expires unanswered requests")
			over = append(over, c)
			continue
		}
		logger.Debug("[CRON] open request list size")
	}
	return over
}
