// Package scheduler runs the gateway's periodic maintenance jobs: the
// F8 duplicate-address sweep, the store retention sweep, and a health
// snapshot log line. Jobs are grouped under one gocron scheduler
// instance owned by this package's Scheduler value rather than a
// package-level global, so a process running several gateway instances
// (tests, multi-tenant embedding) never shares state between them.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/gasmesh/gateway/internal/config"
	"github.com/gasmesh/gateway/internal/health"
	"github.com/gasmesh/gateway/internal/sensor"
	"github.com/gasmesh/gateway/internal/store"
	"github.com/gasmesh/gateway/pkg/log"
)

// Scheduler owns the gocron scheduler and every registered maintenance
// job.
type Scheduler struct {
	cron gocron.Scheduler
}

// New builds a Scheduler and registers every job cfg enables. Cron
// expressions follow the standard 5-field (no-seconds) grammar, matching
// the config file convention documented for ScheduleConfig.
func New(cfg config.ScheduleConfig, reader *store.Reader, writer *store.Writer, metrics *health.Registry, retention time.Duration) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: creating gocron scheduler: %w", err)
	}
	s := &Scheduler{cron: cron}

	if cfg.DuplicateAddressSweepCron != "" {
		if err := s.registerDuplicateAddressSweep(cfg.DuplicateAddressSweepCron, reader, writer, metrics); err != nil {
			return nil, err
		}
	}
	if cfg.RetentionSweepCron != "" && retention > 0 {
		if err := s.registerRetentionSweep(cfg.RetentionSweepCron, reader, retention); err != nil {
			return nil, err
		}
	}
	if cfg.HealthSnapshotCron != "" {
		if err := s.registerHealthSnapshot(cfg.HealthSnapshotCron, reader); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() { s.cron.Start() }

// Shutdown stops the scheduler, waiting for any in-flight job run to
// finish.
func (s *Scheduler) Shutdown() error { return s.cron.Shutdown() }

// registerDuplicateAddressSweep runs the F8 detector: find transmitter
// addresses seen on more than one channel in the last hour, and
// synthesize a FaultEvent for every (link, channel) witness.
func (s *Scheduler) registerDuplicateAddressSweep(cron string, reader *store.Reader, writer *store.Writer, metrics *health.Registry) error {
	_, err := s.cron.NewJob(
		gocron.CronJob(cron, false),
		gocron.NewTask(func() {
			hits, err := reader.DuplicateAddressLinks(time.Hour)
			if err != nil {
				log.Errorf("scheduler: duplicate-address sweep query failed: %s", err.Error())
				return
			}
			now := time.Now()
			for _, hit := range hits {
				writer.PutFaultEvent(hit.LinkID, hit.Channel, sensor.FaultDuplicateAddress, now)
			}
			if len(hits) > 0 {
				log.Warnf("scheduler: duplicate-address sweep found %d link/channel witnesses", len(hits))
			}
			_ = metrics
		}),
	)
	if err != nil {
		return fmt.Errorf("scheduler: registering duplicate-address sweep: %w", err)
	}
	return nil
}

// registerRetentionSweep deletes samples, matches, and fault events
// older than the configured retention window.
func (s *Scheduler) registerRetentionSweep(cron string, reader *store.Reader, retention time.Duration) error {
	_, err := s.cron.NewJob(
		gocron.CronJob(cron, false),
		gocron.NewTask(func() {
			cutoff := time.Now().Add(-retention)
			if err := reader.DeleteOlderThan(cutoff); err != nil {
				log.Errorf("scheduler: retention sweep failed: %s", err.Error())
				return
			}
			log.Infof("scheduler: retention sweep removed records older than %s", cutoff.Format(time.RFC3339))
		}),
	)
	if err != nil {
		return fmt.Errorf("scheduler: registering retention sweep: %w", err)
	}
	return nil
}

// registerHealthSnapshot logs a per-link traffic summary, giving an
// operator tailing logs the same at-a-glance view the Prometheus
// gauges provide without needing a scrape.
func (s *Scheduler) registerHealthSnapshot(cron string, reader *store.Reader) error {
	_, err := s.cron.NewJob(
		gocron.CronJob(cron, false),
		gocron.NewTask(func() {
			aggs, err := reader.LinkAggregates(time.Hour)
			if err != nil {
				log.Errorf("scheduler: health snapshot query failed: %s", err.Error())
				return
			}
			for _, a := range aggs {
				log.Infof("scheduler: link %s: %d packets, %d channels, mean RSSI %.1f, %d faults (last hour)",
					a.LinkID, a.PacketCount, a.DistinctChannels, a.MeanRSSI, a.FaultCount)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("scheduler: registering health snapshot: %w", err)
	}
	return nil
}
