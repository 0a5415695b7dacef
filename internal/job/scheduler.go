package job

import (
	"context"
	"time"

	"loyaltysystem/internal/config"
	"loyaltysystem/internal/service"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Maintainer is the part of the engine the scheduled jobs drive.
type Maintainer interface {
	ExpirePoints(ctx context.Context, now time.Time) (*service.ExpiryReport, error)
	AuditLedger(ctx context.Context) (*service.AuditReport, error)
}

// runTimeout bounds one scheduled run.
const runTimeout = 30 * time.Minute

// Scheduler runs the periodic ledger maintenance.
type Scheduler struct {
	cron   *cron.Cron
	engine Maintainer
	cfg    config.JobsConfig
}

func NewScheduler(engine Maintainer, cfg config.JobsConfig) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		engine: engine,
		cfg:    cfg,
	}
}

// Start registers the jobs with a non-empty schedule and starts the cron.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		schedule string
		run      func()
	}{
		{"expiry", s.cfg.ExpirySchedule, s.ExpirePoints},
		{"audit", s.cfg.AuditSchedule, s.AuditLedger},
	}
	for _, j := range jobs {
		if j.schedule == "" {
			log.WithField("job", j.name).Info("[Scheduler] job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(j.schedule, j.run); err != nil {
			return err
		}
		log.WithFields(log.Fields{"job": j.name, "schedule": j.schedule}).Info("[Scheduler] job scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop stops scheduling; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) ExpirePoints() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	report, err := s.engine.ExpirePoints(ctx, time.Time{})
	if err != nil {
		log.WithFields(log.Fields{"job": "expiry", "error": err}).Error("[Scheduler] expiry run failed")
		return
	}
	log.WithFields(log.Fields{
		"job":     "expiry",
		"expired": report.Expired,
		"points":  report.PointsExpired,
		"failed":  report.Failed,
	}).Info("[Scheduler] expiry run finished")
}

func (s *Scheduler) AuditLedger() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	report, err := s.engine.AuditLedger(ctx)
	if err != nil {
		log.WithFields(log.Fields{"job": "audit", "error": err}).Error("[Scheduler] audit run failed")
		return
	}
	entry := log.WithFields(log.Fields{
		"job":        "audit",
		"checked":    report.Checked,
		"mismatched": len(report.Mismatched),
		"failed":     report.Failed,
	})
	if len(report.Mismatched) > 0 {
		entry.WithField("accounts", report.Mismatched).Error("[Scheduler] ledger audit found mismatches")
		return
	}
	entry.Info("[Scheduler] ledger audit finished")
}
