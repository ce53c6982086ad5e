// Package scheduler runs backup jobs on cron schedules until stopped.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stacksnap/snapferry/internal/backup"
	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/logging"
)

// Backuper is the part of the backup service a job needs.
type Backuper interface {
	Backup(ctx context.Context, opts backup.BackupOptions) (*backup.BackupResult, error)
}

// Scheduler runs one job at a time, so a retention sweep never overlaps
// another job's upload to the same directory.
type Scheduler struct {
	cron    *cron.Cron
	svc     Backuper
	cfg     *config.Config
	log     zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func New(svc Backuper, cfg *config.Config, log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cl := logging.CronLogger{L: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		svc:     svc,
		cfg:     cfg,
		log:     log,
		timeout: 12 * time.Hour,
		entries: map[string]cron.EntryID{},
	}
}

// Add schedules job. Jobs must already be validated by LoadJobs.
func (s *Scheduler) Add(job Job) error {
	id, err := s.cron.AddFunc(job.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.RunJob(ctx, job); err != nil {
			s.log.Error().Err(err).Str("job", job.Name).Msg("job failed")
		}
	})
	if err != nil {
		return err
	}
	s.entries[job.Name] = id
	return nil
}

// RunJob runs job immediately, waiting for any job already running.
func (s *Scheduler) RunJob(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info().Str("job", job.Name).Str("kind", string(job.Kind)).Msg("job started")
	res, err := s.svc.Backup(ctx, backup.BackupOptions{
		Kind:              job.Kind,
		DB:                job.DB,
		Folder:            job.Path,
		Mongo:             s.cfg.Mongo,
		MySQL:             s.cfg.MySQL,
		SingleTransaction: s.cfg.MySQL.SingleTransaction,
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("job", job.Name).Str("archive", res.Archive).Msg("job done")
	return nil
}

// Next reports when the named job runs next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	for name := range s.entries {
		if next, ok := s.Next(name); ok {
			s.log.Info().Str("job", name).Time("next", next).Msg("scheduled")
		}
	}
	<-ctx.Done()
	s.log.Info().Msg("stopping scheduler")
	<-s.cron.Stop().Done()
	return nil
}
