// Package cron runs scheduled jobs: one-shot reminders, fixed
// intervals, and cron-expression schedules. Jobs persist as a single
// JSON document so the user can inspect and edit them, and survive
// restarts.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cronparser "github.com/robfig/cron/v3"

	"github.com/nugget/nova-agent/internal/paths"
	"github.com/nugget/nova-agent/internal/store"
)

// Schedule kinds.
const (
	KindOnce     = "once"     // fire one time at At, then remove
	KindInterval = "interval" // fire every EverySec seconds
	KindCron     = "cron"     // fire per a standard 5-field cron expression
)

// onceWindow is how close to its At time a one-shot job must be to
// fire. Jobs whose window passed while the service was down fire on
// the next tick instead of being lost.
const onceWindow = time.Minute

// Job is one scheduled task. When it fires, Message is delivered as if
// the named channel had sent it, so the agent handles it with full
// context and tools. Jobs with Deliver set skip the agent and send
// Message straight to the channel instead.
type Job struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Message      string `json:"message"`
	ScheduleType string `json:"schedule_type"` // once, interval, cron
	At           string `json:"at,omitempty"`  // RFC3339, for once
	EverySec     int64  `json:"every_sec,omitempty"`
	Expr         string `json:"expr,omitempty"` // cron expression
	Channel      string `json:"channel,omitempty"`
	ChatID       string `json:"chat_id,omitempty"`
	Deliver      bool   `json:"deliver,omitempty"`
	CreatedAt    string `json:"created_at"`
	LastRun      string `json:"last_run,omitempty"`
	RunCount     int    `json:"run_count"`
}

// jobsDoc is the on-disk document.
type jobsDoc struct {
	Jobs []Job `json:"jobs"`
}

// FireFunc receives a due job.
type FireFunc func(ctx context.Context, job Job)

// Service checks for due jobs on a fixed interval.
type Service struct {
	logger   *slog.Logger
	ws       *paths.Workspace
	fire     FireFunc
	interval time.Duration
	parser   cronparser.Parser

	mu   sync.Mutex
	jobs []Job

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cron service. Existing jobs are loaded from the
// workspace; a missing or corrupt file starts empty.
func NewService(logger *slog.Logger, ws *paths.Workspace, checkInterval time.Duration, fire FireFunc) *Service {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	s := &Service{
		logger:   logger.With("component", "cron"),
		ws:       ws,
		fire:     fire,
		interval: checkInterval,
		parser:   cronparser.NewParser(cronparser.Minute | cronparser.Hour | cronparser.Dom | cronparser.Month | cronparser.Dow),
	}

	var doc jobsDoc
	store.ReadJSON(ws.CronJobsFile(), &doc)
	s.jobs = doc.Jobs
	return s
}

// Add validates and persists a new job, returning its ID.
func (s *Service) Add(job Job) (string, error) {
	switch job.ScheduleType {
	case KindOnce:
		if _, err := time.Parse(time.RFC3339, job.At); err != nil {
			return "", fmt.Errorf("once job needs an RFC3339 'at' time: %w", err)
		}
	case KindInterval:
		if job.EverySec <= 0 {
			return "", fmt.Errorf("interval job needs every_sec > 0")
		}
	case KindCron:
		if _, err := s.parser.Parse(job.Expr); err != nil {
			return "", fmt.Errorf("invalid cron expression %q: %w", job.Expr, err)
		}
	default:
		return "", fmt.Errorf("unknown schedule type %q", job.ScheduleType)
	}
	if strings.TrimSpace(job.Message) == "" {
		return "", fmt.Errorf("job needs a message")
	}

	job.ID = newJobID()
	job.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if err := s.saveLocked(); err != nil {
		s.jobs = s.jobs[:len(s.jobs)-1]
		return "", err
	}
	s.logger.Info("cron job added", "id", job.ID, "name", job.Name, "type", job.ScheduleType)
	return job.ID, nil
}

// Remove deletes a job by ID.
func (s *Service) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, j := range s.jobs {
		if j.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true, s.saveLocked()
		}
	}
	return false, nil
}

// List returns a copy of all jobs.
func (s *Service) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Start launches the checker loop.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("cron service started", "interval", s.interval, "jobs", len(s.List()))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("cron service stopped")
				return
			case now := <-ticker.C:
				s.check(ctx, now)
			}
		}
	}()
}

// Stop halts the checker and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// check fires every due job and persists updated run state.
func (s *Service) check(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []Job
	var keep []Job
	changed := false

	for _, job := range s.jobs {
		fire, remove := s.evaluate(job, now)
		if fire {
			job.LastRun = now.UTC().Format(time.RFC3339)
			job.RunCount++
			due = append(due, job)
			changed = true
		}
		if !remove {
			keep = append(keep, job)
		} else {
			changed = true
		}
	}
	s.jobs = keep
	if changed {
		if err := s.saveLocked(); err != nil {
			s.logger.Error("persist cron jobs", "error", err)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.logger.Info("cron job firing", "id", job.ID, "name", job.Name)
		s.fire(ctx, job)
	}
}

// evaluate decides whether a job fires now and whether it should be
// removed afterward.
func (s *Service) evaluate(job Job, now time.Time) (fire, remove bool) {
	switch job.ScheduleType {
	case KindOnce:
		at, err := time.Parse(time.RFC3339, job.At)
		if err != nil {
			return false, true
		}
		if now.After(at.Add(-onceWindow)) {
			return true, true
		}
		return false, false

	case KindInterval:
		last := job.CreatedAt
		if job.LastRun != "" {
			last = job.LastRun
		}
		lastT, err := time.Parse(time.RFC3339, last)
		if err != nil {
			return false, true
		}
		return now.Sub(lastT) >= time.Duration(job.EverySec)*time.Second, false

	case KindCron:
		sched, err := s.parser.Parse(job.Expr)
		if err != nil {
			return false, true
		}
		ref := now.Add(-s.interval)
		if job.LastRun != "" {
			if lastT, err := time.Parse(time.RFC3339, job.LastRun); err == nil && lastT.After(ref) {
				ref = lastT
			}
		}
		next := sched.Next(ref)
		return !next.After(now), false
	}
	return false, true
}

func (s *Service) saveLocked() error {
	return store.WriteJSON(s.ws.CronJobsFile(), jobsDoc{Jobs: s.jobs})
}

func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "job-" + id.String()
}
