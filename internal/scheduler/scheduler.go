// Package scheduler maintains one periodic monitoring job per endpoint and
// synchronizes that job set against the endpoint repository.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/finopsmind/backend/internal/pipeline"
	"github.com/finopsmind/backend/internal/repository"
)

// Config tunes the scheduler's concurrency cap.
type Config struct {
	Enabled        bool
	MaxConcurrent  int64
}

// DefaultConfig mirrors the reference scheduler's cap.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxConcurrent: 5}
}

type monitorJob struct {
	endpointID uuid.UUID
	tenantID   uuid.UUID
	name       string
	interval   int
	entryID    cron.EntryID
}

// SyncResult reports what the last sync changed.
type SyncResult struct {
	Added   int
	Updated int
	Removed int
	Total   int
}

// Scheduler is a process-wide singleton: Start it once before accepting
// traffic, call SyncJobs after and whenever endpoints change, Stop or
// StopGraceful on shutdown.
type Scheduler struct {
	cfg          Config
	cron         *cron.Cron
	endpoints    repository.EndpointRepository
	orchestrator *pipeline.Orchestrator
	logger       *slog.Logger
	sem          *semaphore.Weighted

	mu        sync.Mutex
	jobs      map[string]*monitorJob
	startedAt time.Time
	running   bool
}

// New constructs a Scheduler without starting it.
func New(cfg Config, endpoints repository.EndpointRepository, orchestrator *pipeline.Orchestrator, logger *slog.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &Scheduler{
		cfg:          cfg,
		endpoints:    endpoints,
		orchestrator: orchestrator,
		logger:       logger,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrent),
		jobs:         make(map[string]*monitorJob),
	}
}

// Start creates and starts the underlying cron engine. Idempotent. No-op if
// the scheduler is disabled.
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("scheduler already started, skipping")
		return
	}

	// SkipIfStillRunning gives every monitor job its own independent
	// running flag (a fresh closure per AddFunc call), so a slow
	// endpoint's next tick is skipped rather than overlapping its own
	// in-flight run. robfig/cron's fixed "@every" schedule never queues
	// up missed firings either, so coalescing and the 60s misfire grace
	// the reference scheduler configures explicitly fall out of these
	// two properties for free.
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	s.cron.Start()
	s.running = true
	s.startedAt = time.Now().UTC()
	s.logger.Info("scheduler started", "max_concurrent", s.cfg.MaxConcurrent)
}

// Stop cancels pending firings immediately. In-flight ticks run to
// completion or are abandoned; no cross-process guarantee.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.jobs = make(map[string]*monitorJob)
	s.logger.Info("scheduler stopped")
}

// StopGraceful cancels pending firings and waits for in-flight ticks to
// drain, bounded by ctx.
func (s *Scheduler) StopGraceful(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCtx := s.cron.Stop()
	s.running = false
	s.jobs = make(map[string]*monitorJob)
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	if err := s.sem.Acquire(ctx, s.cfg.MaxConcurrent); err == nil {
		s.sem.Release(s.cfg.MaxConcurrent)
	}
	s.logger.Info("scheduler stopped gracefully")
}

// SyncJobs diffs the endpoint repository against the current job set: jobs
// for vanished endpoints are removed, jobs with a changed interval are
// rescheduled, and jobs for new endpoints are added.
func (s *Scheduler) SyncJobs(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return SyncResult{}, fmt.Errorf("scheduler is not running")
	}
	s.mu.Unlock()

	endpoints, err := s.endpoints.ListAll(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	desired := make(map[string]*monitorJob, len(endpoints))
	for _, ep := range endpoints {
		jobID := jobIDFor(ep.ID)
		desired[jobID] = &monitorJob{
			endpointID: ep.ID,
			tenantID:   ep.TenantID,
			name:       ep.Name,
			interval:   ep.IntervalSecs,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := SyncResult{Total: len(desired)}

	for jobID, existing := range s.jobs {
		if _, ok := desired[jobID]; !ok {
			s.cron.Remove(existing.entryID)
			delete(s.jobs, jobID)
			result.Removed++
			s.logger.Info("removed job", "job_id", jobID, "reason", "endpoint deleted")
		}
	}

	for jobID, want := range desired {
		existing, ok := s.jobs[jobID]
		if ok {
			if existing.interval != want.interval {
				s.cron.Remove(existing.entryID)
				entryID, err := s.addCronEntry(ctx, want)
				if err != nil {
					s.logger.Error("failed to reschedule job", "job_id", jobID, "error", err)
					continue
				}
				want.entryID = entryID
				s.jobs[jobID] = want
				result.Updated++
				s.logger.Info("updated job", "job_id", jobID, "old_interval", existing.interval, "new_interval", want.interval)
			}
			continue
		}

		entryID, err := s.addCronEntry(ctx, want)
		if err != nil {
			s.logger.Error("failed to add job", "job_id", jobID, "error", err)
			continue
		}
		want.entryID = entryID
		s.jobs[jobID] = want
		result.Added++
		s.logger.Info("added job", "job_id", jobID, "name", want.name, "interval_seconds", want.interval)
	}

	return result, nil
}

func (s *Scheduler) addCronEntry(_ context.Context, job *monitorJob) (cron.EntryID, error) {
	spec := fmt.Sprintf("@every %ds", job.interval)
	return s.cron.AddFunc(spec, func() {
		s.tick(job.endpointID, job.tenantID)
	})
}

// tick runs one pipeline invocation for an endpoint. It never propagates a
// panic or error; every failure is logged and the job continues on its next
// interval.
func (s *Scheduler) tick(endpointID, tenantID uuid.UUID) {
	if !s.sem.TryAcquire(1) {
		s.logger.Warn("tick skipped: concurrency cap reached", "endpoint_id", endpointID)
		return
	}
	defer s.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick panicked", "endpoint_id", endpointID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := s.orchestrator.Run(ctx, endpointID, tenantID); err != nil {
		s.logger.Error("tick failed", "endpoint_id", endpointID, "error", err)
	}
}

// Status reports a snapshot for the management API.
type Status struct {
	Running   bool
	Enabled   bool
	StartedAt *time.Time
	JobCount  int
	Jobs      []JobStatus
}

// JobStatus describes one scheduled job.
type JobStatus struct {
	ID             string
	Name           string
	IntervalSecs   int
	NextRun        *time.Time
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return Status{Running: false, Enabled: s.cfg.Enabled}
	}

	entries := make(map[cron.EntryID]cron.Entry)
	for _, e := range s.cron.Entries() {
		entries[e.ID] = e
	}

	jobs := make([]JobStatus, 0, len(s.jobs))
	for jobID, job := range s.jobs {
		js := JobStatus{ID: jobID, Name: job.name, IntervalSecs: job.interval}
		if e, ok := entries[job.entryID]; ok && !e.Next.IsZero() {
			next := e.Next
			js.NextRun = &next
		}
		jobs = append(jobs, js)
	}

	started := s.startedAt
	return Status{
		Running:   true,
		Enabled:   s.cfg.Enabled,
		StartedAt: &started,
		JobCount:  len(jobs),
		Jobs:      jobs,
	}
}

func jobIDFor(endpointID uuid.UUID) string {
	return "monitor_" + endpointID.String()
}

// cronLogger adapts *slog.Logger to cron.Logger so SkipIfStillRunning's
// skip notices land in the same structured log stream as the rest of the
// scheduler.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Info(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
