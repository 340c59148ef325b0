// Package jobmanager owns the in-memory job registry, the bounded FIFO
// queue, the worker pool, the status/ETA estimator, and the TTL reaper
// (§4.4). This is where the concurrency and scheduling live.
package jobmanager

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/exercisejudge/judge/internal/domain"
	"github.com/exercisejudge/judge/internal/observability"
)

const (
	workerWaitTimeout  = time.Second
	reaperInterval     = 300 * time.Second
	durationWindowSize = 20
	defaultAvgDuration = 3000 * time.Millisecond
)

// Executor is the capability the Job Manager dispatches work to. It is
// satisfied by *runner.Runner; the Job Manager depends on this narrow
// interface rather than the concrete type.
type Executor interface {
	Execute(ctx domain.Context, taskID, code string, mode domain.Mode) (domain.JobResult, error)
}

// shutdownToken is sent on the wakeup channel to signal a worker to exit.
// It is distinguishable from any real job id because job ids are ULIDs,
// which are never the empty string.
const shutdownToken = ""

// Manager implements the Job Manager component (§4.4).
type Manager struct {
	maxWorkers int
	maxQueue   int
	jobTTL     time.Duration

	runner Executor
	logger *slog.Logger

	mu              sync.Mutex
	jobs            map[string]*domain.Job
	queuedOrder     []string
	recentDurations []time.Duration

	wakeup chan string

	running bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// New constructs a Manager. runner is the constructor-injected execution
// capability (§9: the Runner never references the Manager). Start must be
// called before jobs are dispatched.
func New(runner Executor, maxWorkers, maxQueue int, jobTTL time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		maxWorkers: maxWorkers,
		maxQueue:   maxQueue,
		jobTTL:     jobTTL,
		runner:     runner,
		logger:     logger,
		jobs:       make(map[string]*domain.Job),
		wakeup:     make(chan string, maxQueue+maxWorkers),
	}
}

// Start spawns max_workers worker goroutines and one reaper goroutine.
// Idempotent: a second call on an already-running Manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	for i := 0; i < m.maxWorkers; i++ {
		m.wg.Add(1)
		go m.workerLoop(i)
	}
	m.wg.Add(1)
	go m.reaperLoop()
}

// Stop signals shutdown and waits for all workers and the reaper to exit.
// In-flight jobs are allowed to complete; queued-but-undispatched jobs are
// not auto-cancelled.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	for i := 0; i < m.maxWorkers; i++ {
		m.wakeup <- shutdownToken
	}
	m.wg.Wait()
}

// Submit implements admission (§4.4.1).
func (m *Manager) Submit(taskID, code string, mode domain.Mode) (string, error) {
	m.mu.Lock()
	if len(m.queuedOrder) >= m.maxQueue {
		m.mu.Unlock()
		return "", fmt.Errorf("%w", domain.ErrQueueFull)
	}

	jobID := ulid.Make().String()
	job := &domain.Job{
		ID: jobID,
		Request: domain.Request{
			TaskID: taskID,
			Code:   code,
			Mode:   mode,
		},
		State:     domain.JobQueued,
		CreatedAt: time.Now(),
	}
	m.jobs[jobID] = job
	m.queuedOrder = append(m.queuedOrder, jobID)
	m.mu.Unlock()

	observability.RecordJobQueued(1)

	// Two-step insertion: the registry is updated before the id becomes
	// visible on the wakeup channel, so any worker that dequeues it is
	// guaranteed to find it in m.jobs.
	m.wakeup <- jobID
	return jobID, nil
}

// GetJob implements the status projection (§4.4.3). Returns
// the zero JobStatus and false if the job id is unknown.
func (m *Manager) GetJob(jobID string) (domain.JobStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.JobStatus{}, false
	}

	status := domain.JobStatus{
		ID:           job.ID,
		State:        job.State,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		FinishedAt:   job.FinishedAt,
		Result:       job.Result,
		ErrorMessage: job.ErrorMessage,
	}

	switch job.State {
	case domain.JobQueued:
		pos := m.queuePositionLocked(jobID)
		eta := m.etaMsLocked(pos)
		status.QueuePosition = &pos
		status.ETAMs = &eta
	case domain.JobRunning:
		if job.StartedAt != nil {
			ms := time.Since(*job.StartedAt).Milliseconds()
			status.RunningForMs = &ms
		}
	}
	return status, true
}

// CancelJob implements cancellation (§4.4.4). Only QUEUED jobs are
// cancellable; RUNNING jobs are left to complete.
func (m *Manager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.State != domain.JobQueued {
		return false
	}

	now := time.Now()
	msg := "Cancelled by user"
	job.State = domain.JobError
	job.FinishedAt = &now
	job.ErrorMessage = &msg
	m.removeFromQueuedOrderLocked(jobID)
	observability.RecordJobQueued(-1)
	return true
}

// queuePositionLocked returns the 0-based index of jobID in queuedOrder, or
// 0 defensively if not found. Callers must hold m.mu.
func (m *Manager) queuePositionLocked(jobID string) int {
	for i, id := range m.queuedOrder {
		if id == jobID {
			return i
		}
	}
	return 0
}

// etaMsLocked computes ⌈(queuePosition+1) × avg_duration_ms / max(1, max_workers)⌉.
// Callers must hold m.mu.
func (m *Manager) etaMsLocked(queuePosition int) int64 {
	avg := defaultAvgDuration
	if len(m.recentDurations) > 0 {
		var sum time.Duration
		for _, d := range m.recentDurations {
			sum += d
		}
		avg = sum / time.Duration(len(m.recentDurations))
	}
	workers := m.maxWorkers
	if workers < 1 {
		workers = 1
	}
	numerator := float64(queuePosition+1) * float64(avg.Milliseconds())
	return int64(math.Ceil(numerator / float64(workers)))
}

func (m *Manager) removeFromQueuedOrderLocked(jobID string) {
	for i, id := range m.queuedOrder {
		if id == jobID {
			m.queuedOrder = append(m.queuedOrder[:i], m.queuedOrder[i+1:]...)
			return
		}
	}
}

func (m *Manager) recordDurationLocked(d time.Duration) {
	m.recentDurations = append(m.recentDurations, d)
	if len(m.recentDurations) > durationWindowSize {
		m.recentDurations = m.recentDurations[len(m.recentDurations)-durationWindowSize:]
	}
}

// workerLoop implements §4.4.2. The 1-second bounded wait on the wakeup
// channel is the only polling in the system; it exists so workers respond
// to shutdown promptly.
func (m *Manager) workerLoop(id int) {
	defer m.wg.Done()
	for {
		var jobID string
		select {
		case jobID = <-m.wakeup:
		case <-time.After(workerWaitTimeout):
			select {
			case <-m.stopCh:
				return
			default:
				continue
			}
		}

		if jobID == shutdownToken {
			return
		}

		m.mu.Lock()
		job, ok := m.jobs[jobID]
		if !ok || job.State != domain.JobQueued {
			m.mu.Unlock()
			continue
		}
		now := time.Now()
		job.State = domain.JobRunning
		job.StartedAt = &now
		queueWait := now.Sub(job.CreatedAt)
		m.removeFromQueuedOrderLocked(jobID)
		req := job.Request
		m.mu.Unlock()

		observability.RecordJobQueued(-1)
		observability.RecordJobRunning(1)

		m.runJob(id, jobID, req, queueWait)
	}
}

func (m *Manager) runJob(workerID int, jobID string, req domain.Request, queueWait time.Duration) {
	startedAt := time.Now()

	logger := observability.JobLogger(m.logger, jobID, req.TaskID)
	ctx := observability.ContextWithJobID(context.Background(), jobID)
	ctx = observability.ContextWithLogger(ctx, logger)
	ctx, span := observability.StartJobSpan(ctx, req.TaskID, jobID)
	result, err := m.runner.Execute(ctx, req.TaskID, req.Code, req.Mode)
	span.End()

	observability.RecordJobRunning(-1)

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		logger.Warn("worker finished a job no longer in registry", slog.Int("worker", workerID))
		return
	}

	now := time.Now()
	job.FinishedAt = &now
	duration := time.Since(startedAt)
	outcome := "error"
	if err != nil {
		msg := err.Error()
		job.State = domain.JobError
		job.ErrorMessage = &msg
		logger.Error("job failed", slog.String("error", msg))
	} else {
		job.State = domain.JobDone
		job.Result = &result
		outcome = string(result.Verdict)
	}
	m.recordDurationLocked(duration)
	observability.RecordJobTerminal(outcome, duration, queueWait)
}

// reaperLoop implements the TTL reaper (§4.4.5).
func (m *Manager) reaperLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

func (m *Manager) reapOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.jobTTL)
	for id, job := range m.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}

// Health reports the counters exposed by the health endpoint (§6).
func (m *Manager) Health() (workers, queueSize, jobsCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxWorkers, len(m.queuedOrder), len(m.jobs)
}
