// Package jobs tracks background batch runs for the HTTP surface.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"certgen/internal/batch"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// ErrBusy is returned by Start while another run is in progress. Runs share
// the converter, which does not tolerate concurrent instances.
var ErrBusy = errors.New("a run is already in progress")

type Job struct {
	ID        string
	OutputDir string
	CreatedAt time.Time

	mu       sync.RWMutex
	status   Status
	logs     []string
	progress int // 0-100
	result   *batch.Summary
	err      string
	now      func() time.Time
}

// Snapshot is a consistent copy of a job's state.
type Snapshot struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Progress  int            `json:"progress"`
	Logs      []string       `json:"logs"`
	Result    *batch.Summary `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (j *Job) Log(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appendLog(msg)
}

func (j *Job) appendLog(msg string) {
	ts := j.now().Format("15:04:05")
	j.logs = append(j.logs, fmt.Sprintf("[%s] %s", ts, msg))
}

func (j *Job) SetProgress(current, total int, msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if total > 0 {
		j.progress = int(float64(current) / float64(total) * 100)
	}
	if msg != "" {
		j.appendLog(msg)
	}
}

func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	logs := make([]string, len(j.logs))
	copy(logs, j.logs)
	return Snapshot{
		ID:        j.ID,
		Status:    j.status,
		Progress:  j.progress,
		Logs:      logs,
		Result:    j.result,
		Error:     j.err,
		CreatedAt: j.CreatedAt,
	}
}

func (j *Job) finish(summary *batch.Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusDone
	j.result = summary
	j.progress = 100
	j.appendLog("Run completed")
}

func (j *Job) fail(msg string, summary *batch.Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusError
	j.err = msg
	j.result = summary
	j.logs = append(j.logs, "[ERROR] "+msg)
}

// RunFunc performs the work of a job.
type RunFunc func(ctx context.Context, job *Job) (*batch.Summary, error)

// Store keeps every job of the process in memory and runs at most one at a
// time.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	running bool
	wg      sync.WaitGroup

	logger zerolog.Logger
	now    func() time.Time
}

func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		jobs:   make(map[string]*Job),
		logger: logger,
		now:    time.Now,
	}
}

func (s *Store) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns snapshots of every job, oldest first.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	out := make([]Snapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Start registers a new job and runs fn in the background. It returns ErrBusy
// without registering anything if a job is still running. The job ID is
// passed to outputDir so each run can get its own directory.
func (s *Store) Start(ctx context.Context, outputDir func(id string) string, fn RunFunc) (*Job, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	id := uuid.New().String()
	job := &Job{
		ID:        id,
		OutputDir: outputDir(id),
		CreatedAt: s.now(),
		status:    StatusRunning,
		logs:      []string{},
		now:       s.now,
	}
	s.jobs[id] = job
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, job, fn)
	return job, nil
}

func (s *Store) run(ctx context.Context, job *Job, fn RunFunc) {
	logger := s.logger.With().Str("job", job.ID).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Job panicked")
			job.fail(fmt.Sprintf("panic: %v", r), nil)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	logger.Info().Str("output", job.OutputDir).Msg("Job started")
	summary, err := fn(ctx, job)
	if err != nil {
		logger.Error().Err(err).Msg("Job failed")
		job.fail(err.Error(), summary)
		return
	}
	if summary == nil {
		summary = &batch.Summary{}
	}
	logger.Info().Int("rendered", summary.Rendered).Int("unmatched", summary.Unmatched).Msg("Job finished")
	job.finish(summary)
}

// Wait blocks until every started job has returned.
func (s *Store) Wait() {
	s.wg.Wait()
}
