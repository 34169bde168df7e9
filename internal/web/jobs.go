package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lvcoi/dgetmusic/internal/app"
)

const (
	statusQueued   = "queued"
	statusRunning  = "running"
	statusComplete = "complete"
	statusError    = "error"
)

// Job is one asynchronous batch.
type Job struct {
	ID          string
	Status      string
	Items       []string
	CreatedAt   time.Time
	Results     []app.Result
	ExitCode    int
	Error       string
	CompletedAt time.Time

	mu sync.RWMutex
}

// jobView is the JSON form of a Job.
type jobView struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Items       []string     `json:"items"`
	Done        int          `json:"done"`
	Total       int          `json:"total"`
	CreatedAt   time.Time    `json:"created_at"`
	Results     []app.Result `json:"results"`
	ExitCode    int          `json:"exit_code,omitempty"`
	Error       string       `json:"error,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// jobTracker manages batch jobs.
type jobTracker struct {
	jobs sync.Map
}

func (jt *jobTracker) Create(items []string) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Status:    statusQueued,
		Items:     append([]string(nil), items...),
		CreatedAt: time.Now(),
		Results:   []app.Result{},
	}
	jt.jobs.Store(job.ID, job)
	return job
}

func (jt *jobTracker) Get(id string) (*Job, bool) {
	v, ok := jt.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

func (jt *jobTracker) ActiveCount() int {
	count := 0
	jt.jobs.Range(func(_, v any) bool {
		if j, ok := v.(*Job); ok && j.isActive() {
			count++
		}
		return true
	})
	return count
}

func (jt *jobTracker) RemoveExpired(now time.Time, completedTTL, erroredTTL time.Duration) int {
	removed := 0
	jt.jobs.Range(func(key, value any) bool {
		job, ok := value.(*Job)
		if ok && job.isExpired(now, completedTTL, erroredTTL) {
			jt.jobs.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// StartCleanup drops finished jobs past their TTL until ctx is done.
func (jt *jobTracker) StartCleanup(ctx context.Context, interval, completedTTL, erroredTTL time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				jt.RemoveExpired(now, completedTTL, erroredTTL)
			}
		}
	}()
}

func (j *Job) isActive() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == statusQueued || j.Status == statusRunning
}

func (j *Job) StatusValue() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

func (j *Job) setStatusLocked(status string) {
	j.Status = status
	if status == statusComplete || status == statusError {
		j.CompletedAt = time.Now()
		return
	}
	j.CompletedAt = time.Time{}
}

func (j *Job) SetStatus(status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.setStatusLocked(status)
}

// AddResult records one finished item while the job runs.
func (j *Job) AddResult(r app.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Results = append(j.Results, r)
}

// SetOutcome stores the final results. Any failed item marks the job errored
// with the first item's error message.
func (j *Job) SetOutcome(results []app.Result, exitCode int) string {
	resultsCopy := append([]app.Result(nil), results...)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.Results = resultsCopy
	j.ExitCode = exitCode
	j.Error = ""

	if exitCode != 0 {
		j.setStatusLocked(statusError)
		for _, result := range resultsCopy {
			if result.Message != "" {
				j.Error = result.Message
				break
			}
		}
		return j.Status
	}
	j.setStatusLocked(statusComplete)
	return j.Status
}

func (j *Job) isExpired(now time.Time, completedTTL, erroredTTL time.Duration) bool {
	j.mu.RLock()
	status := j.Status
	completedAt := j.CompletedAt
	j.mu.RUnlock()

	if completedAt.IsZero() {
		return false
	}
	switch status {
	case statusComplete:
		return completedTTL > 0 && now.Sub(completedAt) >= completedTTL
	case statusError:
		return erroredTTL > 0 && now.Sub(completedAt) >= erroredTTL
	}
	return false
}

func (j *Job) view() jobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := jobView{
		ID:        j.ID,
		Status:    j.Status,
		Items:     append([]string(nil), j.Items...),
		Done:      len(j.Results),
		Total:     len(j.Items),
		CreatedAt: j.CreatedAt,
		Results:   append([]app.Result{}, j.Results...),
		ExitCode:  j.ExitCode,
		Error:     j.Error,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		v.CompletedAt = &completed
	}
	return v
}
