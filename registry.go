package netagent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TaskStatus is one state of the task lifecycle machine:
// PENDING -> RUNNING -> {COMPLETED | FAILED | CANCELLED}.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is immutable.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskProgress reports how far a running task has gotten.
type TaskProgress struct {
	Percent int
	Stage   string
	Details map[string]string
}

// Task is a snapshot of one tracked operation. Callers always receive
// copies; the registry's internal task objects never escape its mutex.
type Task struct {
	ID           string
	Kind         string
	Payload      any
	Status       TaskStatus
	Progress     TaskProgress
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Result       any
	Error        string
	CancelReason string
}

// Elapsed returns the execution time for a finished task, zero otherwise.
func (t Task) Elapsed() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// TaskFunc is the operation a task wraps. report may be called to surface
// progress; it becomes a no-op once the task leaves RUNNING.
type TaskFunc func(ctx context.Context, report ProgressFunc) (any, error)

const (
	defaultTaskTTL       = 10 * time.Minute
	defaultSweepInterval = 30 * time.Second
)

// TaskRegistry creates and tracks asynchronously pollable tasks wrapping
// long-running operations. All task mutation happens under one mutex; reads
// are snapshot copies taken under the same mutex. Terminal tasks are
// reclaimed by the sweep loop once older than the TTL.
type TaskRegistry struct {
	ttl           time.Duration
	sweepInterval time.Duration
	clock         func() time.Time

	mu      sync.Mutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc

	executions sync.WaitGroup
}

// NewTaskRegistry builds a registry. Non-positive ttl/interval select
// defaults.
func NewTaskRegistry(ttl, sweepInterval time.Duration) *TaskRegistry {
	if ttl <= 0 {
		ttl = defaultTaskTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &TaskRegistry{
		ttl:           ttl,
		sweepInterval: sweepInterval,
		clock:         time.Now,
		tasks:         make(map[string]*Task),
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Submit allocates a PENDING task, schedules fn in the background, and
// returns the task id synchronously. A panic escaping fn fails the task
// with the panic message preserved.
func (r *TaskRegistry) Submit(kind string, payload any, fn TaskFunc) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.tasks[id] = &Task{
		ID:        id,
		Kind:      kind,
		Payload:   payload,
		Status:    TaskStatusPending,
		CreatedAt: r.clock(),
	}
	r.cancels[id] = cancel
	r.mu.Unlock()

	log.Info().Str("task_id", id).Str("kind", kind).Msg("task created")

	r.executions.Add(1)
	go func() {
		defer r.executions.Done()
		defer cancel()
		r.execute(ctx, id, fn)
	}()
	return id
}

func (r *TaskRegistry) execute(ctx context.Context, id string, fn TaskFunc) {
	if !r.markRunning(id) {
		// Cancelled before it ever started.
		return
	}
	report := func(done, total int, stage string) {
		pct := 0
		if total > 0 {
			pct = done * 100 / total
		}
		r.UpdateProgress(id, &pct, stage, map[string]string{
			"done":  fmt.Sprintf("%d", done),
			"total": fmt.Sprintf("%d", total),
		})
	}

	var (
		result any
		runErr error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				runErr = errors.Errorf("task panicked: %v", rec)
			}
		}()
		result, runErr = fn(ctx, report)
	}()

	if runErr != nil {
		if err := r.Fail(id, runErr.Error()); err != nil {
			log.Debug().Str("task_id", id).Msg("discarding failure of non-running task")
		}
		return
	}
	if err := r.Complete(id, result); err != nil {
		log.Debug().Str("task_id", id).Msg("discarding result of non-running task")
	}
}

func (r *TaskRegistry) markRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok || task.Status != TaskStatusPending {
		return false
	}
	now := r.clock()
	task.Status = TaskStatusRunning
	task.StartedAt = &now
	return true
}

// Get returns a read-only snapshot of the task.
func (r *TaskRegistry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return snapshotTask(task), true
}

// List returns task snapshots newest-first, optionally filtered by status
// and kind. limit <= 0 returns everything.
func (r *TaskRegistry) List(status TaskStatus, kind string, limit int) []Task {
	r.mu.Lock()
	out := make([]Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		if status != "" && task.Status != status {
			continue
		}
		if kind != "" && task.Kind != kind {
			continue
		}
		out = append(out, snapshotTask(task))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpdateProgress records progress for a RUNNING task. Any other state makes
// it a logged no-op: progress updates may race a cancellation or a
// crash-completion and must not resurrect a settled task.
func (r *TaskRegistry) UpdateProgress(id string, pct *int, stage string, details map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return
	}
	if task.Status != TaskStatusRunning {
		log.Debug().Str("task_id", id).Str("status", string(task.Status)).Msg("ignoring progress update for non-running task")
		return
	}
	if pct != nil {
		p := *pct
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		task.Progress.Percent = p
	}
	if stage != "" {
		task.Progress.Stage = stage
	}
	for k, v := range details {
		if task.Progress.Details == nil {
			task.Progress.Details = make(map[string]string)
		}
		task.Progress.Details[k] = v
	}
}

// Complete transitions the task to COMPLETED with its result payload.
func (r *TaskRegistry) Complete(id string, result any) error {
	return r.finish(id, TaskStatusCompleted, func(task *Task) {
		task.Result = result
		task.Progress.Percent = 100
	})
}

// Fail transitions the task to FAILED, preserving errMsg verbatim.
func (r *TaskRegistry) Fail(id string, errMsg string) error {
	return r.finish(id, TaskStatusFailed, func(task *Task) {
		task.Error = errMsg
	})
}

// Cancel transitions the task to CANCELLED. Cancellation is advisory:
// in-flight device work is left to finish and its result is discarded.
func (r *TaskRegistry) Cancel(id string, reason string) error {
	err := r.finish(id, TaskStatusCancelled, func(task *Task) {
		task.CancelReason = reason
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	cancel := r.cancels[id]
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	log.Info().Str("task_id", id).Str("reason", reason).Msg("task cancelled")
	return nil
}

// finish applies a terminal transition exactly once.
func (r *TaskRegistry) finish(id string, status TaskStatus, apply func(*Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return errors.Errorf("task %s not found", id)
	}
	if task.Status.Terminal() {
		return errors.Errorf("task %s is already %s", id, task.Status)
	}
	now := r.clock()
	task.Status = status
	task.CompletedAt = &now
	apply(task)
	return nil
}

// Stats returns the count of tracked tasks per status.
func (r *TaskRegistry) Stats() map[TaskStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make(map[TaskStatus]int, 5)
	for _, task := range r.tasks {
		stats[task.Status]++
	}
	return stats
}

// Run drives the periodic sweep until ctx is done. Intended to be launched
// through SafeGroup.GoSafe.
func (r *TaskRegistry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed := r.sweep()
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("swept expired terminal tasks")
			}
		}
	}
}

// sweep removes tasks that are terminal and older than the TTL. Active
// tasks are never removed regardless of age.
func (r *TaskRegistry) sweep() int {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, task := range r.tasks {
		if !task.Status.Terminal() {
			continue
		}
		if task.CompletedAt == nil || now.Sub(*task.CompletedAt) <= r.ttl {
			continue
		}
		delete(r.tasks, id)
		delete(r.cancels, id)
		removed++
	}
	return removed
}

// Wait blocks until every background execution has settled. Test helper and
// shutdown aid.
func (r *TaskRegistry) Wait() {
	r.executions.Wait()
}

func snapshotTask(task *Task) Task {
	copied := *task
	if task.StartedAt != nil {
		t := *task.StartedAt
		copied.StartedAt = &t
	}
	if task.CompletedAt != nil {
		t := *task.CompletedAt
		copied.CompletedAt = &t
	}
	if task.Progress.Details != nil {
		details := make(map[string]string, len(task.Progress.Details))
		for k, v := range task.Progress.Details {
			details[k] = v
		}
		copied.Progress.Details = details
	}
	return copied
}
