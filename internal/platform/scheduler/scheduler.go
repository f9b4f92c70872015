// Package scheduler runs cron-triggered workflow starts and sweeps
// suspended executions whose wait action is due to resume. Grounded on
// internal/engine/scheduler.go's Scheduler (cron.Cron with
// WithSeconds/WithLocation/Recover chain, ScheduleEntry bookkeeping,
// EntryID-keyed removal), narrowed from the teacher's full
// enable/disable/repository-backed CRUD surface to the two concerns
// SPEC_FULL.md actually needs: firing `schedule`-trigger workflow runs,
// and resuming `wait` suspensions of type "interval"/"schedule" once
// due. Library: github.com/robfig/cron/v3.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TriggerFunc starts a new workflow execution; called by a cron entry
// when it fires.
type TriggerFunc func(ctx context.Context, workflowID string, triggerData map[string]interface{})

// ResumeFunc resumes one suspended execution that has become due.
type ResumeFunc func(ctx context.Context, executionID string)

// Entry is one cron-triggered workflow schedule.
type Entry struct {
	ID         string
	WorkflowID string
	CronExpr   string
	Enabled    bool

	entryID cron.EntryID
}

// Scheduler wraps a cron.Cron driving workflow schedule entries.
type Scheduler struct {
	cron    *cron.Cron
	trigger TriggerFunc

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New builds a Scheduler using the named IANA timezone (UTC if empty
// or unrecognized).
func New(timezone string, trigger TriggerFunc) *Scheduler {
	location := time.UTC
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			location = loc
		}
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(location),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)

	return &Scheduler{
		cron:    c,
		trigger: trigger,
		entries: make(map[string]*Entry),
	}
}

// Start begins running registered cron entries.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron loop without waiting; the returned context is done
// once in-flight jobs have finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// AddSchedule registers a workflow to run on cronExpr (6-field,
// seconds-first syntax per cron.WithSeconds).
func (s *Scheduler) AddSchedule(workflowID, cronExpr string) (*Entry, error) {
	entry := &Entry{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		CronExpr:   cronExpr,
		Enabled:    true,
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.trigger(context.Background(), entry.WorkflowID, map[string]interface{}{
			"schedule_id":  entry.ID,
			"scheduled_at": time.Now().Format(time.RFC3339),
			"cron_expr":    entry.CronExpr,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", cronExpr, err)
	}
	entry.entryID = entryID

	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.mu.Unlock()

	return entry, nil
}

// RemoveSchedule unregisters a previously added schedule.
func (s *Scheduler) RemoveSchedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return
	}
	s.cron.Remove(entry.entryID)
	delete(s.entries, id)
}

// ListSchedules returns all currently registered entries.
func (s *Scheduler) ListSchedules() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// ResumeSweeper periodically scans for due wait suspensions and calls
// resume on each; pollInterval governs how often the poll fires.
type ResumeSweeper struct {
	pollInterval time.Duration
	poll         func(ctx context.Context) ([]string, error)
	resume       ResumeFunc

	stop chan struct{}
}

// NewResumeSweeper builds a ticker-driven sweep: poll returns
// execution IDs that are due (e.g. a repo query for suspended
// executions whose wait deadline has passed), resume re-enters each.
func NewResumeSweeper(pollInterval time.Duration, poll func(ctx context.Context) ([]string, error), resume ResumeFunc) *ResumeSweeper {
	return &ResumeSweeper{
		pollInterval: pollInterval,
		poll:         poll,
		resume:       resume,
		stop:         make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *ResumeSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			ids, err := s.poll(ctx)
			if err != nil {
				continue
			}
			for _, id := range ids {
				s.resume(ctx, id)
			}
		}
	}
}

// Stop halts the sweep loop.
func (s *ResumeSweeper) Stop() {
	close(s.stop)
}
