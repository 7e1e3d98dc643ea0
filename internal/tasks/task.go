// Package tasks holds the scheduled workflows: the daily platform sync and
// the weekly analysis.
package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StepStatus is the outcome of one workflow step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step records one workflow step.
type Step struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result summarizes a workflow run.
type Result struct {
	Task           string        `json:"task"`
	RunID          string        `json:"run_id"`
	TenantID       string        `json:"tenant_id"`
	Success        bool          `json:"success"`
	Steps          []Step        `json:"steps"`
	Errors         []string      `json:"errors,omitempty"`
	StepsCompleted int           `json:"steps_completed"`
	Duration       time.Duration `json:"duration"`
	Data           any           `json:"data,omitempty"`
}

// tracker runs and records steps for one workflow.
type tracker struct {
	logger *zap.Logger
	now    func() time.Time
	start  time.Time
	steps  []Step
	errors []string
}

func newTracker(logger *zap.Logger, now func() time.Time) *tracker {
	return &tracker{logger: logger, now: now, start: now()}
}

// run executes fn as a named step. A failed step is recorded and its error
// returned; it never stops the workflow by itself.
func (t *tracker) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := t.now()
	err := fn(ctx)
	step := Step{Name: name, Status: StepCompleted, Duration: t.now().Sub(start)}
	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
		t.errors = append(t.errors, name+": "+err.Error())
		t.logger.Warn("step failed", zap.String("step", name), zap.Error(err))
	} else {
		t.logger.Debug("step completed", zap.String("step", name), zap.Duration("duration", step.Duration))
	}
	t.steps = append(t.steps, step)
	return err
}

func (t *tracker) skip(name, reason string) {
	t.steps = append(t.steps, Step{Name: name, Status: StepSkipped, Detail: reason})
	t.logger.Info("step skipped", zap.String("step", name), zap.String("reason", reason))
}

func (t *tracker) result(task, runID, tenantID string) *Result {
	completed := 0
	for _, s := range t.steps {
		if s.Status == StepCompleted {
			completed++
		}
	}
	return &Result{
		Task:           task,
		RunID:          runID,
		TenantID:       tenantID,
		Success:        len(t.errors) == 0,
		Steps:          t.steps,
		Errors:         t.errors,
		StepsCompleted: completed,
		Duration:       t.now().Sub(t.start),
	}
}
