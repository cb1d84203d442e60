// Package saga runs ordered steps and undoes the completed ones in reverse
// when a later step fails. Processes use it to acquire their dependencies at
// boot and to release them again at shutdown.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Step is one unit of work and the action that undoes it.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports which step failed and whether undoing the earlier ones
// failed too.
type StepError struct {
	Saga            string
	Step            string
	Index           int
	Err             error
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Saga is not safe for concurrent Execute calls.
type Saga struct {
	name  string
	steps []Step

	mu        sync.Mutex
	completed []int
}

func New(name string) *Saga {
	return &Saga{name: name}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs all steps in order. When one fails, the completed steps are
// compensated in reverse order and a *StepError is returned.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &StepError{
				Saga:            s.name,
				Step:            step.Name,
				Index:           i,
				Err:             err,
				CompensationErr: s.Compensate(ctx),
			}
		}
		s.mu.Lock()
		s.completed = append(s.completed, i)
		s.mu.Unlock()
	}
	return nil
}

// Compensate undoes every completed step, last first, and forgets them, so
// a second call is a no-op. Every compensation runs even when one fails.
func (s *Saga) Compensate(ctx context.Context) error {
	s.mu.Lock()
	completed := s.completed
	s.completed = nil
	s.mu.Unlock()

	var errs []error
	for i := len(completed) - 1; i >= 0; i-- {
		step := s.steps[completed[i]]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
