package steps

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
)

// Step is one idempotent unit of a pipeline. Run returns true when it changed remote state.
type Step struct {
	Name string
	// Prerequisite steps abort the pipeline when they fail. Any other failure is
	// recorded and the remaining steps still run.
	Prerequisite bool
	Run          func(ctx context.Context) (bool, error)
}

// StepError names the step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Outcome is the folded result of every step that ran.
type Outcome struct {
	// Changed is true when any step changed remote state.
	Changed   bool
	Completed []string
	Failures  []*StepError
	Triggered bool
}

// Err joins every step failure, or returns nil when all steps succeeded.
func (o Outcome) Err() error {
	if len(o.Failures) == 0 {
		return nil
	}

	errs := make([]error, 0, len(o.Failures))
	for _, failure := range o.Failures {
		errs = append(errs, failure)
	}

	return errors.Join(errs...)
}

// Sequencer runs steps in order and offers the downstream trigger when state changed.
type Sequencer struct {
	// Trigger is optional. Without it the pipeline ends once the last step has run.
	Trigger *Trigger
}

// Run executes the steps one at a time. The returned error is the prerequisite failure that
// aborted the pipeline, or the joined failures of the other steps.
func (s Sequencer) Run(ctx context.Context, steps []Step) (Outcome, error) {
	outcome := Outcome{}

	for _, step := range steps {
		zap.L().Info("Running step " + step.Name)

		changed, err := step.Run(ctx)
		if changed {
			outcome.Changed = true
		}

		if err != nil {
			stepErr := &StepError{Step: step.Name, Err: err}

			if step.Prerequisite {
				zap.L().Error("Prerequisite step failed, stopping", zap.String("step", step.Name), zap.Error(err))
				outcome.Failures = append(outcome.Failures, stepErr)
				return outcome, stepErr
			}

			zap.L().Error("Step failed, continuing with the remaining steps", zap.String("step", step.Name), zap.Error(err))
			outcome.Failures = append(outcome.Failures, stepErr)
			continue
		}

		outcome.Completed = append(outcome.Completed, step.Name)
	}

	if len(outcome.Failures) != 0 {
		if outcome.Changed {
			zap.L().Warn("Not triggering the deployment because a step failed")
		}
		return outcome, outcome.Err()
	}

	if !outcome.Changed {
		zap.L().Info("Nothing changed, there is nothing to deploy")
		return outcome, nil
	}

	if s.Trigger == nil {
		return outcome, nil
	}

	triggered, err := s.Trigger.Fire(ctx)
	outcome.Triggered = triggered
	if err != nil {
		return outcome, &StepError{Step: "trigger deployment", Err: err}
	}

	return outcome, nil
}
