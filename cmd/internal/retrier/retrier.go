package retrier

import (
	"context"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"time"
)

// Policy describes how a remote call is retried. Every attempt is independent and the
// delay between attempts is fixed.
type Policy struct {
	Attempts uint
	Delay    time.Duration
	// Retryable decides if an error is worth another attempt. A nil Retryable retries everything.
	Retryable func(err error) bool
}

// WritePolicy is applied to every remote mutation: secrets, variables, deploy keys and workflow triggers.
var WritePolicy = Policy{Attempts: 3, Delay: 5 * time.Second}

// ContainerPolicy is used when creating a storage container in a freshly created account.
var ContainerPolicy = Policy{Attempts: 5, Delay: 5 * time.Second}

// RoleAssignmentPolicy waits for a new principal to become visible to role assignments.
var RoleAssignmentPolicy = Policy{Attempts: 6, Delay: 10 * time.Second}

// ExistencePolicy is used for existence checks, which are retried rather than treated as absence.
var ExistencePolicy = Policy{Attempts: 3, Delay: 5 * time.Second}

// Permanent marks an error that must not be retried. Structural errors from the faults
// package are never retried either.
func Permanent(err error) error {
	return retry.Unrecoverable(err)
}

func (p Policy) options(ctx context.Context, action string) []retry.Option {
	attempts := p.maxAttempts()

	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if !retry.IsRecoverable(err) || faults.IsStructural(err) {
				return false
			}
			if p.Retryable == nil {
				return true
			}
			return p.Retryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			// Called after the final attempt too
			if n+1 >= attempts {
				return
			}
			zap.L().Warn("Attempt failed, retrying",
				zap.String("action", action),
				zap.Uint("attempt", n+1),
				zap.Uint("attempts", attempts),
				zap.Error(err))
		}),
	}
}

// Do runs fn until it succeeds or the attempts are exhausted. Exhaustion is reported
// as a faults.RemoteWriteFailure, errors that stop the loop early are returned as is.
func (p Policy) Do(ctx context.Context, action string, fn func() error) error {
	var made uint
	err := retry.Do(func() error {
		made++
		return fn()
	}, p.options(ctx, action)...)
	return p.classify(ctx, action, made, err)
}

// DoWithData is Do for calls that return a value.
func DoWithData[T any](ctx context.Context, p Policy, action string, fn func() (T, error)) (T, error) {
	var made uint
	result, err := retry.DoWithData(func() (T, error) {
		made++
		return fn()
	}, p.options(ctx, action)...)
	return result, p.classify(ctx, action, made, err)
}

func (p Policy) classify(ctx context.Context, action string, made uint, err error) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil || made < p.maxAttempts() {
		return err
	}

	return &faults.RemoteWriteFailure{Action: action, Attempts: made, Err: err}
}

func (p Policy) maxAttempts() uint {
	if p.Attempts == 0 {
		return 1
	}
	return p.Attempts
}
