package healing

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RestartFunc performs the actual restart side effect (e.g. re-executing
// the job's entrypoint on the same instance).
type RestartFunc func(ctx context.Context) error

// RestartWithBackoff retries fn under exponential backoff, giving up
// after maxElapsed. Used by the TriggerRestart action once the Safety
// Governor has approved it; the restart-count budget in RecordRestart is
// what ultimately escalates to TriggerTerminate, not this function.
func RestartWithBackoff(ctx context.Context, fn RestartFunc, maxElapsed time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(maxElapsed))
	return err
}
