package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/closebid/market-server/internal/settlement"
)

type countingRunner struct {
	calls atomic.Int64
}

func (r *countingRunner) ProcessExpiredAuctions(ctx context.Context) (settlement.Result, error) {
	r.calls.Add(1)
	return settlement.Result{}, nil
}

func TestScheduler_RunsPeriodically(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	s := New(runner, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.Eventually(t, func() bool {
		return runner.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	stopped := runner.calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, stopped, runner.calls.Load())
}

func TestScheduler_DefaultsInterval(t *testing.T) {
	t.Parallel()

	s := New(&countingRunner{}, 0, nil)
	require.Equal(t, time.Minute, s.interval)
}
