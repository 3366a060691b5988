package taskrunner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForStatus опрашивает статус запуска до его появления либо до таймаута.
func waitForStatus(t *testing.T, r *Runner, sessionID uuid.UUID, want RunStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := r.GetRun(sessionID)
		if err == nil && run.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	run, err := r.GetRun(sessionID)
	require.NoError(t, err)
	t.Fatalf("run status = %s, want %s", run.Status, want)
}

func TestRunner_SubmitCompletes(t *testing.T) {
	r := New(Config{MaxActiveRuns: 2})
	sessionID := uuid.New()

	err := r.Submit(context.Background(), sessionID, func(ctx context.Context, cancelRequested *atomic.Bool) error {
		return nil
	})
	require.NoError(t, err)

	waitForStatus(t, r, sessionID, RunStatusCompleted)
}

func TestRunner_SubmitFailure(t *testing.T) {
	r := New(Config{MaxActiveRuns: 2})
	sessionID := uuid.New()

	err := r.Submit(context.Background(), sessionID, func(ctx context.Context, cancelRequested *atomic.Bool) error {
		return errors.New("stage failed")
	})
	require.NoError(t, err)

	waitForStatus(t, r, sessionID, RunStatusFailed)
}

func TestRunner_RejectsDuplicateActiveRun(t *testing.T) {
	r := New(Config{MaxActiveRuns: 5})
	sessionID := uuid.New()
	release := make(chan struct{})

	err := r.Submit(context.Background(), sessionID, func(ctx context.Context, cancelRequested *atomic.Bool) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	err = r.Submit(context.Background(), sessionID, func(ctx context.Context, cancelRequested *atomic.Bool) error {
		return nil
	})
	assert.Error(t, err)

	close(release)
	waitForStatus(t, r, sessionID, RunStatusCompleted)
}

func TestRunner_EnforcesActiveRunLimit(t *testing.T) {
	r := New(Config{MaxActiveRuns: 1})
	release := make(chan struct{})

	err := r.Submit(context.Background(), uuid.New(), func(ctx context.Context, cancelRequested *atomic.Bool) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	err = r.Submit(context.Background(), uuid.New(), func(ctx context.Context, cancelRequested *atomic.Bool) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrTooManyActiveRuns)

	close(release)
}

func TestRunner_CancelIsCooperative(t *testing.T) {
	r := New(Config{MaxActiveRuns: 2})
	sessionID := uuid.New()
	started := make(chan struct{})

	err := r.Submit(context.Background(), sessionID, func(ctx context.Context, cancelRequested *atomic.Bool) error {
		close(started)
		for i := 0; i < 400; i++ {
			if cancelRequested.Load() {
				return nil
			}
			time.Sleep(5 * time.Millisecond)
		}
		return errors.New("cancellation flag never observed")
	})
	require.NoError(t, err)

	<-started
	r.Cancel(sessionID)

	waitForStatus(t, r, sessionID, RunStatusCancelled)
}

func TestRunner_CancelUnknownSessionIsNoop(t *testing.T) {
	r := New(Config{MaxActiveRuns: 2})
	assert.NotPanics(t, func() { r.Cancel(uuid.New()) })
}

func TestRunner_CancelCompletedRunIsNoop(t *testing.T) {
	r := New(Config{MaxActiveRuns: 2})
	sessionID := uuid.New()

	err := r.Submit(context.Background(), sessionID, func(ctx context.Context, cancelRequested *atomic.Bool) error {
		return nil
	})
	require.NoError(t, err)
	waitForStatus(t, r, sessionID, RunStatusCompleted)

	r.Cancel(sessionID)

	run, err := r.GetRun(sessionID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
}

func TestRunner_CleanupRuns(t *testing.T) {
	r := New(Config{MaxActiveRuns: 2})
	sessionID := uuid.New()

	err := r.Submit(context.Background(), sessionID, func(ctx context.Context, cancelRequested *atomic.Bool) error {
		return nil
	})
	require.NoError(t, err)
	waitForStatus(t, r, sessionID, RunStatusCompleted)

	r.CleanupRuns(0)

	_, err = r.GetRun(sessionID)
	assert.Error(t, err)
}

func TestRunner_Shutdown(t *testing.T) {
	r := New(Config{MaxActiveRuns: 2})
	sessionID := uuid.New()

	err := r.Submit(context.Background(), sessionID, func(ctx context.Context, cancelRequested *atomic.Bool) error {
		for !cancelRequested.Load() {
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	// После остановки новые запуски не принимаются
	err = r.Submit(context.Background(), uuid.New(), func(ctx context.Context, cancelRequested *atomic.Bool) error {
		return nil
	})
	assert.Error(t, err)
}
