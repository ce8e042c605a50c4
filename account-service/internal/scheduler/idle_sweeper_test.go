package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSweeper struct {
	calls     atomic.Int32
	idleAfter atomic.Int64
	ids       []uuid.UUID
	err       error
}

func (f *fakeSweeper) SweepIdleAccounts(_ context.Context, idleAfter time.Duration) ([]uuid.UUID, error) {
	f.calls.Add(1)
	f.idleAfter.Store(int64(idleAfter))
	return f.ids, f.err
}

func TestSweepOnce(t *testing.T) {
	f := &fakeSweeper{ids: []uuid.UUID{uuid.New(), uuid.New()}}
	s := NewIdleAccountSweeper(f, time.Hour, 24*time.Hour, zap.NewNop())

	assert.Equal(t, 2, s.SweepOnce(context.Background()))
	assert.Equal(t, int64(24*time.Hour), f.idleAfter.Load())

	f.err = errors.New("db down")
	assert.Equal(t, 0, s.SweepOnce(context.Background()))
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	f := &fakeSweeper{}
	s := NewIdleAccountSweeper(f, 10*time.Millisecond, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return f.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
