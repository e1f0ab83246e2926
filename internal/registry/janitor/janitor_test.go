package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stardag/stardag/internal/logging"
)

type fakeSweeper struct {
	calls atomic.Int64
	n     int64
	err   error
}

func (f *fakeSweeper) SweepExpired(context.Context, time.Duration) (int64, error) {
	f.calls.Add(1)
	return f.n, f.err
}

type fakeExpirer struct {
	calls atomic.Int64
	n     int64
}

func (f *fakeExpirer) ExpirePendingInvites(context.Context, time.Time) (int64, error) {
	f.calls.Add(1)
	return f.n, nil
}

func TestSweepRunsBothJobs(t *testing.T) {
	locks := &fakeSweeper{n: 3}
	invites := &fakeExpirer{n: 1}
	j := New(Config{Enabled: true}, locks, invites, nil, logging.Nop())

	j.sweep()
	if locks.calls.Load() != 1 || invites.calls.Load() != 1 {
		t.Errorf("sweep calls = %d locks, %d invites", locks.calls.Load(), invites.calls.Load())
	}
}

func TestLockSweepFailureDoesNotBlockInvites(t *testing.T) {
	locks := &fakeSweeper{err: errors.New("db down")}
	invites := &fakeExpirer{}
	j := New(Config{Enabled: true}, locks, invites, nil, logging.Nop())

	j.sweep()
	if invites.calls.Load() != 1 {
		t.Error("invite sweep skipped after lock sweep failure")
	}
}

func TestDisabledJanitorNeverSchedules(t *testing.T) {
	locks := &fakeSweeper{}
	j := New(Config{Enabled: false, Schedule: "* * * * *"}, locks, &fakeExpirer{}, nil, logging.Nop())
	if err := j.Start(); err != nil {
		t.Fatal(err)
	}
	if entries := j.cron.Entries(); len(entries) != 0 {
		t.Errorf("disabled janitor registered %d jobs", len(entries))
	}
}
