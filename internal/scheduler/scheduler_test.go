package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddFuncRunsOnSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int64
	s := New(ctx)
	require.NoError(t, s.AddFunc("* * * * * *", "tick", func(context.Context) {
		atomic.AddInt64(&calls, 1)
	}))
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&calls) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduled job never ran")
}

func TestAddFuncRejectsInvalidSpec(t *testing.T) {
	s := New(context.Background())
	err := s.AddFunc("not a cron spec", "bad", func(context.Context) {})
	require.Error(t, err)
}

func TestAddFuncRecoversPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int64
	s := New(ctx)
	require.NoError(t, s.AddFunc("* * * * * *", "panics", func(context.Context) {
		atomic.AddInt64(&calls, 1)
		panic("boom")
	}))
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&calls) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduled job never ran")
}
