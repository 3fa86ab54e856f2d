package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/pkg/types"
)

func TestAddJob_InvalidSpec(t *testing.T) {
	s := New(nil)
	err := s.AddJob(JobFunc{JobName: "update", Fn: func(context.Context) error { return nil }}, "not a spec")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfiguration))

	_, ok := s.Next("update")
	assert.False(t, ok)
}

func TestAddJob_Next(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.AddJob(JobFunc{JobName: "update", Fn: func(context.Context) error { return nil }}, "0 3 * * *"))
	require.NoError(t, s.AddJob(JobFunc{JobName: "hourly", Fn: func(context.Context) error { return nil }}, "@hourly"))

	s.Start(context.Background())
	defer s.Stop()

	next, ok := s.Next("update")
	require.True(t, ok)
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestWrap_SkipsOverlappingRuns(t *testing.T) {
	s := New(nil)
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32

	fn := s.wrap(JobFunc{JobName: "update", Fn: func(context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}}, "@every 1m")

	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	<-started

	fn()
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	<-done
}

func TestWrap_PassesStartContext(t *testing.T) {
	s := New(nil)
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "run")
	s.Start(ctx)
	defer s.Stop()

	var got any
	fn := s.wrap(JobFunc{JobName: "update", Fn: func(ctx context.Context) error {
		got = ctx.Value(key{})
		return errors.New("logged, not returned")
	}}, "@every 1m")
	fn()
	assert.Equal(t, "run", got)
}

func TestStop_WaitsForRunningJob(t *testing.T) {
	s := New(nil)
	var finished atomic.Bool
	started := make(chan struct{}, 1)
	require.NoError(t, s.AddJob(JobFunc{JobName: "tick", Fn: func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}}, "@every 1s"))

	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		s.Stop()
		t.Fatal("job never started")
	}
	s.Stop()
	assert.True(t, finished.Load())
}
