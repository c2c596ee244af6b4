package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	name     string
	interval time.Duration
	runs     int32
	fail     bool
	panics   bool
}

func (t *countingTask) Name() string            { return t.name }
func (t *countingTask) Interval() time.Duration { return t.interval }
func (t *countingTask) Execute(context.Context) error {
	atomic.AddInt32(&t.runs, 1)
	if t.panics {
		panic("boom")
	}
	if t.fail {
		return errors.New("transient")
	}
	return nil
}

func (t *countingTask) count() int32 { return atomic.LoadInt32(&t.runs) }

func TestScheduler_RunsRegisteredTasks(t *testing.T) {
	s := New(context.Background(), 0)
	a := &countingTask{name: "a", interval: 50 * time.Millisecond}
	b := &countingTask{name: "b", interval: 50 * time.Millisecond}
	s.Register(a)
	s.Register(b)
	s.Start()
	defer func() {
		require.NoError(t, s.Stop())
	}()

	time.Sleep(200 * time.Millisecond)
	require.Greater(t, a.count(), int32(1))
	require.Greater(t, b.count(), int32(1))
}

func TestScheduler_FailingTaskDoesNotStopOthers(t *testing.T) {
	s := New(context.Background(), 0)
	failing := &countingTask{name: "failing", interval: 30 * time.Millisecond, fail: true}
	panicking := &countingTask{name: "panicking", interval: 30 * time.Millisecond, panics: true}
	healthy := &countingTask{name: "healthy", interval: 30 * time.Millisecond}
	s.Register(failing)
	s.Register(panicking)
	s.Register(healthy)
	s.Start()
	defer func() {
		require.NoError(t, s.Stop())
	}()

	time.Sleep(200 * time.Millisecond)
	require.Greater(t, failing.count(), int32(2), "failing task should keep its cadence")
	require.Greater(t, panicking.count(), int32(2), "panicking task should keep its cadence")
	require.Greater(t, healthy.count(), int32(2))
	require.NoError(t, s.Status())
}

func TestScheduler_StaggeredStart(t *testing.T) {
	s := New(context.Background(), 150*time.Millisecond)
	first := &countingTask{name: "first", interval: time.Hour}
	second := &countingTask{name: "second", interval: time.Hour}
	s.Register(first)
	s.Register(second)
	s.Start()
	defer func() {
		require.NoError(t, s.Stop())
	}()

	time.Sleep(75 * time.Millisecond)
	require.Equal(t, int32(1), first.count())
	require.Equal(t, int32(0), second.count(), "second task starts one stagger later")

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, int32(1), second.count())
}

func TestScheduler_StopHaltsTasks(t *testing.T) {
	s := New(context.Background(), 0)
	task := &countingTask{name: "task", interval: 20 * time.Millisecond}
	s.Register(task)
	s.Start()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Stop())
	stopped := task.count()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, stopped, task.count())
}
