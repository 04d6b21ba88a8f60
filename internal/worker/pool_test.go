package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/scanqueue/internal/model"
	"github.com/raysh454/scanqueue/internal/testutil"
	"github.com/raysh454/scanqueue/internal/worker"
)

func closePool(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
}

func TestPool_FIFOOrder(t *testing.T) {
	p := worker.New(worker.Config{Workers: 1}, testutil.NewDummyLogger())

	var mu sync.Mutex
	var order []string
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		id := id
		require.NoError(t, p.Submit(worker.Job{TaskID: id, Kind: "scan", Run: func(context.Context, string) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		}}))
	}
	closePool(t, p)
	assert.Equal(t, ids, order)
	assert.Equal(t, 5, p.Status().CompletedCount)
}

func TestPool_RunsAtMostCapacity(t *testing.T) {
	p := worker.New(worker.Config{Workers: 2}, nil)
	gate := make(chan struct{})
	started := make(chan string, 4)

	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		require.NoError(t, p.Submit(worker.Job{TaskID: id, Kind: "scan", Run: func(ctx context.Context, slot string) error {
			started <- slot
			<-gate
			return nil
		}}))
	}

	<-started
	<-started
	assert.Never(t, func() bool { return len(started) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	st := p.Status()
	assert.Equal(t, 2, st.Capacity)
	assert.Equal(t, 2, st.Busy)
	assert.Equal(t, 0, st.Idle)
	assert.Equal(t, 2, st.PendingCount)
	for _, w := range st.Workers {
		assert.Equal(t, model.SlotBusy, w.Status)
		assert.NotEmpty(t, w.CurrentTask)
	}

	close(gate)
	closePool(t, p)
	st = p.Status()
	assert.Equal(t, 4, st.CompletedCount)
	assert.Equal(t, 2, st.Idle)
	assert.Equal(t, 4, st.Workers[0].ScanCount+st.Workers[1].ScanCount)
}

func TestPool_FailedJobLeavesSlotIdle(t *testing.T) {
	p := worker.New(worker.Config{Workers: 1}, nil)
	require.NoError(t, p.Submit(worker.Job{TaskID: "bad", Kind: "scan", Run: func(context.Context, string) error {
		return errors.New("engine unreachable")
	}}))
	closePool(t, p)

	st := p.Status()
	assert.Equal(t, 1, st.FailedCount)
	assert.Equal(t, model.SlotIdle, st.Workers[0].Status)
	assert.Equal(t, 1, st.Workers[0].ErrorCount)
}

func TestPool_RecoversPanics(t *testing.T) {
	p := worker.New(worker.Config{Workers: 1}, testutil.NewDummyLogger())

	var panicErr error
	panicked := make(chan struct{})
	require.NoError(t, p.Submit(worker.Job{
		TaskID: "boom",
		Kind:   "scan",
		Run:    func(context.Context, string) error { panic("nil map write") },
		OnPanic: func(err error) {
			panicErr = err
			close(panicked)
		},
	}))
	<-panicked
	require.Eventually(t, func() bool { return p.Status().Errored == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, panicErr, worker.ErrPanic)
	assert.Contains(t, panicErr.Error(), "nil map write")

	// the errored slot keeps taking work
	done := make(chan struct{})
	require.NoError(t, p.Submit(worker.Job{TaskID: "next", Kind: "scan", Run: func(context.Context, string) error {
		close(done)
		return nil
	}}))
	<-done
	closePool(t, p)

	st := p.Status()
	assert.Equal(t, 1, st.FailedCount)
	assert.Equal(t, 1, st.CompletedCount)
	assert.Equal(t, model.SlotIdle, st.Workers[0].Status)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := worker.New(worker.Config{Workers: 1}, nil)
	closePool(t, p)
	err := p.Submit(worker.Job{TaskID: "late", Run: func(context.Context, string) error { return nil }})
	assert.ErrorIs(t, err, worker.ErrClosed)
}

func TestPool_CloseCancelsOnDeadline(t *testing.T) {
	p := worker.New(worker.Config{Workers: 1}, nil)
	running := make(chan struct{})
	var sawCancel bool
	require.NoError(t, p.Submit(worker.Job{TaskID: "slow", Run: func(ctx context.Context, _ string) error {
		close(running)
		<-ctx.Done()
		sawCancel = true
		return ctx.Err()
	}}))
	require.NoError(t, p.Submit(worker.Job{TaskID: "queued", Run: func(context.Context, string) error { return nil }}))
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, sawCancel)
	assert.Equal(t, 0, p.Status().CompletedCount)
}

func TestPool_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := worker.New(worker.Config{Workers: 2}, nil, worker.WithRegistry(reg))

	require.NoError(t, p.Submit(worker.Job{TaskID: "ok", Kind: "crawl", Run: func(context.Context, string) error { return nil }}))
	require.NoError(t, p.Submit(worker.Job{TaskID: "bad", Kind: "crawl", Run: func(context.Context, string) error { return errors.New("x") }}))
	closePool(t, p)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["scanqueue_jobs_total"])
	assert.True(t, names["scanqueue_job_duration_seconds"])
	assert.True(t, names["scanqueue_slots_busy"])
	assert.True(t, names["scanqueue_queue_depth"])

	count, err := promtestutil.GatherAndCount(reg, "scanqueue_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
