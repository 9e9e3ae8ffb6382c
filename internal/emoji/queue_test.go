package emoji

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/metrics"
)

type recordingProcessor struct {
	mu      sync.Mutex
	order   []int64
	failFor map[int64]error
	block   chan struct{} // when non-nil, jobs wait here
}

func (p *recordingProcessor) Process(ctx context.Context, req core.PackRequest) (*core.JobOutcome, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.order = append(p.order, req.UserID)
	p.mu.Unlock()
	if err, ok := p.failFor[req.UserID]; ok {
		return nil, err
	}
	return &core.JobOutcome{
		Request:   req,
		Result:    core.PackResult{ShortName: fmt.Sprintf("pack_%d", req.UserID)},
		CreatedAt: time.Now().UTC(),
	}, nil
}

func reqFor(userID int64) core.PackRequest {
	return core.PackRequest{UserID: userID, RequestedAt: time.Now().UTC()}
}

func TestQueueResolvesFuture(t *testing.T) {
	proc := &recordingProcessor{}
	q := NewQueue(1, proc, nil)
	q.Start()
	defer q.Stop()

	future := q.Submit(reqFor(1))
	outcome, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, "pack_1", outcome.Result.ShortName)
}

func TestQueueFailsFuture(t *testing.T) {
	proc := &recordingProcessor{failFor: map[int64]error{
		2: core.NewError(core.RemoteContract, "set full"),
	}}
	q := NewQueue(1, proc, nil)
	q.Start()
	defer q.Stop()

	outcome, err := q.Submit(reqFor(2)).Wait(context.Background())
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.True(t, core.IsKind(err, core.RemoteContract))
}

func TestQueueFIFOWithSingleWorker(t *testing.T) {
	proc := &recordingProcessor{block: make(chan struct{})}
	q := NewQueue(1, proc, nil)
	q.Start()

	futures := []*Future{
		q.Submit(reqFor(1)),
		q.Submit(reqFor(2)),
		q.Submit(reqFor(3)),
	}
	close(proc.block)
	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	q.Stop()

	assert.Equal(t, []int64{1, 2, 3}, proc.order)
}

func TestQueueStopDrainsInFlight(t *testing.T) {
	proc := &recordingProcessor{block: make(chan struct{})}
	q := NewQueue(2, proc, nil)
	q.Start()

	f1 := q.Submit(reqFor(1))
	f2 := q.Submit(reqFor(2))

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(proc.block)
	}()
	q.Stop()

	for _, f := range []*Future{f1, f2} {
		select {
		case <-f.Done():
		default:
			t.Fatal("future not settled after Stop")
		}
	}
}

func TestQueueStopIdempotent(t *testing.T) {
	q := NewQueue(2, &recordingProcessor{}, nil)
	q.Start()
	q.Stop()
	q.Stop()
}

func TestQueueStartIdempotent(t *testing.T) {
	proc := &recordingProcessor{}
	q := NewQueue(1, proc, nil)
	q.Start()
	q.Start()

	_, err := q.Submit(reqFor(1)).Wait(context.Background())
	require.NoError(t, err)
	q.Stop()

	// One worker, one job: a doubled Start must not double the workers.
	assert.Len(t, proc.order, 1)
}

func TestSubmitAfterStopFails(t *testing.T) {
	q := NewQueue(1, &recordingProcessor{}, nil)
	q.Start()
	q.Stop()

	_, err := q.Submit(reqFor(1)).Wait(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.Fatal))
}

type stallingProcessor struct {
	entered chan struct{}
	block   chan struct{}
}

func (p *stallingProcessor) Process(ctx context.Context, req core.PackRequest) (*core.JobOutcome, error) {
	p.entered <- struct{}{}
	<-p.block
	return &core.JobOutcome{Request: req, CreatedAt: time.Now().UTC()}, nil
}

func TestQueueDepthGaugeNeverUndercounts(t *testing.T) {
	proc := &stallingProcessor{entered: make(chan struct{}, 3), block: make(chan struct{})}
	q := NewQueue(1, proc, nil)
	q.Start()

	baseline := testutil.ToFloat64(metrics.QueueDepth)

	f1 := q.Submit(reqFor(1))
	<-proc.entered // worker holds job 1 in flight

	f2 := q.Submit(reqFor(2))
	f3 := q.Submit(reqFor(3))
	// Both submissions are visible in the gauge before Submit returns.
	assert.Equal(t, baseline+2, testutil.ToFloat64(metrics.QueueDepth))

	close(proc.block)
	for _, f := range []*Future{f1, f2, f3} {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	q.Stop()

	assert.Equal(t, baseline, testutil.ToFloat64(metrics.QueueDepth))
}

func TestFutureWaitHonorsContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureMultipleWaiters(t *testing.T) {
	proc := &recordingProcessor{}
	q := NewQueue(1, proc, nil)
	q.Start()
	defer q.Stop()

	future := q.Submit(reqFor(5))
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := future.Wait(context.Background())
			assert.NoError(t, err)
			assert.NotNil(t, outcome)
		}()
	}
	wg.Wait()
}
