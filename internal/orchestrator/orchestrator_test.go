package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/retina-screen/internal/screening"
)

type blockingClient struct {
	release chan struct{}
	result  *screening.AnalysisResult
	err     error
	calls   int
	mu      sync.Mutex
}

func (c *blockingClient) Analyze(ctx context.Context, candidate *screening.UploadCandidate) (*screening.AnalysisResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.result, c.err
}

type readings struct {
	mu     sync.Mutex
	values []float64
	notify chan struct{}
}

func newReadings() *readings {
	return &readings{notify: make(chan struct{}, 1024)}
}

func (r *readings) observe(v float64) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *readings) snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}

func (r *readings) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("only %d of %d ticks observed", i, n)
		}
	}
}

var candidate = &screening.UploadCandidate{Name: "eye.jpg", MediaType: "image/jpeg", Data: []byte{1, 2, 3}}

func TestSubmitAdvancesProgressMonotonicallyUntilSettled(t *testing.T) {
	client := &blockingClient{release: make(chan struct{}), result: &screening.AnalysisResult{Stage: "Mild NPDR"}}
	obs := newReadings()
	o := New(client, nil, nil,
		WithTickInterval(time.Millisecond),
		WithRandom(func() float64 { return 0.9 }),
		WithProgressObserver(obs.observe),
	)

	done := make(chan struct{})
	var (
		result *screening.AnalysisResult
		err    error
	)
	go func() {
		defer close(done)
		result, err = o.Submit(context.Background(), candidate)
	}()

	obs.waitFor(t, 12)
	require.True(t, o.Busy())
	require.Equal(t, 100.0, o.Progress())
	close(client.release)
	<-done

	require.NoError(t, err)
	require.Equal(t, "Mild NPDR", result.Stage)
	require.False(t, o.Busy())
	require.Zero(t, o.Progress())

	values := obs.snapshot()
	for i, v := range values {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 100.0)
		if i > 0 {
			require.GreaterOrEqual(t, v, values[i-1])
		}
	}

	settled := len(obs.snapshot())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, settled, len(obs.snapshot()), "ticker kept running after settlement")
}

func TestSubmitFailureNotifiesAndClearsBusy(t *testing.T) {
	var notes screening.NotificationQueue
	client := &blockingClient{err: &screening.SubmissionError{StatusCode: 500, Err: errors.New("500 Internal Server Error")}}
	o := New(client, &notes, nil, WithTickInterval(time.Millisecond))

	_, err := o.Submit(context.Background(), candidate)

	var subErr *screening.SubmissionError
	require.True(t, errors.As(err, &subErr))
	require.Equal(t, 500, subErr.StatusCode)
	require.False(t, o.Busy())

	got := notes.Drain()
	require.Len(t, got, 1)
	require.Equal(t, "Analysis Failed", got[0].Title)
}

func TestSubmitWrapsPlainErrors(t *testing.T) {
	o := New(&blockingClient{err: errors.New("dial tcp: refused")}, nil, nil)
	_, err := o.Submit(context.Background(), candidate)
	var subErr *screening.SubmissionError
	require.True(t, errors.As(err, &subErr))
	require.Zero(t, subErr.StatusCode)
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	client := &blockingClient{release: make(chan struct{}), result: &screening.AnalysisResult{Stage: "No DR"}}
	obs := newReadings()
	o := New(client, nil, nil, WithTickInterval(time.Millisecond), WithProgressObserver(obs.observe))

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), candidate)
		done <- err
	}()
	obs.waitFor(t, 1)

	_, err := o.Submit(context.Background(), candidate)
	require.ErrorIs(t, err, screening.ErrBusy)

	close(client.release)
	require.NoError(t, <-done)
	require.Equal(t, 1, client.calls)
}

func TestSubmitWithoutCandidate(t *testing.T) {
	o := New(&blockingClient{}, nil, nil)
	_, err := o.Submit(context.Background(), nil)
	require.ErrorIs(t, err, screening.ErrNoCandidate)
	require.False(t, o.Busy())
}

func TestResetProgressIgnoredWhileBusy(t *testing.T) {
	client := &blockingClient{release: make(chan struct{}), result: &screening.AnalysisResult{Stage: "No DR"}}
	obs := newReadings()
	o := New(client, nil, nil,
		WithTickInterval(time.Millisecond),
		WithRandom(func() float64 { return 1 }),
		WithProgressObserver(obs.observe),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Submit(context.Background(), candidate)
	}()
	obs.waitFor(t, 1)

	o.ResetProgress()
	require.Greater(t, o.Progress(), 0.0)

	close(client.release)
	<-done
}

func TestDoIfIdleRefusedWhileBusy(t *testing.T) {
	client := &blockingClient{release: make(chan struct{}), result: &screening.AnalysisResult{Stage: "No DR"}}
	o := New(client, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), candidate)
		done <- err
	}()
	require.Eventually(t, o.Busy, time.Second, time.Millisecond)

	called := false
	err := o.DoIfIdle(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, screening.ErrBusy)
	require.False(t, called)

	close(client.release)
	require.NoError(t, <-done)
	require.NoError(t, o.DoIfIdle(func() error { return nil }))
}

func TestSubmitWaitsOutDoIfIdle(t *testing.T) {
	o := New(&blockingClient{result: &screening.AnalysisResult{Stage: "No DR"}}, nil, nil)

	var current *screening.UploadCandidate
	entered := make(chan struct{})
	release := make(chan struct{})
	held := make(chan error, 1)
	go func() {
		held <- o.DoIfIdle(func() error {
			close(entered)
			<-release
			current = candidate
			// ResetProgress is allowed from inside the idle section
			o.ResetProgress()
			return nil
		})
	}()
	<-entered

	_, _, err := o.SubmitFrom(context.Background(), func() *screening.UploadCandidate { return current })
	require.ErrorIs(t, err, screening.ErrBusy)

	close(release)
	require.NoError(t, <-held)

	sent, result, err := o.SubmitFrom(context.Background(), func() *screening.UploadCandidate { return current })
	require.NoError(t, err)
	require.Same(t, candidate, sent)
	require.Equal(t, "No DR", result.Stage)
	require.False(t, o.Busy())
}

func TestDoIfIdleReturnsFnError(t *testing.T) {
	o := New(&blockingClient{}, nil, nil)
	boom := errors.New("boom")
	require.ErrorIs(t, o.DoIfIdle(func() error { return boom }), boom)
	require.False(t, o.Busy())
}
