package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/retina-screen/internal/inference"
	"github.com/example/retina-screen/internal/screening"
)

const (
	DefaultTickInterval = 200 * time.Millisecond
	DefaultMaxIncrement = 15.0
	maxProgress         = 100.0
)

// Orchestrator submits one candidate at a time and drives a cosmetic progress reading
// while the remote call is outstanding.
type Orchestrator struct {
	client       inference.Client
	notifier     screening.Notifier
	logger       *zap.Logger
	interval     time.Duration
	maxIncrement float64
	random       func() float64
	observe      func(progress float64)

	mu       sync.Mutex
	busy     bool
	holding  bool
	progress float64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTickInterval sets how often progress advances.
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithMaxIncrement bounds the random step added per tick.
func WithMaxIncrement(v float64) Option {
	return func(o *Orchestrator) {
		if v >= 0 {
			o.maxIncrement = v
		}
	}
}

// WithRandom replaces the [0,1) source used for progress steps.
func WithRandom(f func() float64) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.random = f
		}
	}
}

// WithProgressObserver is called with every new reading produced by a tick.
func WithProgressObserver(f func(progress float64)) Option {
	return func(o *Orchestrator) {
		o.observe = f
	}
}

// New constructs an Orchestrator. notifier may be nil.
func New(client inference.Client, notifier screening.Notifier, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		client:       client,
		notifier:     notifier,
		logger:       logger.Named("orchestrator"),
		interval:     DefaultTickInterval,
		maxIncrement: DefaultMaxIncrement,
		random:       rand.Float64,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit sends the candidate to the inference service and blocks until the call settles.
// The progress ticker is stopped and the busy flag cleared before Submit returns on every path.
func (o *Orchestrator) Submit(ctx context.Context, candidate *screening.UploadCandidate) (*screening.AnalysisResult, error) {
	_, result, err := o.SubmitFrom(ctx, func() *screening.UploadCandidate { return candidate })
	return result, err
}

// SubmitFrom reads the candidate from current in the same step that marks the orchestrator
// busy, so no DoIfIdle mutation can land between the two. It returns the candidate it sent.
func (o *Orchestrator) SubmitFrom(ctx context.Context, current func() *screening.UploadCandidate) (*screening.UploadCandidate, *screening.AnalysisResult, error) {
	o.mu.Lock()
	if o.busy || o.holding {
		o.mu.Unlock()
		return nil, nil, screening.ErrBusy
	}
	candidate := current()
	if candidate == nil {
		o.mu.Unlock()
		return nil, nil, screening.ErrNoCandidate
	}
	o.busy = true
	o.progress = 0
	o.mu.Unlock()

	result, err := o.run(ctx, candidate)
	return candidate, result, err
}

// DoIfIdle runs fn while no submission can start. It returns ErrBusy without calling fn when
// a submission is in flight or another DoIfIdle is running.
func (o *Orchestrator) DoIfIdle(fn func() error) error {
	o.mu.Lock()
	if o.busy || o.holding {
		o.mu.Unlock()
		return screening.ErrBusy
	}
	o.holding = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.holding = false
		o.mu.Unlock()
	}()
	return fn()
}

func (o *Orchestrator) run(ctx context.Context, candidate *screening.UploadCandidate) (*screening.AnalysisResult, error) {
	tickCtx, stopTicker := context.WithCancel(ctx)
	var ticker sync.WaitGroup
	ticker.Add(1)
	go func() {
		defer ticker.Done()
		o.tick(tickCtx)
	}()

	started := time.Now()
	result, err := o.client.Analyze(ctx, candidate)

	stopTicker()
	ticker.Wait()
	o.settle()

	if err != nil {
		var subErr *screening.SubmissionError
		if !errors.As(err, &subErr) {
			subErr = &screening.SubmissionError{Err: err}
		}
		o.logger.Error("submission failed",
			zap.Error(subErr),
			zap.String("name", candidate.Name),
			zap.Duration("latency", time.Since(started)),
		)
		if o.notifier != nil {
			o.notifier.Notify(screening.Notification{Kind: screening.NotifyDestructive, Title: "Analysis Failed"})
		}
		return nil, subErr
	}

	o.logger.Info("submission succeeded",
		zap.String("name", candidate.Name),
		zap.String("stage", result.Stage),
		zap.Duration("latency", time.Since(started)),
	)
	return result, nil
}

func (o *Orchestrator) tick(ctx context.Context) {
	t := time.NewTicker(o.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.advance()
		}
	}
}

func (o *Orchestrator) advance() {
	step := o.random() * o.maxIncrement
	o.mu.Lock()
	next := o.progress + step
	if next > maxProgress {
		next = maxProgress
	}
	if next < o.progress {
		next = o.progress
	}
	o.progress = next
	o.mu.Unlock()

	if o.observe != nil {
		o.observe(next)
	}
}

// settle discards the cosmetic reading and releases the busy flag.
func (o *Orchestrator) settle() {
	o.mu.Lock()
	o.busy = false
	o.progress = 0
	o.mu.Unlock()
}

// Busy reports whether a submission is in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Progress returns the current cosmetic reading in [0,100].
func (o *Orchestrator) Progress() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// ResetProgress sets the reading to zero. It is ignored while a submission is in flight.
func (o *Orchestrator) ResetProgress() {
	o.mu.Lock()
	if !o.busy {
		o.progress = 0
	}
	o.mu.Unlock()
}
