package hydrator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/retina-screen/internal/screening"
)

// DefaultDelay is the display delay before a report is revealed.
const DefaultDelay = 2500 * time.Millisecond

// State of a report view.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateEmpty   State = "empty"
)

// Message carries the result handed over by navigation. A nil Result means no state was present.
type Message struct {
	Result *screening.AnalysisResult
}

// Hydrator opens report views.
type Hydrator struct {
	delay         time.Duration
	intN          func(n int) int
	logger        *zap.Logger
	onSynthesized func(count int)
}

// Option configures a Hydrator.
type Option func(*Hydrator)

// WithDelay overrides the display delay.
func WithDelay(d time.Duration) Option {
	return func(h *Hydrator) {
		if d >= 0 {
			h.delay = d
		}
	}
}

// WithIntN replaces the integer source used to synthesize missing confidences.
func WithIntN(f func(n int) int) Option {
	return func(h *Hydrator) {
		if f != nil {
			h.intN = f
		}
	}
}

// WithSynthesisHook is called with the number of confidences synthesized per hydration.
func WithSynthesisHook(f func(count int)) Option {
	return func(h *Hydrator) {
		h.onSynthesized = f
	}
}

// New constructs a Hydrator.
func New(logger *zap.Logger, opts ...Option) *Hydrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hydrator{
		delay:  DefaultDelay,
		intN:   rand.IntN,
		logger: logger.Named("hydrator"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open creates a view in the loading state for msg.
func (h *Hydrator) Open(msg Message) *View {
	return &View{
		hydrator: h,
		raw:      msg.Result,
		state:    StateLoading,
		done:     make(chan struct{}),
	}
}

// Hydrate returns a copy of raw in which every severity class has a confidence.
// Missing classes get a value in [50,100); present classes are left as they are and
// the five values are not normalized against each other.
func Hydrate(raw *screening.AnalysisResult, intN func(n int) int) (*screening.AnalysisResult, int) {
	out := raw.Clone()
	confidences := make(screening.Confidences, len(screening.SeverityClasses))
	synthesized := 0
	for _, class := range screening.SeverityClasses {
		if v, ok := raw.Confidences[class]; ok {
			confidences[class] = v
			continue
		}
		confidences[class] = float64(intN(50) + 50)
		synthesized++
	}
	out.Confidences = confidences
	return out, synthesized
}

// View is one activation of the report view.
type View struct {
	hydrator *Hydrator
	raw      *screening.AnalysisResult

	mu      sync.RWMutex
	state   State
	result  *screening.AnalysisResult
	running bool
	done    chan struct{}
}

// Run drives the view to a terminal state. It waits the display delay when a result is
// present and returns ctx.Err() if the view is dismissed first, leaving it in loading.
func (v *View) Run(ctx context.Context) error {
	v.mu.Lock()
	if v.running || v.state != StateLoading {
		v.mu.Unlock()
		return nil
	}
	v.running = true
	v.mu.Unlock()

	if v.raw == nil {
		v.finish(StateEmpty, nil)
		v.hydrator.logger.Info("report view opened without a result")
		return nil
	}

	timer := time.NewTimer(v.hydrator.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		v.mu.Lock()
		v.running = false
		v.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
	}

	hydrated, synthesized := Hydrate(v.raw, v.hydrator.intN)
	if synthesized > 0 {
		v.hydrator.logger.Debug("synthesized missing confidences", zap.Int("count", synthesized))
	}
	if v.hydrator.onSynthesized != nil {
		v.hydrator.onSynthesized(synthesized)
	}
	v.finish(StateReady, hydrated)
	return nil
}

func (v *View) finish(state State, result *screening.AnalysisResult) {
	v.mu.Lock()
	v.state = state
	v.result = result
	v.running = false
	v.mu.Unlock()
	close(v.done)
}

// State returns the current state.
func (v *View) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Result returns the hydrated result once ready.
func (v *View) Result() (*screening.AnalysisResult, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.result, v.state == StateReady
}

// Missing returns the terminal message for an empty view, or nil.
func (v *View) Missing() error {
	if v.State() != StateEmpty {
		return nil
	}
	return screening.MissingResultError{}
}

// Done is closed when the view reaches a terminal state.
func (v *View) Done() <-chan struct{} {
	return v.done
}
