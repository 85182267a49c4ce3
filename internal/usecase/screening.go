package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/retina-screen/internal/hydrator"
	"github.com/example/retina-screen/internal/inference"
	"github.com/example/retina-screen/internal/intake"
	"github.com/example/retina-screen/internal/logging"
	"github.com/example/retina-screen/internal/metrics"
	"github.com/example/retina-screen/internal/orchestrator"
	"github.com/example/retina-screen/internal/report"
	"github.com/example/retina-screen/internal/repository"
	"github.com/example/retina-screen/internal/screening"
)

// ImageLabel captions the analyzed image on the report.
const ImageLabel = "Uploaded Image"

// AttemptLog defines the persistence operations used for submission bookkeeping.
type AttemptLog interface {
	SaveLog(ctx context.Context, log *repository.SubmissionLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Exporter converts a mounted report surface into a document.
type Exporter interface {
	Export(ctx context.Context, surface *report.Surface) (*report.Document, error)
}

// Settings tunes the workflow timings.
type Settings struct {
	TickInterval   time.Duration
	MaxIncrement   float64
	HydrationDelay time.Duration
	NavigationTTL  time.Duration
}

// Transition is the route change produced by a successful submission.
type Transition struct {
	Ticket string
	Path   string
	Result *screening.AnalysisResult
}

// ReportView is the outcome of opening the report view.
type ReportView struct {
	State  hydrator.State
	Result *screening.AnalysisResult
	// Missing is set when the view reached the empty state.
	Missing error
}

// CandidateInfo describes the selected image without its payload.
type CandidateInfo struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Size      int    `json:"size"`
}

// PreviewInfo is the displayable rendition of the candidate.
type PreviewInfo struct {
	DataURI string `json:"data_uri"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	SessionID     string                   `json:"session_id"`
	Candidate     *CandidateInfo           `json:"candidate"`
	Preview       *PreviewInfo             `json:"preview"`
	Progress      float64                  `json:"progress"`
	Busy          bool                     `json:"busy"`
	ReportState   hydrator.State           `json:"report_state,omitempty"`
	Notifications []screening.Notification `json:"notifications"`
}

// ScreeningUseCase owns the sessions and drives each through intake, submission,
// hydration and export.
type ScreeningUseCase struct {
	client   inference.Client
	nav      NavigationStore
	attempts AttemptLog
	exporter Exporter
	hydrator *hydrator.Hydrator
	logger   *zap.Logger
	settings Settings
	sessions *sessionStore
	now      func() time.Time

	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewScreeningUseCase constructs the use case. attempts may be nil to disable the attempt log.
func NewScreeningUseCase(client inference.Client, nav NavigationStore, attempts AttemptLog, exporter Exporter, logger *zap.Logger, settings Settings) *ScreeningUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.NavigationTTL <= 0 {
		settings.NavigationTTL = 10 * time.Minute
	}
	h := hydrator.New(logger,
		hydrator.WithDelay(settings.HydrationDelay),
		hydrator.WithSynthesisHook(func(count int) {
			metrics.SynthesizedConfidencesTotal.Add(float64(count))
		}),
	)
	return &ScreeningUseCase{
		client:         client,
		nav:            nav,
		attempts:       attempts,
		exporter:       exporter,
		hydrator:       h,
		logger:         logger.Named("screening_usecase"),
		settings:       settings,
		sessions:       newSessionStore(),
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// CreateSession opens an empty workflow.
func (uc *ScreeningUseCase) CreateSession(ctx context.Context) *Session {
	queue := &screening.NotificationQueue{}
	opts := []orchestrator.Option{
		orchestrator.WithTickInterval(uc.settings.TickInterval),
		orchestrator.WithProgressObserver(func(float64) {
			metrics.ProgressTicksTotal.Inc()
		}),
	}
	if uc.settings.MaxIncrement > 0 {
		opts = append(opts, orchestrator.WithMaxIncrement(uc.settings.MaxIncrement))
	}
	orch := orchestrator.New(uc.client, queue, uc.logger, opts...)
	now := uc.now()
	s := &Session{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		notifications: queue,
		intake:        intake.New(queue, orch, uc.logger),
		orchestrator:  orch,
		lastSeen:      now,
	}
	uc.sessions.put(s)
	logging.WithOperation(uc.logger, "usecase.create_session", s.ID).Info("session created")
	return s
}

// Session looks up a live session.
func (uc *ScreeningUseCase) Session(id string) (*Session, error) {
	s, ok := uc.sessions.get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(uc.now())
	return s, nil
}

// AcceptImage offers f to the session's intake. Leaving for the intake dismisses any open report.
// It is refused while a submission is in flight so a failed call leaves its candidate in place.
func (uc *ScreeningUseCase) AcceptImage(ctx context.Context, sessionID string, f intake.File, source intake.Source) (*screening.UploadCandidate, error) {
	s, err := uc.Session(sessionID)
	if err != nil {
		return nil, err
	}
	var candidate *screening.UploadCandidate
	err = s.orchestrator.DoIfIdle(func() error {
		s.dismissReport()
		var acceptErr error
		if source == intake.SourceDrop {
			candidate, acceptErr = s.intake.AcceptDrop(f)
		} else {
			candidate, acceptErr = s.intake.AcceptPick(f)
		}
		return acceptErr
	})
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

// ClearImage removes the candidate and its preview. It is refused while a submission is in flight.
func (uc *ScreeningUseCase) ClearImage(ctx context.Context, sessionID string) error {
	s, err := uc.Session(sessionID)
	if err != nil {
		return err
	}
	return s.orchestrator.DoIfIdle(func() error {
		s.dismissReport()
		s.intake.Clear()
		return nil
	})
}

// Submit sends the current candidate for analysis and, on success, hands the result to the
// report view through a one-shot ticket. The remote call is not aborted when ctx ends.
func (uc *ScreeningUseCase) Submit(ctx context.Context, sessionID string, permitted bool) (*Transition, error) {
	s, err := uc.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if !permitted {
		return nil, screening.ErrSubmissionNotPermitted
	}
	s.dismissReport()

	opLogger := logging.WithOperation(uc.logger, "usecase.submit", sessionID)
	callCtx := context.WithoutCancel(ctx)

	started := time.Now()
	metrics.SubmissionsInFlight.Inc()
	candidate, result, err := s.orchestrator.SubmitFrom(callCtx, s.intake.Candidate)
	metrics.SubmissionsInFlight.Dec()
	if errors.Is(err, screening.ErrBusy) || errors.Is(err, screening.ErrNoCandidate) {
		return nil, err
	}
	latency := time.Since(started)
	uc.recordAttempt(callCtx, sessionID, candidate, err, latency)

	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("failure").Inc()
		metrics.SubmissionDurationSeconds.WithLabelValues("failure").Observe(latency.Seconds())
		return nil, err
	}
	metrics.SubmissionsTotal.WithLabelValues("success").Inc()
	metrics.SubmissionDurationSeconds.WithLabelValues("success").Observe(latency.Seconds())

	payload, err := json.Marshal(result)
	if err != nil {
		opLogger.Error("failed to serialize analysis result", zap.Error(err))
		return nil, logging.NewOperationError("usecase.encode_result", sessionID, err)
	}

	ticket := uuid.NewString()
	key := navigationKey(sessionID, ticket)
	if _, err := uc.withRedisRetry(callCtx, sessionID, navigationSet, func() error {
		return uc.nav.Set(callCtx, key, string(payload), uc.settings.NavigationTTL)
	}); err != nil {
		opLogger.Error("failed to hand result to the report view", zap.Error(err))
		return nil, err
	}
	s.recordHandoff(ticket, candidate)

	return &Transition{
		Ticket: ticket,
		Path:   fmt.Sprintf("/sessions/%s/report?ticket=%s", sessionID, url.QueryEscape(ticket)),
		Result: result,
	}, nil
}

func (uc *ScreeningUseCase) recordAttempt(ctx context.Context, sessionID string, candidate *screening.UploadCandidate, callErr error, latency time.Duration) {
	if uc.attempts == nil {
		return
	}
	sum := sha1.Sum(candidate.Data)
	log := &repository.SubmissionLog{
		RequestID: uuid.NewString(),
		SessionID: sessionID,
		Success:   callErr == nil,
		LatencyMs: latency.Milliseconds(),
		SHA1Hash:  hex.EncodeToString(sum[:]),
		MediaType: candidate.MediaType,
		CreatedAt: uc.now().UTC(),
	}
	var subErr *screening.SubmissionError
	if errors.As(callErr, &subErr) {
		log.StatusCode = subErr.StatusCode
	}
	if err := uc.attempts.SaveLog(ctx, log); err != nil {
		logging.WithOperation(uc.logger, "usecase.save_attempt", sessionID).Warn("failed to persist submission attempt", zap.Error(err))
	}
}

// OpenReport mounts a report view for ticket and runs it to a terminal state. An unknown,
// consumed or empty ticket yields the empty state. If ctx ends or the view is dismissed
// during the display delay the view is unmounted and the context error returned.
func (uc *ScreeningUseCase) OpenReport(ctx context.Context, sessionID, ticket string) (*ReportView, error) {
	s, err := uc.Session(sessionID)
	if err != nil {
		return nil, err
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.open_report", sessionID)

	var msg hydrator.Message
	if ticket != "" {
		result, err := uc.takeNavigation(ctx, sessionID, ticket)
		if err != nil {
			return nil, err
		}
		msg.Result = result
	}

	view := uc.hydrator.Open(msg)
	viewCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mountReport(view, cancel)

	if err := view.Run(viewCtx); err != nil {
		s.unmountIf(view)
		opLogger.Info("report view dismissed before it was ready", zap.Error(err))
		return nil, err
	}

	state := view.State()
	metrics.HydrationsTotal.WithLabelValues(string(state)).Inc()

	rv := &ReportView{State: state}
	result, ok := view.Result()
	if !ok {
		rv.Missing = view.Missing()
		return rv, nil
	}
	rv.Result = result

	var images []report.ImageElement
	if ref := imageRef(result, s.takeHandoff(ticket)); ref != "" {
		images = append(images, report.ImageElement{Label: ImageLabel, Ref: ref})
	}
	if !s.attachSurface(view, report.NewSurface(result, uc.now(), images...)) {
		opLogger.Debug("report view dismissed before its surface mounted")
	}
	return rv, nil
}

// takeNavigation consumes the hand-off stored under ticket. A miss returns a nil result.
func (uc *ScreeningUseCase) takeNavigation(ctx context.Context, sessionID, ticket string) (*screening.AnalysisResult, error) {
	var (
		raw   string
		found bool
	)
	key := navigationKey(sessionID, ticket)
	_, err := uc.withRedisRetry(ctx, sessionID, navigationGetDel, func() error {
		value, err := uc.nav.GetDel(ctx, key)
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, found = value, true
		return nil
	})
	if err != nil || !found {
		return nil, err
	}

	var result screening.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logging.WithOperation(uc.logger, "usecase.open_report", sessionID).Warn("failed to decode handed off result", zap.Error(err))
		return nil, nil
	}
	return &result, nil
}

func imageRef(result *screening.AnalysisResult, submitted *screening.UploadCandidate) string {
	if result.ImageURL != "" {
		return result.ImageURL
	}
	if submitted != nil {
		return intake.DataURI(submitted.MediaType, submitted.Data)
	}
	return ""
}

// ExportReport captures the mounted report into a document. Without a mounted report it
// fails with an ExportPreconditionError and produces nothing.
func (uc *ScreeningUseCase) ExportReport(ctx context.Context, sessionID string) (*report.Document, error) {
	s, err := uc.Session(sessionID)
	if err != nil {
		return nil, err
	}
	doc, err := uc.exporter.Export(ctx, s.currentSurface())
	var pre *screening.ExportPreconditionError
	switch {
	case err == nil:
		metrics.ExportsTotal.WithLabelValues("success").Inc()
	case errors.As(err, &pre):
		metrics.ExportsTotal.WithLabelValues("precondition").Inc()
	default:
		metrics.ExportsTotal.WithLabelValues("failure").Inc()
		logging.WithOperation(uc.logger, "usecase.export", sessionID).Error("report export failed", zap.Error(err))
	}
	return doc, err
}

// Snapshot reports the session state and drains its pending notifications.
func (uc *ScreeningUseCase) Snapshot(sessionID string) (*Snapshot, error) {
	s, err := uc.Session(sessionID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		SessionID:   s.ID,
		Progress:    s.orchestrator.Progress(),
		Busy:        s.orchestrator.Busy(),
		ReportState: s.reportState(),
	}
	if c := s.intake.Candidate(); c != nil {
		snap.Candidate = &CandidateInfo{Name: c.Name, MediaType: c.MediaType, Size: c.Size()}
	}
	if p, ok := s.intake.Preview(); ok {
		snap.Preview = &PreviewInfo{DataURI: p.DataURI, Width: p.Width, Height: p.Height}
	}
	snap.Notifications = s.notifications.Drain()
	if snap.Notifications == nil {
		snap.Notifications = []screening.Notification{}
	}
	return snap, nil
}

// ExpireSessions drops sessions idle for longer than idle every interval until ctx ends.
func (uc *ScreeningUseCase) ExpireSessions(ctx context.Context, idle, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			uc.expireIdle(idle)
		}
	}
}

func (uc *ScreeningUseCase) expireIdle(idle time.Duration) int {
	removed := uc.sessions.expire(uc.now().Add(-idle))
	for _, s := range removed {
		s.dismissReport()
		s.intake.Clear()
	}
	if len(removed) > 0 {
		uc.logger.Info("expired idle sessions", zap.Int("count", len(removed)), zap.Int("remaining", uc.sessions.count()))
	}
	return len(removed)
}

func navigationKey(sessionID, ticket string) string {
	return fmt.Sprintf("report:%s:%s", sessionID, ticket)
}
