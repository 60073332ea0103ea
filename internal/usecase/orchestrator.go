package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
	"github.com/yokitheyo/cutout/internal/progress"
	"github.com/yokitheyo/cutout/internal/resources"
)

// session is one submission's lifecycle. Work started for a session carries
// its generation; results whose generation no longer matches are dropped.
type session struct {
	id           string
	gen          uint64
	scope        *resources.Scope
	stopProgress func()
}

type Option func(*Orchestrator)

// WithEngineTimeout bounds decode plus removal. A timeout fails the session
// with an engine error.
func WithEngineTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithProgressCeiling caps synthetic progress before the engine resolves.
func WithProgressCeiling(ceiling int) Option {
	return func(o *Orchestrator) {
		if ceiling > 0 && ceiling < 100 {
			o.ceiling = ceiling
		}
	}
}

func WithListener(l domain.SnapshotListener) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, l) }
}

// WithClock replaces time.Now for snapshot timestamps and download names.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs at most one processing session at a time. A new submit
// supersedes the current session; its in-flight engine call is left to
// finish but its outcome is discarded and its handles are released.
type Orchestrator struct {
	validator domain.Validator
	decoder   domain.Decoder
	remover   domain.Remover
	resources *resources.Manager
	reporter  progress.Reporter

	timeout time.Duration
	ceiling int
	now     func() time.Time

	mu        sync.Mutex
	gen       uint64
	seq       uint64
	current   *session
	snap      domain.Snapshot
	listeners []domain.SnapshotListener
	closed    bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewOrchestrator(
	validator domain.Validator,
	decoder domain.Decoder,
	remover domain.Remover,
	res *resources.Manager,
	reporter progress.Reporter,
	opts ...Option,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		validator: validator,
		decoder:   decoder,
		remover:   remover,
		resources: res,
		reporter:  reporter,
		ceiling:   progress.DefaultCeiling,
		now:       time.Now,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.snap = domain.Snapshot{Phase: domain.PhaseIdle, UpdatedAt: o.now()}
	return o
}

func (o *Orchestrator) Snapshot() domain.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copySnapshot(o.snap)
}

// Submit starts a new session for sub. A rejected submission resolves to
// failed immediately and the returned error is the rejection record; the
// engine is not called. An accepted one returns as soon as decoding starts.
func (o *Orchestrator) Submit(sub domain.ImageSubmission) (domain.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return copySnapshot(o.snap), domain.ErrClosed
	}

	if o.current != nil {
		zlog.Logger.Info().
			Str("session_id", o.current.id).
			Str("phase", string(o.snap.Phase)).
			Msg("session superseded by new submission")
		o.retireLocked()
	}

	o.gen++
	startedAt := o.now()
	s := &session{id: uuid.New().String(), gen: o.gen}
	s.scope = o.resources.NewScope(s.id)
	o.current = s

	o.snap = domain.Snapshot{
		SessionID: s.id,
		Phase:     domain.PhaseValidating,
		Filename:  sub.Filename,
		MediaType: sub.MediaType,
		Size:      sub.Size,
		StartedAt: &startedAt,
	}
	o.emitLocked()

	outcome := o.validator.Validate(sub)
	if !outcome.Accepted {
		rec := *outcome.Rejection
		zlog.Logger.Warn().
			Str("session_id", s.id).
			Str("reason", string(rec.Reason)).
			Str("media_type", sub.MediaType).
			Int64("size", sub.Size).
			Msg("submission rejected")
		o.failLocked(s, rec)
		return copySnapshot(o.snap), rec
	}
	sub = outcome.Submission
	o.snap.MediaType = sub.MediaType

	orig, err := s.scope.Acquire(o.baseCtx, domain.HandleOriginal, sub.Data, sub.MediaType)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("session_id", s.id).Msg("failed to acquire original handle")
		rec := domain.NewResourceError()
		o.failLocked(s, rec)
		return copySnapshot(o.snap), fmt.Errorf("%w: %v", rec, err)
	}

	o.snap.Phase = domain.PhaseDecoding
	o.snap.OriginalHandle = orig.ID
	o.emitLocked()

	gen := s.gen
	s.stopProgress = o.reporter.Start(func(percent int) { o.advance(gen, percent) })

	zlog.Logger.Info().
		Str("session_id", s.id).
		Str("filename", sub.Filename).
		Str("media_type", sub.MediaType).
		Int64("size", sub.Size).
		Msg("session started")

	o.wg.Add(1)
	go o.run(s, sub)

	return copySnapshot(o.snap), nil
}

// Reset returns a finished session to idle and releases its handles. It is
// a no-op when idle and refused while a session is still processing.
func (o *Orchestrator) Reset() (domain.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return copySnapshot(o.snap), nil
	}
	if o.snap.Phase.IsActive() {
		return copySnapshot(o.snap), domain.ErrSessionActive
	}

	id := o.current.id
	o.retireLocked()
	o.gen++
	o.snap = domain.Snapshot{Phase: domain.PhaseIdle}
	o.emitLocked()

	zlog.Logger.Info().Str("session_id", id).Msg("session reset")
	return copySnapshot(o.snap), nil
}

// Close releases the current session and waits for in-flight engine calls
// to return, or for ctx to expire.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	if o.current != nil {
		o.retireLocked()
	}
	o.gen++
	o.mu.Unlock()

	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for engine calls: %w", ctx.Err())
	}
}

func (o *Orchestrator) run(s *session, sub domain.ImageSubmission) {
	defer o.wg.Done()

	ctx := o.baseCtx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var img *domain.DecodedImage
	err := guard(func() (err error) {
		img, err = o.decoder.Decode(ctx, sub)
		return err
	})
	if err != nil {
		rec := domain.NewDecodeError()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrEngineFailed) {
			rec = domain.NewEngineError()
		}
		o.resolveFailure(s, rec, err)
		return
	}

	if !o.enterRemoving(s) {
		return
	}

	var out []byte
	err = guard(func() (err error) {
		out, err = o.remover.Remove(ctx, img)
		return err
	})
	if err != nil {
		o.resolveFailure(s, domain.NewEngineError(), err)
		return
	}

	o.resolveSuccess(s, img, out)
}

// guard turns an engine panic into an engine error.
func guard(call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrEngineFailed, r)
		}
	}()
	return call()
}

func (o *Orchestrator) enterRemoving(s *session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.isCurrentLocked(s) {
		zlog.Logger.Debug().Str("session_id", s.id).Msg("discarding decode result of stale session")
		return false
	}
	o.snap.Phase = domain.PhaseRemoving
	o.emitLocked()
	return true
}

func (o *Orchestrator) resolveSuccess(s *session, img *domain.DecodedImage, out []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.isCurrentLocked(s) {
		zlog.Logger.Debug().Str("session_id", s.id).Msg("discarding artifact of stale session")
		return
	}

	s.stopProgress()

	h, err := s.scope.Acquire(o.baseCtx, domain.HandleArtifact, out, "image/png")
	if err != nil {
		zlog.Logger.Error().Err(err).Str("session_id", s.id).Msg("failed to acquire artifact handle")
		o.failLocked(s, domain.NewResourceError())
		return
	}

	o.snap.Phase = domain.PhaseDone
	o.snap.Progress = 100
	o.snap.ArtifactHandle = h.ID
	o.emitLocked()

	zlog.Logger.Info().
		Str("session_id", s.id).
		Str("artifact_handle", h.ID).
		Int("width", img.Width).
		Int("height", img.Height).
		Msg("session done")
}

func (o *Orchestrator) resolveFailure(s *session, rec domain.ErrorRecord, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.isCurrentLocked(s) {
		zlog.Logger.Debug().Err(cause).Str("session_id", s.id).Msg("discarding failure of stale session")
		return
	}

	zlog.Logger.Error().
		Err(cause).
		Str("session_id", s.id).
		Str("kind", string(rec.Kind)).
		Str("phase", string(o.snap.Phase)).
		Msg("session failed")
	o.failLocked(s, rec)
}

// advance applies a progress value from the reporter of generation gen.
func (o *Orchestrator) advance(gen uint64, percent int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil || o.current.gen != gen || gen != o.gen {
		return
	}
	if o.snap.Phase != domain.PhaseDecoding && o.snap.Phase != domain.PhaseRemoving {
		return
	}
	if percent > o.ceiling {
		percent = o.ceiling
	}
	if percent <= o.snap.Progress {
		return
	}
	o.snap.Progress = percent
	o.emitLocked()
}

func (o *Orchestrator) isCurrentLocked(s *session) bool {
	return o.current == s && s.gen == o.gen && o.snap.Phase.IsActive()
}

func (o *Orchestrator) failLocked(s *session, rec domain.ErrorRecord) {
	if s.stopProgress != nil {
		s.stopProgress()
	}
	if err := s.scope.Close(o.baseCtx); err != nil {
		zlog.Logger.Warn().Err(err).Str("session_id", s.id).Msg("failed to release session handles")
	}

	o.snap.Phase = domain.PhaseFailed
	o.snap.OriginalHandle = ""
	o.snap.ArtifactHandle = ""
	o.snap.Error = &rec
	o.emitLocked()
}

// retireLocked stops and releases the current session without emitting.
func (o *Orchestrator) retireLocked() {
	s := o.current
	o.current = nil
	if s == nil {
		return
	}
	if s.stopProgress != nil {
		s.stopProgress()
	}
	if err := s.scope.Close(o.baseCtx); err != nil {
		zlog.Logger.Warn().Err(err).Str("session_id", s.id).Msg("failed to release session handles")
	}
}

func (o *Orchestrator) emitLocked() {
	o.seq++
	o.snap.Seq = o.seq
	o.snap.UpdatedAt = o.now()

	for _, l := range o.listeners {
		l.OnSnapshot(copySnapshot(o.snap))
	}
}

func copySnapshot(s domain.Snapshot) domain.Snapshot {
	if s.Error != nil {
		rec := *s.Error
		s.Error = &rec
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	return s
}
