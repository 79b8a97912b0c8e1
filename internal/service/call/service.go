package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxlink-backend/internal/domain"
	pkgctx "voxlink-backend/pkg/context"
	"voxlink-backend/pkg/errors"
	"voxlink-backend/pkg/logger"
	"voxlink-backend/pkg/metrics"
	"voxlink-backend/pkg/pagination"
	"voxlink-backend/pkg/sanitize"
)

// Sessions is the session store contract. Mutate runs fn under the store's
// per-call exclusivity gate and commits the returned state.
type Sessions interface {
	Create(ctx context.Context, call *domain.Call) error
	Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.Call) (*domain.Call, error)) (*domain.Call, error)
	RingingBefore(ctx context.Context, cutoff time.Time) []uuid.UUID
}

// Directory resolves user profiles for participant denormalization
type Directory interface {
	Lookup(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	LookupMany(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Profile, error)
}

// ActivityTrail is the append-only per-call transition log
type ActivityTrail interface {
	Append(ctx context.Context, entry *domain.ActivityEntry) error
	List(ctx context.Context, callID uuid.UUID, limit int) ([]*domain.ActivityEntry, error)
}

// CallLog serves historical call queries from the archive
type CallLog interface {
	ListByUser(ctx context.Context, userID uuid.UUID, status domain.CallStatus, params *pagination.Params) ([]*domain.Call, int64, error)
}

// Pusher wakes devices with no live connection when a call is offered
type Pusher interface {
	SendCallOffer(ctx context.Context, userID uuid.UUID, call *domain.Call) error
}

// Service is the signaling router: it owns the load, decide, commit,
// fan-out cycle for every call lifecycle operation. All state decisions
// are delegated to the pure transition functions in this package; the
// service contributes I/O, clocks and delivery only.
type Service struct {
	sessions  Sessions
	directory Directory
	notifier  Notifier
	activity  ActivityTrail
	callLog   CallLog
	pusher    Pusher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures optional service collaborators
type Option func(*Service)

// WithActivityTrail records every transition to the given trail
func WithActivityTrail(a ActivityTrail) Option {
	return func(s *Service) { s.activity = a }
}

// WithCallLog enables historical call queries
func WithCallLog(l CallLog) Option {
	return func(s *Service) { s.callLog = l }
}

// WithPusher enables push wake-up on call offers
func WithPusher(p Pusher) Option {
	return func(s *Service) { s.pusher = p }
}

// WithMetrics enables instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a signaling service
func NewService(sessions Sessions, directory Directory, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		sessions:  sessions,
		directory: directory,
		notifier:  notifier,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRequest is the input to Start
type StartRequest struct {
	MediaKind domain.MediaKind `json:"media_kind" binding:"required"`
	CallKind  domain.CallKind  `json:"call_kind" binding:"required"`
	Title     string           `json:"title"`
	TargetIDs []uuid.UUID      `json:"target_ids" binding:"required"`
}

// Start creates a new ringing call from initiatorID to req.TargetIDs,
// registers it in the session store, fans out the offer and returns the
// created call.
func (s *Service) Start(ctx context.Context, initiatorID uuid.UUID, req StartRequest) (*domain.Call, error) {
	initiator, err := s.directory.Lookup(ctx, initiatorID)
	if err != nil {
		return nil, errors.DirectoryError("initiator could not be resolved")
	}

	profiles, err := s.directory.LookupMany(ctx, req.TargetIDs)
	if err != nil || len(profiles) != len(req.TargetIDs) {
		return nil, errors.DirectoryError("one or more targets could not be resolved")
	}
	targets := make([]domain.Profile, 0, len(profiles))
	for _, p := range profiles {
		targets = append(targets, *p)
	}

	at := s.now()
	c, notes, err := Start(StartInput{
		CallID:    uuid.New(),
		MediaKind: req.MediaKind,
		CallKind:  req.CallKind,
		Title:     sanitize.DisplayText(req.Title),
		Initiator: *initiator,
		Targets:   targets,
		At:        at,
	})
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, c); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, c, EventStart, initiatorID, at)
	for _, n := range notes {
		s.deliver(n)
	}
	s.pushOffer(c, req.TargetIDs)

	if s.metrics != nil {
		s.metrics.RecordCallStarted(string(c.MediaKind), string(c.CallKind))
	}

	logger.Info("call started",
		zap.String("call_id", c.CallID.String()),
		zap.String("initiator_id", initiatorID.String()),
		zap.String("call_kind", string(c.CallKind)),
		zap.Int("targets", len(targets)))

	return c.Clone(), nil
}

// Accept answers a ringing call without declaring a media stream
func (s *Service) Accept(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return s.apply(ctx, callID, Event{Kind: EventAccept, Actor: userID})
}

// Join answers or rejoins a call, publishing the participant's stream id
func (s *Service) Join(ctx context.Context, callID, userID uuid.UUID, streamID string) (*domain.Call, error) {
	return s.apply(ctx, callID, Event{Kind: EventJoin, Actor: userID, StreamID: streamID})
}

// Decline refuses a ringing invitation
func (s *Service) Decline(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return s.apply(ctx, callID, Event{Kind: EventDecline, Actor: userID})
}

// Missed marks an invitation as unanswered. Clients report it when their
// local ring times out; the reaper applies it server-side as a backstop.
func (s *Service) Missed(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return s.apply(ctx, callID, Event{Kind: EventMissed, Actor: userID})
}

// Leave exits an ongoing call
func (s *Service) Leave(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return s.apply(ctx, callID, Event{Kind: EventLeave, Actor: userID})
}

// Cancel withdraws a ringing call. Initiator only.
func (s *Service) Cancel(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return s.apply(ctx, callID, Event{Kind: EventCancel, Actor: userID})
}

// End terminates a call for everyone. durationSeconds is the caller's
// measured talk time and may be zero.
func (s *Service) End(ctx context.Context, callID, userID uuid.UUID, durationSeconds int) (*domain.Call, error) {
	return s.apply(ctx, callID, Event{Kind: EventEnd, Actor: userID, Duration: durationSeconds})
}

// Get returns the current call state to a member
func (s *Service) Get(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	c, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !c.IsMember(userID) {
		return nil, errors.ForbiddenError("user is not a participant of this call")
	}
	return c, nil
}

// History lists a user's archived calls, newest first. status filters to a
// single terminal status when non-empty.
func (s *Service) History(ctx context.Context, userID uuid.UUID, status domain.CallStatus, params *pagination.Params) ([]*domain.Call, int64, error) {
	if s.callLog == nil {
		return nil, 0, errors.ServiceUnavailableError("call history is not available")
	}
	return s.callLog.ListByUser(ctx, userID, status, params)
}

// Activity lists the transition trail of a call to a member
func (s *Service) Activity(ctx context.Context, callID, userID uuid.UUID, limit int) ([]*domain.ActivityEntry, error) {
	if s.activity == nil {
		return nil, errors.ServiceUnavailableError("call activity is not available")
	}
	if _, err := s.Get(ctx, callID, userID); err != nil {
		return nil, err
	}
	return s.activity.List(ctx, callID, limit)
}

// apply runs one event through the store's exclusivity gate, then fans out
// whatever the transition produced. Idempotent no-ops commit the unchanged
// state and deliver nothing.
func (s *Service) apply(ctx context.Context, callID uuid.UUID, ev Event) (*domain.Call, error) {
	ev.At = s.now()

	var notes []Notification
	next, err := s.sessions.Mutate(ctx, callID, func(c *domain.Call) (*domain.Call, error) {
		applied, n, err := Decide(c, ev)
		if err != nil {
			return nil, err
		}
		notes = n
		return applied, nil
	})
	if err != nil {
		if s.metrics != nil {
			if appErr := errors.GetAppError(err); appErr != nil {
				s.metrics.RecordCallEventRejected(string(ev.Kind), string(appErr.Code))
			}
		}
		return nil, err
	}

	if len(notes) == 0 {
		// Duplicate delivery of an already-applied event.
		return next, nil
	}

	s.recordActivity(ctx, next, ev.Kind, ev.Actor, ev.At)
	for _, n := range notes {
		s.deliver(n)
	}

	if s.metrics != nil {
		s.metrics.RecordCallEvent(string(ev.Kind))
		if next.Status.IsTerminal() {
			s.metrics.RecordCallTerminal(string(next.MediaKind), next.Duration)
		}
	}

	return next, nil
}

// recordActivity appends to the trail best-effort; the trail is an audit
// artifact, never a gate on signaling.
func (s *Service) recordActivity(ctx context.Context, c *domain.Call, ev EventKind, actor uuid.UUID, at time.Time) {
	if s.activity == nil {
		return
	}
	entry := &domain.ActivityEntry{
		CallID:     c.CallID,
		EntryID:    uuid.New(),
		OccurredAt: at,
		ActorID:    actor,
		Event:      string(ev),
		CallStatus: c.Status,
	}
	if err := s.activity.Append(ctx, entry); err != nil {
		logger.Warn("failed to record call activity",
			zap.String("call_id", c.CallID.String()),
			zap.String("event", string(ev)),
			zap.Error(err))
	}
}

// pushOffer wakes each target's devices. The push layer decides per token
// whether a wake-up is needed; failures are logged and dropped.
func (s *Service) pushOffer(c *domain.Call, targets []uuid.UUID) {
	if s.pusher == nil {
		return
	}
	snapshot := c.Clone()
	go func() {
		ctx, cancel := pkgctx.WithMediumTimeout(context.Background())
		defer cancel()
		for _, userID := range targets {
			if err := s.pusher.SendCallOffer(ctx, userID, snapshot); err != nil {
				logger.Warn("failed to push call offer",
					zap.String("call_id", snapshot.CallID.String()),
					zap.String("user_id", userID.String()),
					zap.Error(err))
			}
		}
	}()
}
