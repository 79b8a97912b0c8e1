package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voxlink-backend/internal/domain"
	"voxlink-backend/internal/repository/session"
	"voxlink-backend/pkg/errors"
)

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) Lookup(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *mockDirectory) LookupMany(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Profile, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Profile), args.Error(1)
}

// recordingNotifier captures fan-out instead of mocking it; delivery order
// and recipients are the interesting assertions here.
type recordingNotifier struct {
	mu     sync.Mutex
	toUser []delivered
	toChan []delivered
}

type delivered struct {
	recipient string
	event     string
	payload   Payload
}

func (n *recordingNotifier) ToUser(userID uuid.UUID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toUser = append(n.toUser, delivered{userID.String(), event, payload.(Payload)})
}

func (n *recordingNotifier) ToCall(channelID string, members []uuid.UUID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toChan = append(n.toChan, delivered{channelID, event, payload.(Payload)})
	for _, userID := range members {
		n.toUser = append(n.toUser, delivered{userID.String(), event, payload.(Payload)})
	}
}

func (n *recordingNotifier) userEvents(userID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var events []string
	for _, d := range n.toUser {
		if d.recipient == userID.String() {
			events = append(events, d.event)
		}
	}
	return events
}

type mockActivity struct {
	mock.Mock
}

func (m *mockActivity) Append(ctx context.Context, entry *domain.ActivityEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockActivity) List(ctx context.Context, callID uuid.UUID, limit int) ([]*domain.ActivityEntry, error) {
	args := m.Called(ctx, callID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ActivityEntry), args.Error(1)
}

type fixture struct {
	service   *Service
	store     *session.Store
	directory *mockDirectory
	notifier  *recordingNotifier
	activity  *mockActivity
	clock     *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := t0
	f := &fixture{
		store:     session.NewStore(nil),
		directory: new(mockDirectory),
		notifier:  new(recordingNotifier),
		activity:  new(mockActivity),
		clock:     &now,
	}
	f.service = NewService(f.store, f.directory, f.notifier,
		WithActivityTrail(f.activity),
		WithClock(func() time.Time { return *f.clock }),
	)

	f.directory.On("Lookup", mock.Anything, alice.UserID).Return(&alice, nil).Maybe()
	f.activity.On("Append", mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) startDirectCall(t *testing.T) *domain.Call {
	t.Helper()
	f.directory.On("LookupMany", mock.Anything, []uuid.UUID{bob.UserID}).
		Return([]*domain.Profile{&bob}, nil).Once()

	c, err := f.service.Start(context.Background(), alice.UserID, StartRequest{
		MediaKind: domain.MediaAudio,
		CallKind:  domain.CallDirect,
		TargetIDs: []uuid.UUID{bob.UserID},
	})
	require.NoError(t, err)
	return c
}

func TestService_Start(t *testing.T) {
	f := newFixture(t)
	c := f.startDirectCall(t)

	assert.Equal(t, domain.CallRinging, c.Status)

	// The offer reaches the target, the ack reaches the initiator.
	assert.Equal(t, []string{string(NoteCallOffered)}, f.notifier.userEvents(bob.UserID))
	assert.Equal(t, []string{string(NoteStartedAck)}, f.notifier.userEvents(alice.UserID))

	stored, err := f.store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, stored.Status)

	f.activity.AssertCalled(t, "Append", mock.Anything, mock.MatchedBy(func(e *domain.ActivityEntry) bool {
		return e.CallID == c.CallID && e.Event == string(EventStart) && e.CallStatus == domain.CallRinging
	}))
}

func TestService_Start_UnresolvableTarget(t *testing.T) {
	f := newFixture(t)
	ghost := uuid.New()
	f.directory.On("LookupMany", mock.Anything, []uuid.UUID{ghost}).
		Return(nil, errors.UserNotFoundError()).Once()

	_, err := f.service.Start(context.Background(), alice.UserID, StartRequest{
		MediaKind: domain.MediaAudio,
		CallKind:  domain.CallDirect,
		TargetIDs: []uuid.UUID{ghost},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDirectory, errors.GetAppError(err).Code)
	assert.Empty(t, f.notifier.toUser)
}

func TestService_AcceptFlow(t *testing.T) {
	f := newFixture(t)
	c := f.startDirectCall(t)

	f.advance(5 * time.Second)
	accepted, err := f.service.Accept(context.Background(), c.CallID, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallOngoing, accepted.Status)
	assert.Equal(t, 5, accepted.RingDuration)

	// status-changed fans out on the channel and to each member personally.
	assert.Contains(t, f.notifier.userEvents(alice.UserID), string(NoteStatusChanged))
	assert.Contains(t, f.notifier.userEvents(bob.UserID), string(NoteStatusChanged))
	require.NotEmpty(t, f.notifier.toChan)
	assert.Equal(t, c.ChannelID, f.notifier.toChan[0].recipient)
}

func TestService_DuplicateEventsDeliverNothing(t *testing.T) {
	f := newFixture(t)
	c := f.startDirectCall(t)

	_, err := f.service.Accept(context.Background(), c.CallID, bob.UserID)
	require.NoError(t, err)
	before := len(f.notifier.toUser) + len(f.notifier.toChan)

	again, err := f.service.Accept(context.Background(), c.CallID, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallOngoing, again.Status)
	assert.Equal(t, before, len(f.notifier.toUser)+len(f.notifier.toChan))
}

func TestService_DeclineEndsDirectCall(t *testing.T) {
	f := newFixture(t)
	c := f.startDirectCall(t)

	declined, err := f.service.Decline(context.Background(), c.CallID, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallDeclined, declined.Status)

	// The initiator hears about the teardown on their personal channel even
	// if they never joined the signaling channel.
	assert.Contains(t, f.notifier.userEvents(alice.UserID), string(NoteEnded))
}

func TestService_CancelNotifiesTarget(t *testing.T) {
	f := newFixture(t)
	c := f.startDirectCall(t)

	cancelled, err := f.service.Cancel(context.Background(), c.CallID, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallCancelled, cancelled.Status)
	assert.Contains(t, f.notifier.userEvents(bob.UserID), string(NoteEnded))
}

func TestService_EndRecordsDuration(t *testing.T) {
	f := newFixture(t)
	c := f.startDirectCall(t)

	f.advance(10 * time.Second)
	_, err := f.service.Accept(context.Background(), c.CallID, bob.UserID)
	require.NoError(t, err)

	f.advance(90 * time.Second)
	ended, err := f.service.End(context.Background(), c.CallID, alice.UserID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.CallEnded, ended.Status)
	assert.Equal(t, 90, ended.Duration)
	assert.Equal(t, 10, ended.RingDuration)
}

func TestService_Get(t *testing.T) {
	f := newFixture(t)
	c := f.startDirectCall(t)

	got, err := f.service.Get(context.Background(), c.CallID, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, c.CallID, got.CallID)

	_, err = f.service.Get(context.Background(), c.CallID, dave.UserID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.GetAppError(err).Code)

	_, err = f.service.Get(context.Background(), uuid.New(), alice.UserID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCallNotFound, errors.GetAppError(err).Code)
}

func TestService_InvalidEventKeepsState(t *testing.T) {
	f := newFixture(t)
	c := f.startDirectCall(t)

	_, err := f.service.Leave(context.Background(), c.CallID, bob.UserID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, errors.GetAppError(err).Code)

	stored, err := f.store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, stored.Status)
	assert.Equal(t, domain.ParticipantInvited, stored.Participant(bob.UserID).Status)
}

func TestService_ActivityTrailOrder(t *testing.T) {
	f := newFixture(t)

	var recorded []string
	f.activity.ExpectedCalls = nil
	f.activity.On("Append", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			recorded = append(recorded, args.Get(1).(*domain.ActivityEntry).Event)
		}).Return(nil)

	c := f.startDirectCall(t)
	_, err := f.service.Accept(context.Background(), c.CallID, bob.UserID)
	require.NoError(t, err)
	_, err = f.service.End(context.Background(), c.CallID, bob.UserID, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "accept", "end"}, recorded)
}
