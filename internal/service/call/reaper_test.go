package call

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voxlink-backend/internal/domain"
	"voxlink-backend/pkg/constants"
)

func TestReaper_ExpiresStaleRingingCalls(t *testing.T) {
	f := newFixture(t)
	reaper := NewReaper(f.service, constants.DefaultRingTimeout, constants.DefaultReaperInterval)

	c := f.startDirectCall(t)

	// Inside the ring window nothing is touched.
	f.advance(30 * time.Second)
	assert.Zero(t, reaper.Sweep(context.Background()))

	f.advance(31 * time.Second)
	assert.Equal(t, 1, reaper.Sweep(context.Background()))

	reaped, err := f.store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallMissed, reaped.Status)
	assert.Equal(t, domain.ParticipantMissed, reaped.Participant(bob.UserID).Status)
	assert.Equal(t, domain.ParticipantMissed, reaped.Participant(alice.UserID).Status)

	// Reaping flows through the regular delivery path.
	assert.Contains(t, f.notifier.userEvents(alice.UserID), string(NoteEnded))
}

func TestReaper_SkipsAnsweredCalls(t *testing.T) {
	f := newFixture(t)
	reaper := NewReaper(f.service, constants.DefaultRingTimeout, constants.DefaultReaperInterval)

	c := f.startDirectCall(t)
	_, err := f.service.Accept(context.Background(), c.CallID, bob.UserID)
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	assert.Zero(t, reaper.Sweep(context.Background()))

	ongoing, err := f.store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallOngoing, ongoing.Status)
}

func TestReaper_GroupExpiresOnlyOpenInvitations(t *testing.T) {
	f := newFixture(t)
	reaper := NewReaper(f.service, constants.DefaultRingTimeout, constants.DefaultReaperInterval)

	f.directory.On("LookupMany", mock.Anything, []uuid.UUID{bob.UserID, carol.UserID}).
		Return([]*domain.Profile{&bob, &carol}, nil).Once()
	c, err := f.service.Start(context.Background(), alice.UserID, StartRequest{
		MediaKind: domain.MediaVideo,
		CallKind:  domain.CallGroup,
		TargetIDs: []uuid.UUID{bob.UserID, carol.UserID},
	})
	require.NoError(t, err)

	_, err = f.service.Decline(context.Background(), c.CallID, bob.UserID)
	require.NoError(t, err)

	f.advance(2 * time.Minute)
	assert.Equal(t, 1, reaper.Sweep(context.Background()))

	reaped, err := f.store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallMissed, reaped.Status)
	assert.Equal(t, domain.ParticipantDeclined, reaped.Participant(bob.UserID).Status)
	assert.Equal(t, domain.ParticipantMissed, reaped.Participant(carol.UserID).Status)
}

func TestReaper_SweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	reaper := NewReaper(f.service, constants.DefaultRingTimeout, constants.DefaultReaperInterval)

	f.startDirectCall(t)
	f.advance(2 * time.Minute)

	assert.Equal(t, 1, reaper.Sweep(context.Background()))
	assert.Zero(t, reaper.Sweep(context.Background()))
}
