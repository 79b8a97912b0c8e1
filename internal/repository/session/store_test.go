package session

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
	"voxlink-backend/pkg/errors"
)

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Save(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func newCall(status domain.CallStatus, ringStart time.Time) *domain.Call {
	id := uuid.New()
	return &domain.Call{
		CallID:        id,
		MediaKind:     domain.MediaAudio,
		CallKind:      domain.CallDirect,
		ChannelID:     domain.ChannelIDFor(id),
		Status:        status,
		InitiatorID:   uuid.New(),
		CreatedAt:     ringStart,
		RingStartedAt: ringStart,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(nil)
	c := newCall(domain.CallRinging, time.Now())

	require.NoError(t, store.Create(context.Background(), c))

	got, err := store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, c.CallID, got.CallID)

	// Get hands out copies, not the stored instance.
	got.Status = domain.CallEnded
	again, err := store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, again.Status)
}

func TestStore_CreateDuplicate(t *testing.T) {
	store := NewStore(nil)
	c := newCall(domain.CallRinging, time.Now())

	require.NoError(t, store.Create(context.Background(), c))
	err := store.Create(context.Background(), c)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, errors.GetAppError(err).Code)
}

func TestStore_GetUnknown(t *testing.T) {
	store := NewStore(nil)

	_, err := store.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCallNotFound, errors.GetAppError(err).Code)
}

func TestStore_MutateCommitsOnSuccess(t *testing.T) {
	store := NewStore(nil)
	c := newCall(domain.CallRinging, time.Now())
	require.NoError(t, store.Create(context.Background(), c))

	next, err := store.Mutate(context.Background(), c.CallID, func(cur *domain.Call) (*domain.Call, error) {
		cur.Status = domain.CallOngoing
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallOngoing, next.Status)

	stored, err := store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallOngoing, stored.Status)
}

func TestStore_MutateRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	c := newCall(domain.CallRinging, time.Now())
	require.NoError(t, store.Create(context.Background(), c))

	_, err := store.Mutate(context.Background(), c.CallID, func(cur *domain.Call) (*domain.Call, error) {
		cur.Status = domain.CallEnded
		return nil, errors.InvalidStateError("rejected")
	})
	require.Error(t, err)

	stored, err := store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, stored.Status)
}

// Concurrent mutations on one call must serialize: N concurrent increments
// observe each other's writes.
func TestStore_MutateSerializesPerCall(t *testing.T) {
	store := NewStore(nil)
	c := newCall(domain.CallRinging, time.Now())
	require.NoError(t, store.Create(context.Background(), c))

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Mutate(context.Background(), c.CallID, func(cur *domain.Call) (*domain.Call, error) {
				cur.Duration++
				return cur, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := store.Get(context.Background(), c.CallID)
	require.NoError(t, err)
	assert.Equal(t, workers, final.Duration)
}

func TestStore_RingingBefore(t *testing.T) {
	store := NewStore(nil)
	now := time.Now()

	stale := newCall(domain.CallRinging, now.Add(-2*time.Minute))
	fresh := newCall(domain.CallRinging, now.Add(-10*time.Second))
	done := newCall(domain.CallEnded, now.Add(-5*time.Minute))

	for _, c := range []*domain.Call{stale, fresh, done} {
		require.NoError(t, store.Create(context.Background(), c))
	}

	ids := store.RingingBefore(context.Background(), now.Add(-time.Minute))
	assert.Equal(t, []uuid.UUID{stale.CallID}, ids)
}

func TestStore_ArchiveIsWriteThroughBestEffort(t *testing.T) {
	archive := new(mockArchiver)
	store := NewStore(archive)
	c := newCall(domain.CallRinging, time.Now())

	archive.On("Save", mock.Anything, mock.Anything).Return(errors.DatabaseError(assert.AnError))

	// Archive failures never fail the session operation.
	require.NoError(t, store.Create(context.Background(), c))
	_, err := store.Mutate(context.Background(), c.CallID, func(cur *domain.Call) (*domain.Call, error) {
		cur.Status = domain.CallOngoing
		return cur, nil
	})
	require.NoError(t, err)

	archive.AssertNumberOfCalls(t, "Save", 2)
}
