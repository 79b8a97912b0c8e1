// Package session holds the authoritative in-memory record of live and
// historical call sessions. Every mutation passes through a per-call
// exclusivity gate: no two mutations on the same call id ever run
// concurrently, mutations on different ids are independent. This gate is
// the concurrency backbone that lets the state machine stay pure.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxlink-backend/internal/domain"
	"voxlink-backend/pkg/errors"
	"voxlink-backend/pkg/logger"
)

// Archiver receives a snapshot of every committed call state, typically
// backed by CockroachDB for call-log queries. Archive failures do not
// fail the mutation: the in-memory record stays the source of truth and
// the service keeps signaling in limited mode.
type Archiver interface {
	Save(ctx context.Context, call *domain.Call) error
}

// Store is the in-memory session store
type Store struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
	archive Archiver // optional
}

type entry struct {
	mu   sync.Mutex
	call *domain.Call
}

// NewStore creates a session store. archive may be nil.
func NewStore(archive Archiver) *Store {
	return &Store{
		entries: make(map[uuid.UUID]*entry),
		archive: archive,
	}
}

// Create registers a new call. The stored instance is a private copy.
func (s *Store) Create(ctx context.Context, call *domain.Call) error {
	s.mu.Lock()
	if _, exists := s.entries[call.CallID]; exists {
		s.mu.Unlock()
		return errors.InvalidStateError("call already exists")
	}
	s.entries[call.CallID] = &entry{call: call.Clone()}
	s.mu.Unlock()

	s.archiveSnapshot(ctx, call)
	return nil
}

// Get returns a copy of the call, or CallNotFound
func (s *Store) Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	s.mu.RLock()
	e, ok := s.entries[callID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.CallNotFoundError()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.call.Clone(), nil
}

// Mutate applies fn to the call under the per-call exclusivity gate. fn
// receives a private copy and returns the state to commit; if fn errors the
// stored state is untouched. The committed state is returned as a copy.
func (s *Store) Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.Call) (*domain.Call, error)) (*domain.Call, error) {
	s.mu.RLock()
	e, ok := s.entries[callID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.CallNotFoundError()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := fn(e.call.Clone())
	if err != nil {
		return nil, err
	}
	e.call = next

	s.archiveSnapshot(ctx, next)
	return next.Clone(), nil
}

// RingingBefore returns the ids of calls still ringing whose ring started
// at or before cutoff. The reaper uses this to find abandoned sessions.
func (s *Store) RingingBefore(ctx context.Context, cutoff time.Time) []uuid.UUID {
	s.mu.RLock()
	candidates := make([]*entry, 0)
	for _, e := range s.entries {
		candidates = append(candidates, e)
	}
	s.mu.RUnlock()

	var ids []uuid.UUID
	for _, e := range candidates {
		e.mu.Lock()
		if e.call.Status == domain.CallRinging && !e.call.RingStartedAt.After(cutoff) {
			ids = append(ids, e.call.CallID)
		}
		e.mu.Unlock()
	}
	return ids
}

func (s *Store) archiveSnapshot(ctx context.Context, call *domain.Call) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Save(ctx, call); err != nil {
		logger.Warn("failed to archive call snapshot",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
	}
}
