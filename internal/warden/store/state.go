package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

// PatchFunc receives the current record and returns the record to store.
type PatchFunc func(types.AccessState) types.AccessState

// State is the authoritative access state record. Reads never fail: backend
// errors fall back to the last record this process saw, and corrupt data is
// repaired to defaults. Saves are serialized so concurrent writers cannot
// lose each other's patches. A record whose write failed stays authoritative
// over the backend copy until a later write goes through.
type State struct {
	backend DocStore
	logger  zerolog.Logger

	mu    sync.Mutex
	last  types.AccessState
	dirty bool // last has not reached the backend yet
}

func NewState(backend DocStore, logger zerolog.Logger) *State {
	return &State{
		backend: backend,
		logger:  logger,
		last:    types.DefaultAccessState(),
	}
}

func (s *State) Load(ctx context.Context) types.AccessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		if err := s.persistLocked(ctx, s.last); err != nil {
			s.logger.Warn().Err(err).Msg("access state still not persisted")
		}
		return s.last
	}
	return s.loadLocked(ctx)
}

// Dirty reports whether the in-memory record is ahead of the backend.
func (s *State) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Save applies patch to the current record and persists the result. The
// patch runs exactly once. The patched record is returned even when the
// write fails; the error is logged and returned alongside it.
func (s *State) Save(ctx context.Context, patch PatchFunc) (types.AccessState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.last
	if !s.dirty {
		cur = s.loadLocked(ctx)
	}
	next := patch(cur).Normalize()
	s.last = next
	s.dirty = true

	if err := s.persistLocked(ctx, next); err != nil {
		s.logger.Error().Err(err).Msg("persist access state, keeping in-memory record")
		return next, err
	}
	return next, nil
}

func (s *State) persistLocked(ctx context.Context, st types.AccessState) error {
	doc, err := st.Encode()
	if err != nil {
		return fmt.Errorf("encode access state: %w", err)
	}
	if err := s.backend.PutDoc(ctx, doc); err != nil {
		return fmt.Errorf("persist access state: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *State) loadLocked(ctx context.Context) types.AccessState {
	doc, err := s.backend.GetDoc(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("read access state, using last known record")
		return s.last
	}
	if doc == nil {
		return s.last
	}

	st, repairs, err := types.DecodeAccessState(doc)
	if err != nil {
		s.logger.Warn().Err(err).Msg("stored access state is corrupt, reset to defaults")
	}
	for _, r := range repairs {
		ev := s.logger.Warn()
		if r.Invalid {
			ev = s.logger.Error()
		}
		ev.Str("field", r.Field).Msg("repaired access state sub-object to default")
	}
	s.last = st
	return st
}
