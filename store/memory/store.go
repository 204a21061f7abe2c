// Package memory implements store.Store in process memory. It is intended
// for tests and for embedding where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/store"
)

var _ store.Store = (*Store)(nil)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("purse/memory: store is closed")

type Store struct {
	mu     sync.RWMutex
	states map[string]*entitlement.State
	closed bool

	// failSave, when set, is returned by SaveState instead of persisting.
	failSave error
}

func New() *Store {
	return &Store{states: make(map[string]*entitlement.State)}
}

// FailSaves makes subsequent SaveState calls return err. Pass nil to restore
// normal behaviour. Used to exercise persistence failures.
func (s *Store) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = err
}

func (s *Store) GetState(_ context.Context, userID id.UserID) (*entitlement.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	st, ok := s.states[userID.String()]
	if !ok {
		return nil, entitlement.ErrNotFound
	}
	return st.Clone(), nil
}

func (s *Store) SaveState(_ context.Context, st *entitlement.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.failSave != nil {
		return s.failSave
	}
	s.states[st.UserID.String()] = st.Clone()
	return nil
}

func (s *Store) DeleteState(_ context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.states[userID.String()]; !ok {
		return entitlement.ErrNotFound
	}
	delete(s.states, userID.String())
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
