package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fincademy/sim-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// Per-user serialization uses one mutex per userID, mirroring the row-level
// lock the PostgreSQL implementation takes. Mutations are staged on deep
// copies and applied only when the UpdateUser callback succeeds, so a failed
// callback leaves no partial state.
type MemoryStore struct {
	startingBalance decimal.Decimal

	mu          sync.RWMutex
	portfolios  map[string]*model.Portfolio
	commitments map[string]*model.Commitment
	events      []model.SimulationEvent

	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewMemoryStore creates a new in-memory store. Portfolios are lazily created
// with the given starting balance on first mutation.
func NewMemoryStore(startingBalance decimal.Decimal) *MemoryStore {
	return &MemoryStore{
		startingBalance: startingBalance,
		portfolios:      make(map[string]*model.Portfolio),
		commitments:     make(map[string]*model.Commitment),
		userLocks:       make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

func (s *MemoryStore) GetPortfolio(_ context.Context, userID string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, userID string, fn func(tx Tx) error) error {
	// Serialize mutations per user; unrelated users do not contend.
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, userID: userID, commitments: make(map[string]*model.Commitment)}

	s.mu.RLock()
	if p, ok := s.portfolios[userID]; ok {
		tx.portfolio = p.Clone()
	} else {
		tx.portfolio = model.NewPortfolio(userID, s.startingBalance, time.Now().UTC())
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	// Commit staged writes atomically.
	s.mu.Lock()
	defer s.mu.Unlock()

	s.portfolios[userID] = tx.portfolio
	for id, c := range tx.commitments {
		s.commitments[id] = c
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *MemoryStore) GetCommitment(_ context.Context, id string) (*model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commitments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCommitmentsByUser(_ context.Context, userID string) ([]model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Commitment
	for _, c := range s.commitments {
		if c.UserID == userID {
			result = append(result, *c)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListEventsByUser(_ context.Context, userID string) ([]model.SimulationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SimulationEvent
	for _, e := range s.events {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

// memTx stages writes against deep copies until UpdateUser commits them.
type memTx struct {
	store       *MemoryStore
	userID      string
	portfolio   *model.Portfolio
	commitments map[string]*model.Commitment
	events      []model.SimulationEvent
}

func (t *memTx) Portfolio() (*model.Portfolio, error) {
	return t.portfolio, nil
}

func (t *memTx) SavePortfolio(p *model.Portfolio) error {
	t.portfolio = p.Clone()
	return nil
}

func (t *memTx) Commitment(id string) (*model.Commitment, error) {
	// Staged writes shadow committed state within the transaction.
	if c, ok := t.commitments[id]; ok {
		cp := *c
		return &cp, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	c, ok := t.store.commitments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *memTx) InsertCommitment(c *model.Commitment) error {
	cp := *c
	t.commitments[c.ID] = &cp
	return nil
}

func (t *memTx) UpdateCommitment(c *model.Commitment) error {
	cp := *c
	t.commitments[c.ID] = &cp
	return nil
}

func (t *memTx) AppendEvent(e *model.SimulationEvent) error {
	t.events = append(t.events, *e)
	return nil
}
