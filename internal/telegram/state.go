package telegram

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
)

// PendingTTL is how long a transfer waits for confirmation
const PendingTTL = 5 * time.Minute

// PendingTransfer is a validated /transfer awaiting confirmation
type PendingTransfer struct {
	Request   transfer.Request
	ChatID    int64
	CreatedAt time.Time
}

// PendingStore holds at most one unconfirmed transfer per user
type PendingStore struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	pending map[int64]*PendingTransfer
}

func NewPendingStore(clock clockwork.Clock, ttl time.Duration) *PendingStore {
	return &PendingStore{
		clock:   clock,
		ttl:     ttl,
		pending: make(map[int64]*PendingTransfer),
	}
}

// Set replaces the user's pending transfer
func (s *PendingStore) Set(userID int64, p *PendingTransfer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.CreatedAt = s.clock.Now()
	s.pending[userID] = p
	s.sweep()
}

// Take removes and returns the user's pending transfer if it has not expired
func (s *PendingStore) Take(userID int64) (*PendingTransfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[userID]
	if !ok {
		return nil, false
	}
	delete(s.pending, userID)
	if s.expired(p) {
		return nil, false
	}
	return p, true
}

// Clear drops the user's pending transfer
func (s *PendingStore) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
}

// Len returns the number of stored transfers, expired ones included
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *PendingStore) expired(p *PendingTransfer) bool {
	return s.clock.Since(p.CreatedAt) > s.ttl
}

// sweep drops expired entries; callers hold mu
func (s *PendingStore) sweep() {
	for id, p := range s.pending {
		if s.expired(p) {
			delete(s.pending, id)
		}
	}
}
