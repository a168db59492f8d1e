package saga

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps transactions in process memory. It protects the map
// itself; callers that mutate a transaction concurrently must serialize
// through Save, which replaces the stored copy wholesale.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*Transaction)}
}

func (s *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("saga: transaction %s already exists", tx.ID)
	}
	s.txs[tx.ID] = tx.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return tx.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, tx.ID)
	}
	s.txs[tx.ID] = tx.Clone()
	return nil
}

// Len reports how many transactions the store holds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}
