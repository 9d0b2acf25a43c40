// Package memory provides an in-memory ledger.Store for ledger tests that
// don't need the rest of the catalog.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps ledger entries per customer, ordered by CreatedAt.
type Memory struct {
	mu           sync.RWMutex
	transactions map[string][]ledger.Transaction // by customer
	byID         map[string]string               // transaction id -> customer
	idempotency  map[string]bool
	customers    map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[string][]ledger.Transaction),
		byID:         make(map[string]string),
		idempotency:  make(map[string]bool),
		customers:    make(map[string]bool),
	}
}

// AddCustomer registers a customer id so entries can be recorded for it.
func (m *Memory) AddCustomer(customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[customerID] = true
}

// AppendTransaction adds a single entry. Append-only.
func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	if _, ok := m.byID[tx.ID]; ok {
		return fmt.Errorf("%w: transaction %s exists", ledger.ErrConflict, tx.ID)
	}

	txs := m.transactions[tx.CustomerID]

	// Insert after every entry with the same or earlier CreatedAt so equal
	// timestamps keep insertion order
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].CreatedAt.After(tx.CreatedAt)
	})
	txs = append(txs, ledger.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.CustomerID] = txs

	m.byID[tx.ID] = tx.CustomerID
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

// GetTransaction returns nil, nil when the entry doesn't exist.
func (m *Memory) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, txs := m.findLocked(id)
	if i < 0 {
		return nil, nil
	}
	tx := txs[i]
	return &tx, nil
}

func (m *Memory) findLocked(id string) (int, []ledger.Transaction) {
	customerID, ok := m.byID[id]
	if !ok {
		return -1, nil
	}
	txs := m.transactions[customerID]
	for i := range txs {
		if txs[i].ID == id {
			return i, txs
		}
	}
	return -1, nil
}

// CustomerTransactions returns a copy of the customer's entries, oldest first.
func (m *Memory) CustomerTransactions(_ context.Context, customerID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Transaction, len(m.transactions[customerID]))
	copy(result, m.transactions[customerID])
	return result, nil
}

// ReferencingTransactions returns entries whose ReferenceID is refID.
func (m *Memory) ReferencingTransactions(_ context.Context, refID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, txs := range m.transactions {
		for _, tx := range txs {
			if tx.ReferenceID == refID {
				result = append(result, tx)
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) TransactionExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// UpdateTransactionStatus moves a PENDING entry to its final status.
func (m *Memory) UpdateTransactionStatus(_ context.Context, id string, status ledger.TxStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, txs := m.findLocked(id)
	if i < 0 || txs[i].Status != ledger.StatusPending {
		return fmt.Errorf("%w: transaction %s is not pending", ledger.ErrInvalidTransition, id)
	}
	txs[i].Status = status
	txs[i].UpdatedAt = at
	return nil
}

func (m *Memory) CustomerExists(_ context.Context, customerID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.customers[customerID], nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx runs fn against the store while holding the write lock. Writes made
// through the view are rolled back if fn returns an error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions map[string][]ledger.Transaction
	byID         map[string]string
	idempotency  map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		transactions: make(map[string][]ledger.Transaction, len(m.transactions)),
		byID:         make(map[string]string, len(m.byID)),
		idempotency:  make(map[string]bool, len(m.idempotency)),
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]ledger.Transaction{}, v...)
	}
	for k, v := range m.byID {
		s.byID[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.transactions = s.transactions
	m.byID = s.byID
	m.idempotency = s.idempotency
}

// txView is the Store handed to WithTx callbacks. The parent lock is already
// held, so it works on the maps directly.
type txView struct {
	parent *Memory
}

func (v *txView) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.parent.appendLocked(tx)
}

func (v *txView) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	i, txs := v.parent.findLocked(id)
	if i < 0 {
		return nil, nil
	}
	tx := txs[i]
	return &tx, nil
}

func (v *txView) CustomerTransactions(_ context.Context, customerID string) ([]ledger.Transaction, error) {
	return append([]ledger.Transaction{}, v.parent.transactions[customerID]...), nil
}

func (v *txView) ReferencingTransactions(_ context.Context, refID string) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for _, txs := range v.parent.transactions {
		for _, tx := range txs {
			if tx.ReferenceID == refID {
				result = append(result, tx)
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (v *txView) TransactionExists(_ context.Context, idempotencyKey string) (bool, error) {
	return v.parent.idempotency[idempotencyKey], nil
}

func (v *txView) UpdateTransactionStatus(_ context.Context, id string, status ledger.TxStatus, at time.Time) error {
	i, txs := v.parent.findLocked(id)
	if i < 0 || txs[i].Status != ledger.StatusPending {
		return fmt.Errorf("%w: transaction %s is not pending", ledger.ErrInvalidTransition, id)
	}
	txs[i].Status = status
	txs[i].UpdatedAt = at
	return nil
}

func (v *txView) CustomerExists(_ context.Context, customerID string) (bool, error) {
	return v.parent.customers[customerID], nil
}
