package credits

import (
	"context"
	"sync"
)

// Memory is an in-process ledger for development and tests.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]Account)}
}

// Put creates or replaces an account.
func (m *Memory) Put(a Account) {
	m.mu.Lock()
	m.accounts[a.UserID] = a
	m.mu.Unlock()
}

func (m *Memory) Account(_ context.Context, userID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) Debit(_ context.Context, userID string, cost int) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return Balance{}, ErrNotFound
	}
	if a.Subscriber {
		return a.Balance(), nil
	}
	if a.Credits < cost {
		return Balance{}, &InsufficientError{Credits: a.Credits, Required: cost}
	}
	a.Credits -= cost
	m.accounts[userID] = a
	return a.Balance(), nil
}

func (m *Memory) Grant(_ context.Context, userID string, credits int, paidCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	a.Credits += credits
	a.TotalSpent += paidCents
	m.accounts[userID] = a
	return nil
}

func (m *Memory) SetSubscriber(_ context.Context, userID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	a.Subscriber = true
	a.SubscriptionID = subscriptionID
	m.accounts[userID] = a
	return nil
}

func (m *Memory) EndSubscription(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.accounts {
		if a.SubscriptionID == subscriptionID && subscriptionID != "" {
			a.Subscriber = false
			a.SubscriptionID = ""
			m.accounts[id] = a
		}
	}
	return nil
}
