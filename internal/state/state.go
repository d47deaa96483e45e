package state

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

type Position struct {
	Qty      float64
	AvgEntry float64
}

type OpenOrder struct {
	ClientOrderID string
	OrderID       string
	Symbol        string
	Side          string
	Status        string
}

type Account struct {
	Cash           float64
	PortfolioValue float64
}

type Snapshot struct {
	Account     Account
	Positions   map[string]Position
	OpenOrders  map[string]OpenOrder
	LastBarTime map[string]time.Time
	LastSync    time.Time
}

// Store mirrors the broker's view of the book. Positions are keyed by symbol
// and open orders by broker order ID.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

func NewStore() *Store {
	return &Store{snapshot: emptySnapshot()}
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Positions:   map[string]Position{},
		OpenOrders:  map[string]OpenOrder{},
		LastBarTime: map[string]time.Time{},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy := s.snapshot
	copy.Positions = make(map[string]Position, len(s.snapshot.Positions))
	for k, v := range s.snapshot.Positions {
		copy.Positions[k] = v
	}
	copy.OpenOrders = make(map[string]OpenOrder, len(s.snapshot.OpenOrders))
	for k, v := range s.snapshot.OpenOrders {
		copy.OpenOrders[k] = v
	}
	copy.LastBarTime = make(map[string]time.Time, len(s.snapshot.LastBarTime))
	for k, v := range s.snapshot.LastBarTime {
		copy.LastBarTime[k] = v
	}
	return copy
}

func (s *Store) Account() Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Account
}

// Position returns the symbol's position, zero when flat.
func (s *Store) Position(symbol string) Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Positions[symbol]
}

func (s *Store) OpenOrderCount(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.snapshot.OpenOrders {
		if o.Symbol == symbol {
			n++
		}
	}
	return n
}

// Flat reports whether the last sync saw no positions and no resting orders.
func (s *Store) Flat() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshot.Positions) == 0 && len(s.snapshot.OpenOrders) == 0
}

func (s *Store) SetAccount(account Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Account = account
}

// SetPositions replaces all positions. Zero quantities are dropped.
func (s *Store) SetPositions(positions map[string]Position) {
	next := make(map[string]Position, len(positions))
	for k, v := range positions {
		if v.Qty != 0 {
			next[k] = v
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Positions = next
}

func (s *Store) SetOpenOrders(orders map[string]OpenOrder) {
	if orders == nil {
		orders = map[string]OpenOrder{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.OpenOrders = orders
}

func (s *Store) AddOpenOrder(order OpenOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.OpenOrders[order.OrderID] = order
}

// RemoveOpenOrders drops every order of symbol.
func (s *Store) RemoveOpenOrders(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.snapshot.OpenOrders {
		if o.Symbol == symbol {
			delete(s.snapshot.OpenOrders, id)
		}
	}
}

func (s *Store) SetLastBarTime(symbol string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastBarTime[symbol] = t
}

func (s *Store) SetLastSync(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastSync = t
}

func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.MarshalIndent(s.snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	snapshot := emptySnapshot()
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if snapshot.Positions == nil {
		snapshot.Positions = map[string]Position{}
	}
	if snapshot.OpenOrders == nil {
		snapshot.OpenOrders = map[string]OpenOrder{}
	}
	if snapshot.LastBarTime == nil {
		snapshot.LastBarTime = map[string]time.Time{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	return nil
}
