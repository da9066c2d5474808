package common

import "sync"

// OrderStore is the single source of truth for an order's lifecycle status
// across the pipeline, independent of whether the order is still resting in
// a book. The book only tracks live orders; this store answers "do we know
// this order, and is it terminal" for cancellation and REST status queries.
// Guarded by a single mutex -- the validator Puts every order it accepts or
// rejects; fills and cancels change a record's Status in place through the
// shared *Order pointer the matcher's book holds; readers are REST handlers
// (spec §5).
type OrderStore struct {
	mu      sync.RWMutex
	records map[string]*Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{records: make(map[string]*Order)}
}

func (s *OrderStore) Put(order *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[order.OrderID] = order
}

func (s *OrderStore) Get(orderID string) (*Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.records[orderID]
	return o, ok
}

// IsTerminal reports whether the order is known and already in a terminal
// state (filled, cancelled, rejected).
func (s *OrderStore) IsTerminal(orderID string) (terminal bool, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.records[orderID]
	if !ok {
		return false, false
	}
	switch o.Status {
	case Filled, Cancelled, Rejected:
		return true, true
	default:
		return false, true
	}
}

// SiblingQuoteLeg finds the other leg of a two-sided quote order sharing
// quoteID, if it is still known. Used to cancel a quote's two legs together
// (spec.md §9 "atomic two-sided limit pair with a shared lifecycle").
func (s *OrderStore) SiblingQuoteLeg(quoteID, excludeOrderID string) (*Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.records {
		if o.QuoteID == quoteID && o.OrderID != excludeOrderID {
			return o, true
		}
	}
	return nil, false
}

func (s *OrderStore) SetStatus(orderID string, status OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.records[orderID]; ok {
		o.Status = status
	}
}
