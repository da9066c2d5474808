package common

import (
	"sync"

	"github.com/shopspring/decimal"
)

// MidCache is a small read-mostly cache of each instrument's last-known mid
// price, written by the matcher after a match cycle and read by the
// validator's price_range constraint. It exists because the order book
// itself is exclusively owned by the matcher goroutine with no locking
// (spec §5); a derived, infrequently-written value like "current mid" gets
// its own mutex-guarded cache instead, the same pattern spec §9 prescribes
// for the positions map.
type MidCache struct {
	mu  sync.RWMutex
	mid map[string]decimal.Decimal
}

func NewMidCache() *MidCache {
	return &MidCache{mid: make(map[string]decimal.Decimal)}
}

func (c *MidCache) Update(symbol string, mid decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mid[symbol] = mid
}

func (c *MidCache) Mid(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mid, ok := c.mid[symbol]
	return mid, ok
}
