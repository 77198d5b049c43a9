package quote

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest known price snapshot for a ticker. Quotes are
// transient: the cache keeps exactly one per symbol and every update
// replaces the previous value in full.
type Quote struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Volume      float64         `json:"volume"`
	Timestamp   float64         `json:"timestamp"`
	DateTimeUTC string          `json:"date_time_utc"`
	ReceivedAt  time.Time       `json:"last_updated"`
}

// Cache maps instrument symbols to their most recent quote. It is written
// by the feed client and read concurrently by the monitor and the HTTP
// status surface, so all access goes through the mutex. Arrival order is
// authoritative: the feed's own timestamp is never used for ordering.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[string]Quote)}
}

// Set stores the quote for its symbol, replacing any previous value.
func (c *Cache) Set(q Quote) {
	symbol := normalizeSymbol(q.Symbol)
	if symbol == "" {
		return
	}
	q.Symbol = symbol

	c.mu.Lock()
	c.quotes[symbol] = q
	c.mu.Unlock()
}

// Get returns the cached quote for the symbol, if any.
func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	q, ok := c.quotes[normalizeSymbol(symbol)]
	c.mu.RUnlock()
	return q, ok
}

// Price returns the cached price for the symbol. The second return value
// reports whether the feed has produced a quote for the symbol yet.
func (c *Cache) Price(symbol string) (decimal.Decimal, bool) {
	q, ok := c.Get(symbol)
	if !ok {
		return decimal.Decimal{}, false
	}
	return q.Price, true
}

// Snapshot returns a copy of every cached quote keyed by symbol.
func (c *Cache) Snapshot() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Quote, len(c.quotes))
	for symbol, q := range c.quotes {
		out[symbol] = q
	}
	return out
}

// Len reports the number of symbols with a cached quote.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
