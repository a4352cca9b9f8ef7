package market

import (
	"sort"
	"sync"
	"time"

	"example.com/click/backend/internal/models"
)

type Entry struct {
	Quote     models.Quote `json:"quote"`
	StoredAt  time.Time    `json:"storedAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

type Cache interface {
	Get(symbol string) (Entry, bool)
	Put(symbol string, quote models.Quote, expiresAt time.Time)
	IsStale(entry Entry, now time.Time) bool
	Symbols() []string
	Stats() Stats
	Clear()
}

type Stats struct {
	Size      int       `json:"size"`
	Fresh     int       `json:"fresh"`
	Stale     int       `json:"stale"`
	Symbols   []string  `json:"symbols"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryCache keeps one entry per symbol. Put overwrites; stale entries stay
// readable until replaced but are reported as stale.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]Entry
	now   func() time.Time
}

// NewMemoryCache создает кэш котировок в памяти.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]Entry),
		now:   time.Now,
	}
}

func (c *MemoryCache) Get(symbol string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.items[NormalizeSymbol(symbol)]
	return entry, ok
}

func (c *MemoryCache) Put(symbol string, quote models.Quote, expiresAt time.Time) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return
	}
	quote.Symbol = symbol

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[symbol] = Entry{Quote: quote, StoredAt: c.now().UTC(), ExpiresAt: expiresAt}
}

// IsStale сообщает, истек ли срок свежести записи.
func (c *MemoryCache) IsStale(entry Entry, now time.Time) bool {
	return !now.Before(entry.ExpiresAt)
}

func (c *MemoryCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]string, 0, len(c.items))
	for symbol := range c.items {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	return symbols
}

func (c *MemoryCache) Stats() Stats {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Size: len(c.items), Symbols: make([]string, 0, len(c.items)), Timestamp: now.UTC()}
	for symbol, entry := range c.items {
		stats.Symbols = append(stats.Symbols, symbol)
		if c.IsStale(entry, now) {
			stats.Stale++
		} else {
			stats.Fresh++
		}
	}
	sort.Strings(stats.Symbols)

	return stats
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]Entry)
}
