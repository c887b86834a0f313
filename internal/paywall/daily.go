package paywall

import (
	"sync"
	"time"
)

// DailyCounter tracks per-endpoint call counts with a UTC-midnight reset.
// Counts are process-local and lost on restart.
type DailyCounter struct {
	mu     sync.Mutex
	day    string
	counts map[string]int
	now    func() time.Time
}

// NewDailyCounter creates an empty counter.
func NewDailyCounter() *DailyCounter {
	return &DailyCounter{counts: make(map[string]int), now: time.Now}
}

// Allow increments the key's count for the current UTC day and reports
// whether it is within the limit. A limit of zero means unlimited.
func (c *DailyCounter) Allow(key string, limit int) bool {
	if limit <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	today := c.now().UTC().Format("2006-01-02")
	if c.day != today {
		c.day = today
		c.counts = make(map[string]int)
	}

	if c.counts[key] >= limit {
		return false
	}
	c.counts[key]++
	return true
}
