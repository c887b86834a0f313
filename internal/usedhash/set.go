// Package usedhash tracks spent Lightning payment hashes so an L402 proof of
// payment can be redeemed at most once per TTL window. The set is process
// local; restart wipes it, which is acceptable because the TTL is shorter
// than an invoice's practical payment window.
package usedhash

import (
	"sync"
	"time"
)

// Set is a mutex-guarded TTL set of lowercase payment hashes.
type Set struct {
	mu          sync.Mutex
	entries     map[string]time.Time
	ttl         time.Duration
	interval    time.Duration
	lastCleanup time.Time
	stopSweep   chan struct{}
	sweepDone   chan struct{}
}

// New creates a set with the given entry TTL and cleanup cadence and starts
// the background sweep goroutine. Call Stop to shut it down.
func New(ttl, cleanupInterval time.Duration) *Set {
	s := &Set{
		entries:     make(map[string]time.Time),
		ttl:         ttl,
		interval:    cleanupInterval,
		lastCleanup: time.Now(),
		stopSweep:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}

	go s.sweep()

	return s
}

// IsUsed reports whether the hash has been marked within the TTL window.
func (s *Set) IsUsed(hash string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeCleanupLocked(now)

	inserted, ok := s.entries[hash]
	if !ok {
		return false
	}
	return now.Sub(inserted) < s.ttl
}

// MarkUsed is a put-if-absent: it returns true when this call claimed the
// hash and false when it was already present. Two concurrent redemptions of
// the same hash leave exactly one winner.
func (s *Set) MarkUsed(hash string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeCleanupLocked(now)

	if inserted, ok := s.entries[hash]; ok && now.Sub(inserted) < s.ttl {
		return false
	}
	s.entries[hash] = now
	return true
}

// Len returns the current entry count, expired entries included.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops entries older than the TTL and returns how many were removed.
func (s *Set) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(time.Now())
}

// maybeCleanupLocked runs an opportunistic sweep when the cleanup interval
// has elapsed. Caller must hold the mutex.
func (s *Set) maybeCleanupLocked(now time.Time) {
	if now.Sub(s.lastCleanup) < s.interval {
		return
	}
	s.cleanupLocked(now)
}

// cleanupLocked removes expired entries. Caller must hold the mutex.
func (s *Set) cleanupLocked(now time.Time) int {
	removed := 0
	for hash, inserted := range s.entries {
		if now.Sub(inserted) >= s.ttl {
			delete(s.entries, hash)
			removed++
		}
	}
	s.lastCleanup = now
	return removed
}

// sweep periodically removes expired entries independent of traffic.
func (s *Set) sweep() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.sweepDone)

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Stop gracefully shuts down the sweep goroutine.
func (s *Set) Stop() {
	close(s.stopSweep)
	<-s.sweepDone
}

// Close implements io.Closer for lifecycle registration.
func (s *Set) Close() error {
	s.Stop()
	return nil
}
