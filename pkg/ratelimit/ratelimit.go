// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit admits incoming bearer connections using the token
// bucket algorithm, one bucket per peer.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket algorithm for rate limiting.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket holding capacity tokens and
// refilling refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN takes n tokens if available.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}

	return false
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	add := int64(elapsed * float64(tb.refillRate))
	if add > 0 {
		tb.tokens = min(tb.tokens+add, tb.capacity)
		tb.lastRefill = now
	}
}

// Available returns the number of available tokens.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// Limiter keeps one bucket per peer address.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*TokenBucket
	capacity   int64
	refillRate int64
	maxPeers   int
	now        func() time.Time
}

// NewLimiter creates a per-peer limiter. Peers beyond maxPeers are refused
// until Forget or Prune frees a slot.
func NewLimiter(capacity, refillRate int64, maxPeers int) *Limiter {
	if maxPeers <= 0 {
		maxPeers = 10000
	}
	return &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxPeers:   maxPeers,
		now:        time.Now,
	}
}

// Allow reports whether peer may open another connection now.
func (l *Limiter) Allow(peer string) bool {
	l.mu.Lock()
	tb, ok := l.buckets[peer]
	if !ok {
		if len(l.buckets) >= l.maxPeers {
			l.mu.Unlock()
			return false
		}
		tb = newTokenBucket(l.capacity, l.refillRate, l.now)
		l.buckets[peer] = tb
	}
	l.mu.Unlock()

	return tb.Allow()
}

// Forget drops the bucket of peer.
func (l *Limiter) Forget(peer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, peer)
}

// Prune drops buckets that have refilled completely.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for peer, tb := range l.buckets {
		if tb.Available() >= tb.capacity {
			delete(l.buckets, peer)
			n++
		}
	}
	return n
}

// Peers returns the number of tracked peers.
func (l *Limiter) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
