package ratelimit

import (
	"sync"
	"time"
)

// One token is tracked as 1e9 nano-tokens. A refill rate of N tokens/sec then
// adds exactly N nano-tokens per elapsed nanosecond, so no float math is
// needed.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket refilled at an integer rate
// (tokens/sec) from a Clock.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns

	avail int64 // nano-tokens
	last  time.Time
}

// NewTokenBucket returns a full bucket. A nil clock uses RealClock. Negative
// capacity or rate are treated as zero, which makes every Allow(n > 0) fail
// once the initial burst is spent.
func NewTokenBucket(clock Clock, capacityTokens, tokensPerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if tokensPerSecond < 0 {
		tokensPerSecond = 0
	}
	capacity := tokensToNano(capacityTokens)
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     tokensPerSecond,
		avail:    capacity,
		last:     clock.Now(),
	}
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := tokensToNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

// Tokens reports the whole tokens currently available.
func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.avail / nanoPerToken
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last)
	// A clock that moved backwards only resets the reference point.
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.avail >= b.capacity {
		return
	}

	missing := b.capacity - b.avail
	// elapsed*rate could overflow; anything past the time needed to fill the
	// bucket just clamps.
	if fillTime := missing / b.rate; fillTime <= 0 || elapsed.Nanoseconds() >= fillTime {
		b.avail = b.capacity
		return
	}
	b.avail += elapsed.Nanoseconds() * b.rate
	if b.avail > b.capacity {
		b.avail = b.capacity
	}
}

func tokensToNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
