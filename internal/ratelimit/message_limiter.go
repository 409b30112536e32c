package ratelimit

// MessageLimiter caps the number of inbound messages a single connection may
// submit per second. The burst equals one second worth of messages.
//
// A nil *MessageLimiter allows everything.
type MessageLimiter struct {
	bucket *TokenBucket
}

// NewMessageLimiter returns nil when perSecond <= 0 (unlimited).
func NewMessageLimiter(clock Clock, perSecond int) *MessageLimiter {
	if perSecond <= 0 {
		return nil
	}
	return &MessageLimiter{bucket: NewTokenBucket(clock, int64(perSecond), int64(perSecond))}
}

// Allow consumes one message worth of budget.
func (l *MessageLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.bucket.Allow(1)
}
