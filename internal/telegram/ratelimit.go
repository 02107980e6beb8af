package telegram

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

const limiterCacheSize = 10000

// Limiter is a per-user token bucket for commands and callbacks
type Limiter struct {
	every rate.Limit
	burst int

	mu       sync.Mutex
	limiters *lru.Cache
}

// NewLimiter allows perMinute events per user; perMinute <= 0 disables it
func NewLimiter(perMinute int) (*Limiter, error) {
	cache, err := lru.New(limiterCacheSize)
	if err != nil {
		return nil, err
	}
	l := &Limiter{limiters: cache, burst: perMinute}
	if perMinute > 0 {
		l.every = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return l, nil
}

// Allow reports whether userID may run another command now
func (l *Limiter) Allow(userID int64) bool {
	if l.burst <= 0 {
		return true
	}

	l.mu.Lock()
	v, ok := l.limiters.Get(userID)
	if !ok {
		v = rate.NewLimiter(l.every, l.burst)
		l.limiters.Add(userID, v)
	}
	l.mu.Unlock()

	return v.(*rate.Limiter).Allow()
}
