package ratelimit

import (
	"sync"
	"time"
)

// Token bucket. Refills at rate tokens per second up to burst.
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiterAt(rate, burst, time.Now)
}

func newLimiterAt(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN takes n tokens if all of them are available
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}

	return false
}

func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

// Idle reports whether the bucket has been untouched for at least d
func (l *Limiter) idle(d time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Sub(l.lastUpdate) >= d
}

// Keyed hands out one Limiter per key (remote address, connection id).
// Buckets unused for idleAfter are dropped by the sweeper.
type Keyed struct {
	limiters  map[string]*Limiter
	rate      float64
	burst     int
	idleAfter time.Duration
	now       func() time.Time
	mu        sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewKeyed(rate float64, burst int) *Keyed {
	k := newKeyed(rate, burst, time.Now)
	go k.sweepLoop(time.Minute)
	return k
}

func newKeyed(rate float64, burst int, now func() time.Time) *Keyed {
	return &Keyed{
		limiters:  make(map[string]*Limiter),
		rate:      rate,
		burst:     burst,
		idleAfter: 5 * time.Minute,
		now:       now,
		stop:      make(chan struct{}),
	}
}

func (k *Keyed) Get(key string) *Limiter {
	k.mu.RLock()
	limiter, ok := k.limiters[key]
	k.mu.RUnlock()

	if ok {
		return limiter
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if limiter, ok := k.limiters[key]; ok {
		return limiter
	}

	limiter = newLimiterAt(k.rate, k.burst, k.now)
	k.limiters[key] = limiter
	return limiter
}

func (k *Keyed) Allow(key string) bool {
	return k.Get(key).Allow()
}

func (k *Keyed) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.limiters)
}

func (k *Keyed) Stop() {
	k.stopOnce.Do(func() { close(k.stop) })
}

func (k *Keyed) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.sweep()
		}
	}
}

// sweep drops idle buckets. A dropped key starts over with a full bucket,
// which is what an idle bucket would have refilled to anyway.
func (k *Keyed) sweep() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for key, limiter := range k.limiters {
		if limiter.idle(k.idleAfter) {
			delete(k.limiters, key)
			removed++
		}
	}
	return removed
}
