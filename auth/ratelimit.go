package auth

import (
	"context"
	"sync"
	"time"
)

// Limiter caps verification attempts per key. Check must be called before
// any expensive verification (bcrypt compare, TOTP derivation) so that an
// attacker cannot burn CPU on locked keys; Record is called afterwards so a
// request that fails for unrelated reasons is not counted twice.
type Limiter interface {
	// Check reports whether an attempt for key may proceed. When the key
	// is locked it returns allowed=false and the remaining lockout.
	Check(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)

	// Record registers the outcome of a verification. Success fully resets
	// the key. Failure counts toward lockout; the return value is how many
	// attempts remain before the key locks.
	Record(ctx context.Context, key string, success bool) (attemptsLeft int, err error)
}

// KeyFunc builds a limiter key from the client's network identity and the
// account id (once known). The composition is policy, not contract:
// deployments behind shared NATs may want to drop the IP component.
type KeyFunc func(clientIP, accountID string) string

// LimitKey is the default key composition: most-specific network identity
// plus the opaque account id. Using the id rather than the submitted
// identifier prevents enumeration via case variants of the same account.
func LimitKey(clientIP, accountID string) string {
	return clientIP + "|" + accountID
}

// LimiterConfig holds the brute-force policy.
type LimiterConfig struct {
	// MaxAttempts is the number of failures within Window before lockout.
	MaxAttempts int

	// Window is how long failures are remembered, sliding from the first
	// failure of the current run.
	Window time.Duration

	// Lockout is how long a locked key stays blocked.
	Lockout time.Duration

	// SweepInterval is how often expired entries are reclaimed.
	SweepInterval time.Duration
}

// DefaultLimiterConfig returns the documented production policy:
// 5 failures per 15 minutes, 15 minute lockout, 30 minute sweep.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxAttempts:   5,
		Window:        15 * time.Minute,
		Lockout:       15 * time.Minute,
		SweepInterval: 30 * time.Minute,
	}
}

type attemptEntry struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// MemoryLimiter is the in-process sliding-window limiter. State is
// ephemeral and local to the process; entries self-expire, so a periodic
// full-table sweep keeps memory bounded. One mutex guards the whole table:
// the critical sections are pure counter arithmetic and not worth per-key
// locking.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*attemptEntry
	cfg     LimiterConfig
	clock   Clock

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter and starts its sweep goroutine.
// Callers own the lifecycle and must Close it on shutdown.
func NewMemoryLimiter(cfg LimiterConfig, clock Clock) *MemoryLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	l := &MemoryLimiter{
		entries: make(map[string]*attemptEntry),
		cfg:     cfg,
		clock:   clock,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

func (l *MemoryLimiter) Check(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return true, 0, nil
	}

	now := l.clock.Now()
	if !e.lockedUntil.IsZero() {
		if now.Before(e.lockedUntil) {
			return false, e.lockedUntil.Sub(now), nil
		}
		// Lockout elapsed: the key starts fresh.
		delete(l.entries, key)
		return true, 0, nil
	}

	return true, 0, nil
}

func (l *MemoryLimiter) Record(_ context.Context, key string, success bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		delete(l.entries, key)
		return l.cfg.MaxAttempts, nil
	}

	now := l.clock.Now()
	e, ok := l.entries[key]
	stale := ok && (now.Sub(e.windowStart) > l.cfg.Window ||
		(!e.lockedUntil.IsZero() && !now.Before(e.lockedUntil)))

	if !ok || stale {
		e = &attemptEntry{failures: 1, windowStart: now}
		l.entries[key] = e
	} else {
		e.failures++
	}

	if e.failures >= l.cfg.MaxAttempts {
		// Observed by the next Check, not retroactively.
		e.lockedUntil = now.Add(l.cfg.Lockout)
	}

	left := l.cfg.MaxAttempts - e.failures
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Close stops the sweep goroutine. Safe to call more than once.
func (l *MemoryLimiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.done
	})
}

func (l *MemoryLimiter) sweepLoop() {
	defer close(l.done)

	interval := l.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep removes entries whose window has expired and which are not locked.
// It takes the same lock as live requests; the table is bounded in steady
// state, so a full scan is fine.
func (l *MemoryLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for key, e := range l.entries {
		if !e.lockedUntil.IsZero() && now.Before(e.lockedUntil) {
			continue
		}
		if now.Sub(e.windowStart) > l.cfg.Window {
			delete(l.entries, key)
		}
	}
}

// size reports the current entry count. Test hook.
func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
