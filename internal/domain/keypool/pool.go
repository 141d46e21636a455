// Package keypool implements the Key Pool (C1): a process-wide pool of
// provider credentials with per-key token-bucket rate limiting, health
// tracking, cooldown and failover, modeled on the teacher's connection-pool
// "init once, tear down on shutdown" lifecycle (cmd/app/providers.go's
// sync.Once pool singletons).
package keypool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	apperrors "github.com/docqa/engine/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	// ErrCodeNoKeyAvailable is returned when acquire times out with at
	// least one key theoretically healthy but rate-limited.
	ErrCodeNoKeyAvailable = "KEYPOOL_NO_KEY_AVAILABLE"
	// ErrCodeAllKeysUnhealthy is returned when every key is in cooldown.
	ErrCodeAllKeysUnhealthy = "KEYPOOL_ALL_KEYS_UNHEALTHY"
)

// ErrorKind classifies a provider failure for report_failure.
type ErrorKind string

const (
	ErrorKindTransient  ErrorKind = "transient"
	ErrorKindRateLimit  ErrorKind = "rate_limit"
	ErrorKindKeyLeaked  ErrorKind = "key_leaked"
)

// Health is the per-key state machine value exposed by stats().
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthProbing   Health = "probing"
)

// Config controls cooldown/threshold behavior, mirroring spec §6's
// keypool.* configuration surface.
type Config struct {
	CooldownSeconds            int
	ConsecutiveFailureThreshold int
}

type key struct {
	id        string
	secret    string
	rpm       int
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	threshold int

	mu          sync.Mutex
	consecutive int
	lastSuccess *time.Time
	lastFailure *time.Time
}

// Lease is a time-bounded claim on one credential. It MUST be released via
// ReportSuccess or ReportFailure exactly once.
type Lease struct {
	ID         string
	Credential string
	key        *key
}

// Pool hands out leases such that no key's configured RPM is exceeded.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	keys   []*key
	cursor int
	cfg    Config
	logger *slog.Logger
}

// KeySpec describes one credential's identity and rate limit.
type KeySpec struct {
	ID     string
	Secret string
	RPM    int
}

// New constructs a Key Pool. Each key gets its own token bucket sized to its
// RPM and its own circuit breaker mapping HEALTHY/UNHEALTHY/PROBING onto
// gobreaker's closed/open/half-open states.
func New(specs []KeySpec, cfg Config, logger *slog.Logger) *Pool {
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = 120
	}
	if cfg.ConsecutiveFailureThreshold <= 0 {
		cfg.ConsecutiveFailureThreshold = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{cfg: cfg, logger: logger.With("component", "keypool")}
	p.cond = sync.NewCond(&p.mu)
	for _, spec := range specs {
		rpm := spec.RPM
		if rpm <= 0 {
			rpm = 60
		}
		k := &key{
			id:        spec.ID,
			secret:    spec.Secret,
			rpm:       rpm,
			limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
			threshold: cfg.ConsecutiveFailureThreshold,
		}
		breakerName := spec.ID
		k.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1, // bounds the breaker's own half-open calls; see tryAcquireLocked
			Timeout:     time.Duration(cfg.CooldownSeconds) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.ConsecutiveFailureThreshold)
			},
		})
		p.keys = append(p.keys, k)
	}
	return p
}

// Acquire blocks up to timeout for a key with rate-limit capacity and
// healthy status, in increasing current-utilization order. Waiters share a
// single condition variable and are all woken on every report and every
// 250ms tick; they are not served in arrival (FIFO) order.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	deadline := time.Now().Add(timeout)
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if lease := p.tryAcquireLocked(); lease != nil {
			return lease, nil
		}
		if p.allUnhealthyLocked() {
			// still worth waiting out the cooldown if time remains
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if p.allUnhealthyLocked() {
				return nil, apperrors.Wrap(ErrCodeAllKeysUnhealthy, "all keys unhealthy", nil)
			}
			return nil, apperrors.Wrap(ErrCodeNoKeyAvailable, "no key available before timeout", nil)
		}
		waitDone := make(chan struct{})
		timer := time.AfterFunc(minDuration(remaining, 250*time.Millisecond), func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
			close(waitDone)
		})
		p.cond.Wait()
		timer.Stop()
		select {
		case <-waitDone:
		default:
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// tryAcquireLocked scans keys in increasing utilization order and returns a
// lease for the first key that is not open (cooling down) and has
// token-bucket capacity. A half-open (PROBING) key is leased like a healthy
// one, so more than one lease can be outstanding on a probing key.
func (p *Pool) tryAcquireLocked() *Lease {
	ordered := append([]*key(nil), p.keys...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].limiter.Tokens() > ordered[j].limiter.Tokens()
	})
	for _, k := range ordered {
		if k.breaker.State() == gobreaker.StateOpen {
			continue
		}
		if !k.limiter.Allow() {
			continue
		}
		return &Lease{ID: k.id, Credential: k.secret, key: k}
	}
	return nil
}

func (p *Pool) allUnhealthyLocked() bool {
	for _, k := range p.keys {
		if k.breaker.State() != gobreaker.StateOpen {
			return false
		}
	}
	return len(p.keys) > 0
}

// ReportSuccess increments consumption bookkeeping, resets the failure
// streak and records last-success.
func (p *Pool) ReportSuccess(lease *Lease) {
	if lease == nil || lease.key == nil {
		return
	}
	k := lease.key
	_, _ = k.breaker.Execute(func() (interface{}, error) { return nil, nil })
	k.mu.Lock()
	now := time.Now().UTC()
	k.consecutive = 0
	k.lastSuccess = &now
	k.mu.Unlock()
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// ReportFailure records a failure. Leaked/forbidden errors trip the breaker
// (cooldown) immediately regardless of the consecutive-failure threshold;
// other kinds accumulate toward the threshold via the breaker's own count.
func (p *Pool) ReportFailure(lease *Lease, kind ErrorKind) {
	if lease == nil || lease.key == nil {
		return
	}
	k := lease.key
	repeats := 1
	if kind == ErrorKindKeyLeaked {
		repeats = k.threshold
	}
	for i := 0; i < repeats; i++ {
		_, _ = k.breaker.Execute(func() (interface{}, error) { return nil, assertFailure })
	}
	k.mu.Lock()
	now := time.Now().UTC()
	k.consecutive++
	k.lastFailure = &now
	k.mu.Unlock()
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

var assertFailure = apperrors.Wrap("KEYPOOL_REPORTED_FAILURE", "reported failure", nil)

// KeyStats is a snapshot of one key's configured/used rate and health.
type KeyStats struct {
	ID          string
	RPM         int
	UsedRPM     int
	Health      Health
	LastSuccess *time.Time
	LastFailure *time.Time
}

// Stats returns a snapshot of every key's health and rate usage. UsedRPM is
// derived from the token bucket's remaining capacity (configured RPM minus
// tokens currently available), so it reflects load from concurrent callers
// without a separate request counter.
func (p *Pool) Stats() []KeyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]KeyStats, 0, len(p.keys))
	for _, k := range p.keys {
		k.mu.Lock()
		h := HealthHealthy
		switch k.breaker.State() {
		case gobreaker.StateOpen:
			h = HealthUnhealthy
		case gobreaker.StateHalfOpen:
			h = HealthProbing
		}
		used := k.rpm - int(k.limiter.Tokens())
		if used < 0 {
			used = 0
		}
		out = append(out, KeyStats{
			ID:          k.id,
			RPM:         k.rpm,
			UsedRPM:     used,
			Health:      h,
			LastSuccess: k.lastSuccess,
			LastFailure: k.lastFailure,
		})
		k.mu.Unlock()
	}
	return out
}
