package limiter

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rohmanhakim/media-pipeline/pkg/timeutil"
)

// HostPacer
// Specialized component to pace outgoing requests per media host.
// Responsibilities:
// - Bookkeep each host's last fetch timestamp
// - Track per-host penalty state after transient failures
// - Honor server-advertised delays (Retry-After on 429/503)
// - Compute the final delay for each host given those factors
type HostPacer interface {
	SetBaseDelay(baseDelay time.Duration)
	SetJitter(jitter time.Duration)
	SetRandomSeed(randomSeed int64)
	SetBackoffParam(backoffParam timeutil.BackoffParam)
	SetHostDelay(host string, delay time.Duration)
	Backoff(host string)
	ResetBackoff(host string)
	MarkLastFetchAsNow(host string)
	ResolveDelay(host string) time.Duration
}

type ConcurrentHostPacer struct {
	mu           sync.RWMutex
	rngMu        sync.Mutex
	baseDelay    time.Duration
	jitter       time.Duration
	backoffParam timeutil.BackoffParam
	hostTimings  map[string]hostTiming
	rng          *rand.Rand
}

func NewConcurrentHostPacer() *ConcurrentHostPacer {
	return &ConcurrentHostPacer{
		backoffParam: timeutil.NewBackoffParam(1*time.Second, 2.0, 30*time.Second),
		hostTimings:  make(map[string]hostTiming),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *ConcurrentHostPacer) SetBaseDelay(baseDelay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.baseDelay = baseDelay
}

func (p *ConcurrentHostPacer) SetJitter(jitter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.jitter = jitter
}

func (p *ConcurrentHostPacer) SetRandomSeed(randomSeed int64) {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()

	p.rng = rand.New(rand.NewSource(randomSeed))
}

// SetHostDelay pins a server-advertised delay to the given host,
// separated from the global base delay.
func (p *ConcurrentHostPacer) SetHostDelay(host string, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timing := p.hostTimings[host]
	timing.hostDelay = delay
	p.hostTimings[host] = timing
}

// SetBackoffParam replaces the penalty curve applied by Backoff.
func (p *ConcurrentHostPacer) SetBackoffParam(backoffParam timeutil.BackoffParam) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.backoffParam = backoffParam
}

// exponentialBackoffDelay computes exponential backoff based on count.
// Does NOT take lock; caller must hold p.mu (RLock or Lock).
func (p *ConcurrentHostPacer) exponentialBackoffDelay(backoffCount int) time.Duration {
	exponent := float64(backoffCount - 1)
	delay := float64(p.backoffParam.InitialDuration()) * math.Pow(p.backoffParam.Multiplier(), exponent)
	if delay > float64(p.backoffParam.MaxDuration()) {
		delay = float64(p.backoffParam.MaxDuration())
	}

	if p.jitter > 0 {
		delay += float64(p.computeJitter(p.jitter))
	}

	return time.Duration(delay)
}

// Backoff triggers exponential backoff for the given host.
// It increments the penalty counter and computes the delay.
func (p *ConcurrentHostPacer) Backoff(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timing := p.hostTimings[host]
	timing.backoffCount++
	timing.backoffDelay = p.exponentialBackoffDelay(timing.backoffCount)
	p.hostTimings[host] = timing
}

// ResetBackoff resets the penalty counter for the given host.
// Called after a successful request to clear backoff state.
func (p *ConcurrentHostPacer) ResetBackoff(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timing, exists := p.hostTimings[host]
	if exists {
		timing.backoffCount = 0
		timing.backoffDelay = 0
		p.hostTimings[host] = timing
	}
}

// MarkLastFetchAsNow records time.Now() as the host's last fetch.
func (p *ConcurrentHostPacer) MarkLastFetchAsNow(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timing := p.hostTimings[host]
	timing.lastFetchAt = time.Now()
	p.hostTimings[host] = timing
}

// computeJitter returns a pseudo-random duration between 0 and max.
func (p *ConcurrentHostPacer) computeJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	p.rngMu.Lock()
	defer p.rngMu.Unlock()

	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return time.Duration(p.rng.Int63n(int64(max)))
}

// ResolveDelay computes the remaining wait before the host may be
// fetched again.
// FinalDelay = max(BaseDelay, hostDelay, BackoffDelay) + Jitter
func (p *ConcurrentHostPacer) ResolveDelay(host string) time.Duration {
	// copy needed state under read lock, then compute without holding p.mu
	p.mu.RLock()
	timing, exists := p.hostTimings[host]
	base := p.baseDelay
	jitter := p.jitter
	p.mu.RUnlock()

	// a host that was never fetched is not delayed
	if !exists {
		return 0
	}

	delays := []time.Duration{base, timing.hostDelay, timing.backoffDelay}
	finalDelay := timeutil.MaxDuration(delays)
	finalDelay += p.computeJitter(jitter)

	elapsed := time.Since(timing.lastFetchAt)
	if elapsed < finalDelay {
		return finalDelay - elapsed
	}

	return 0
}

func (p *ConcurrentHostPacer) BackoffCount(host string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hostTimings[host].backoffCount
}

// timing-related data used to track when a media host may be fetched again
type hostTiming struct {
	lastFetchAt  time.Time
	backoffDelay time.Duration
	hostDelay    time.Duration
	backoffCount int
}
