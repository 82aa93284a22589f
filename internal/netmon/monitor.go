package netmon

import (
	"sync"
	"time"
)

/*
Responsibilities

- Sample effective network quality (bandwidth class, data-saver flag)
- Expose a policy snapshot (timeout, concurrency cap, quality hint)
- Notify subscribers when the band changes

The monitor is a leaf: it never issues requests and never reads caches.
Re-evaluation is event-driven via Observe; consumers additionally re-read
CurrentPolicy lazily at the top of every load attempt so long-running
queues adapt mid-flight.
*/

// PolicyForBand maps a classification band to its quality policy.
// The switch is exhaustive over the closed Band enumeration; an
// out-of-range band returns ErrUnknownBand.
func PolicyForBand(band Band) (QualityPolicy, error) {
	switch band {
	case BandConstrained:
		return QualityPolicy{
			maxConcurrent: 1,
			timeout:       15 * time.Second,
			qualityHint:   HintLow,
		}, nil
	case BandReduced:
		return QualityPolicy{
			maxConcurrent: 2,
			timeout:       10 * time.Second,
			qualityHint:   HintMedium,
		}, nil
	case BandUnconstrained:
		return QualityPolicy{
			maxConcurrent: 3,
			timeout:       5 * time.Second,
			qualityHint:   HintAuto,
		}, nil
	}
	return QualityPolicy{}, &MonitorError{
		Message: band.String(),
		Cause:   ErrCauseUnknownBand,
	}
}

// ClassifySignal maps a raw connection sample to a band.
// An explicit data-saver flag always wins; an empty or unrecognized
// effective type defaults to the unconstrained band.
func ClassifySignal(signal ConnectionSignal) Band {
	if signal.SaveData {
		return BandConstrained
	}
	switch signal.EffectiveType {
	case "slow-2g", "2g":
		return BandConstrained
	case "3g":
		return BandReduced
	default:
		return BandUnconstrained
	}
}

// Monitor holds the latest policy snapshot and notifies subscribers when
// the band changes.
type Monitor struct {
	mu        sync.RWMutex
	band      Band
	policy    QualityPolicy
	callbacks []func(QualityPolicy)
}

// NewMonitor creates a monitor starting at the unconstrained band.
func NewMonitor() *Monitor {
	policy, _ := PolicyForBand(BandUnconstrained)
	return &Monitor{
		band:   BandUnconstrained,
		policy: policy,
	}
}

// Observe feeds one connection sample into the monitor. Subscribers are
// notified only when the classification band actually changed.
func (m *Monitor) Observe(signal ConnectionSignal) error {
	band := ClassifySignal(signal)
	policy, err := PolicyForBand(band)
	if err != nil {
		return err
	}

	m.mu.Lock()
	changed := band != m.band
	m.band = band
	m.policy = policy
	callbacks := m.callbacks
	m.mu.Unlock()

	if changed {
		for _, cb := range callbacks {
			cb(policy)
		}
	}
	return nil
}

// CurrentPolicy returns the latest policy snapshot. Always the latest
// value wins; callers must not cache the result across attempts.
func (m *Monitor) CurrentPolicy() QualityPolicy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// CurrentBand returns the latest classification band.
func (m *Monitor) CurrentBand() Band {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.band
}

// OnChange registers a callback invoked after every band change.
// Callbacks run synchronously on the Observe caller's goroutine.
func (m *Monitor) OnChange(cb func(QualityPolicy)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}
