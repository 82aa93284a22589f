package netmon

import (
	"time"
)

// Classification bands for the effective connection quality.
// The enumeration is closed: policy derivation matches exhaustively and an
// unhandled band is an error, never a silent default.
type Band int

const (
	// BandConstrained: 2G-class connectivity or an explicit data-saver flag.
	BandConstrained Band = iota
	// BandReduced: 3G-class connectivity.
	BandReduced
	// BandUnconstrained: 4G-class connectivity or no usable signal.
	BandUnconstrained
)

func (b Band) String() string {
	switch b {
	case BandConstrained:
		return "constrained"
	case BandReduced:
		return "reduced"
	case BandUnconstrained:
		return "unconstrained"
	default:
		return "invalid"
	}
}

// QualityHint is the coarse variant instruction forwarded to the remote
// media service.
type QualityHint string

const (
	HintLow    QualityHint = "low"
	HintMedium QualityHint = "medium"
	HintAuto   QualityHint = "auto"
)

// QualityPolicy is a read-only snapshot derived from the current band.
// It has no persistent identity; consumers always re-read the latest value.
type QualityPolicy struct {
	maxConcurrent int
	timeout       time.Duration
	qualityHint   QualityHint
}

func (p QualityPolicy) MaxConcurrent() int {
	return p.maxConcurrent
}

func (p QualityPolicy) Timeout() time.Duration {
	return p.timeout
}

func (p QualityPolicy) QualityHint() QualityHint {
	return p.qualityHint
}

// NewQualityPolicyForTest constructs an arbitrary policy snapshot.
// Production code must derive policies from a band via PolicyForBand.
func NewQualityPolicyForTest(maxConcurrent int, timeout time.Duration, hint QualityHint) QualityPolicy {
	return QualityPolicy{
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		qualityHint:   hint,
	}
}

// ConnectionSignal is one sample of the underlying connection quality as
// reported by the host environment.
type ConnectionSignal struct {
	// EffectiveType is the coarse connection class: "slow-2g", "2g", "3g",
	// "4g", or empty when the host cannot tell.
	EffectiveType string
	// SaveData reports an explicit user preference for reduced data usage.
	SaveData bool
}
