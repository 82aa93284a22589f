package telemetry

// LoadOutcome is the terminal observable state of one media load.
type LoadOutcome string

const (
	// OutcomeLoaded: the primary candidate (any quality variant) succeeded.
	OutcomeLoaded LoadOutcome = "loaded"
	// OutcomeDegraded: a fallback candidate was served instead of the primary.
	OutcomeDegraded LoadOutcome = "degraded"
	// OutcomeFailed: every candidate including the generic placeholder failed.
	OutcomeFailed LoadOutcome = "failed"
)

/*
	ErrorCause is a closed, canonical classification used exclusively for
	observability (logging, metrics, reporting).

	Rules:
	 - ErrorCause is for observability only.
	 - It must never be used to derive retry, continuation, or abort decisions.
	 - ErrorCause MUST NOT influence control flow.
	 - ErrorCause values MUST have stable, package-agnostic semantics.
	 - Pipeline packages MAY map their local errors to ErrorCause,
	   but MUST NOT invent new meanings.
	Non-goals:
	 - ErrorCause does not encode severity.
	 - ErrorCause does not imply retryability.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

const (
	// CauseUnknown: the failure does not map cleanly to any known category.
	CauseUnknown ErrorCause = iota
	// CauseNetworkFailure: transport failure or remote unavailability
	// (TCP timeouts, DNS failures, connection resets).
	CauseNetworkFailure
	// CauseTimeout: a per-attempt deadline elapsed before a response arrived.
	CauseTimeout
	// CausePolicyViolation: a local policy skipped the operation
	// (cache quota exceeded, malformed URL, rate-limit enforcement).
	CausePolicyViolation
	// CauseStorageFailure: failure while persisting cache entries or
	// queued writes (disk full, permission errors, corrupted buckets).
	CauseStorageFailure
	// CauseDeliveryDeferred: a write could not be delivered and was
	// accepted into the durable queue instead.
	CauseDeliveryDeferred
	// CauseInvariantViolation: a system-level invariant was violated
	// (impossible state transition, duplicate non-terminal request).
	CauseInvariantViolation
)

func (c ErrorCause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CauseTimeout:
		return "timeout"
	case CausePolicyViolation:
		return "policy_violation"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseDeliveryDeferred:
		return "delivery_deferred"
	case CauseInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{
		Key:   key,
		Value: val,
	}
}

type AttributeKey string

const (
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrCache      AttributeKey = "cache"
	AttrQueue      AttributeKey = "queue"
	AttrEndpoint   AttributeKey = "endpoint"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrCandidate  AttributeKey = "candidate"
	AttrMessage    AttributeKey = "message"
)
