package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rohmanhakim/media-pipeline/internal/fallback"
	"github.com/rohmanhakim/media-pipeline/internal/telemetry"
	"github.com/rohmanhakim/media-pipeline/pkg/failure"
	"github.com/rohmanhakim/media-pipeline/pkg/limiter"
	"github.com/rohmanhakim/media-pipeline/pkg/retry"
	"github.com/rohmanhakim/media-pipeline/pkg/urlutil"
)

/*
Responsibilities

- Perform one resource load end to end
- Build the quality-adjusted URL per attempt from the latest policy
- Race each fetch against the policy timeout
- Retry transient failures with backoff, spending the configured
  attempt budget on the primary candidate, 1 on each fallback candidate
- Walk the fallback chain deterministically on exhaustion
- Mutate the render target and emit loaded | degraded | failed

Load Semantics

- The policy snapshot is re-read at the top of every attempt
- Timeouts are transient failures
- A terminal failure is returned only after the generic placeholder failed
- The loader never schedules; admission and ordering belong to the scheduler
*/

type Loader interface {
	Load(
		ctx context.Context,
		loadRequest LoadRequest,
	) (LoadedImage, failure.ClassifiedError)
}

type ImageLoader struct {
	policies   PolicySource
	sink       telemetry.EventSink
	pacer      limiter.HostPacer
	httpClient *http.Client
	retryParam retry.RetryParam
	assetBase  url.URL
	userAgent  string
}

func NewImageLoader(
	policies PolicySource,
	sink telemetry.EventSink,
	pacer limiter.HostPacer,
	retryParam retry.RetryParam,
	assetBase url.URL,
	userAgent string,
) ImageLoader {
	return ImageLoader{
		policies:   policies,
		sink:       sink,
		pacer:      pacer,
		httpClient: &http.Client{},
		retryParam: retryParam,
		assetBase:  assetBase,
		userAgent:  userAgent,
	}
}

func (l *ImageLoader) Load(
	ctx context.Context,
	loadRequest LoadRequest,
) (LoadedImage, failure.ClassifiedError) {
	callerMethod := "ImageLoader.Load"
	startTime := time.Now()

	machine := NewStateMachine()
	l.applyTransition(machine, EventDispatch, callerMethod, loadRequest.ref)

	chain := fallback.ChainFor(loadRequest.ref, loadRequest.kind, loadRequest.category, l.assetBase)
	candidates := chain.Candidates()

	totalAttempts := 0
	var lastErr failure.ClassifiedError
	var lastFetchUrl string

	for i, candidate := range candidates {
		source := candidate.Source()
		if source.String() == lastFetchUrl {
			// the previous candidate resolved to this exact URL and just
			// failed on it; walk past instead of refetching
			if i < len(candidates)-1 {
				l.applyTransition(machine, EventAdvance, callerMethod, loadRequest.ref)
			}
			continue
		}

		retryParam := l.retryParam
		if i > 0 {
			retryParam = retryParam.WithMaxAttempts(fallbackRetryBudget)
		}

		result, err := retry.Retry(ctx, retryParam, func(attempt int) (fetchResult, failure.ClassifiedError) {
			totalAttempts++
			if attempt > 1 {
				l.applyTransition(machine, EventRetry, callerMethod, loadRequest.ref)
			}

			// re-resolve the policy per attempt; it may have changed
			policy := l.policies.CurrentPolicy()
			fetchUrl := candidate.Source()
			if candidate.QualityAdjustable() {
				fetchUrl = urlutil.WithQualityHint(fetchUrl, string(policy.QualityHint()))
			}
			lastFetchUrl = fetchUrl.String()

			return l.performFetch(ctx, fetchUrl, policy.Timeout())
		})

		if err == nil {
			l.applyTransition(machine, EventSucceed, callerMethod, loadRequest.ref)
			return l.finish(loadRequest, candidate, i, result, totalAttempts, startTime), nil
		}

		lastErr = err
		l.recordAttemptError(callerMethod, candidate.Source(), err)

		// context gone: no point walking the rest of the chain
		if ctx.Err() != nil {
			l.applyTransition(machine, EventExhaust, callerMethod, loadRequest.ref)
			return LoadedImage{}, &LoadError{
				Message: ctx.Err().Error(),
				Cause:   ErrCauseAborted,
			}
		}

		if i < len(candidates)-1 {
			l.applyTransition(machine, EventAdvance, callerMethod, loadRequest.ref)
		}
	}

	l.applyTransition(machine, EventExhaust, callerMethod, loadRequest.ref)

	if loadRequest.target != nil {
		loadRequest.target.MarkFailed()
	}
	l.sink.RecordLoad(
		loadRequest.ref.String(),
		telemetry.OutcomeFailed,
		len(candidates)-1,
		totalAttempts,
		time.Since(startTime),
	)

	return LoadedImage{}, &LoadError{
		Message: fmt.Sprintf("last error: %v", lastErr),
		Cause:   ErrCauseExhausted,
	}
}

// finish mutates the render target and emits the terminal success event.
func (l *ImageLoader) finish(
	loadRequest LoadRequest,
	candidate fallback.Candidate,
	candidateIndex int,
	result fetchResult,
	totalAttempts int,
	startTime time.Time,
) LoadedImage {
	degraded := candidateIndex > 0

	image := LoadedImage{
		source:      candidate.Source(),
		body:        result.body,
		contentType: result.contentType,
		candidate:   candidateIndex,
		degraded:    degraded,
	}

	if loadRequest.target != nil {
		loadRequest.target.SetSource(image.source)
		if degraded {
			loadRequest.target.MarkDegraded()
		} else {
			loadRequest.target.MarkLoaded()
		}
	}

	outcome := telemetry.OutcomeLoaded
	if degraded {
		outcome = telemetry.OutcomeDegraded
	}
	l.sink.RecordLoad(
		loadRequest.ref.String(),
		outcome,
		candidateIndex,
		totalAttempts,
		time.Since(startTime),
	)

	return image
}

func (l *ImageLoader) performFetch(
	ctx context.Context,
	fetchUrl url.URL,
	timeout time.Duration,
) (fetchResult, failure.ClassifiedError) {
	host := fetchUrl.Host

	if delay := l.pacer.ResolveDelay(host); delay > 0 {
		if err := waitCtx(ctx, delay); err != nil {
			return fetchResult{}, &FetchError{
				Message:   fmt.Sprintf("aborted while pacing: %v", err),
				Retryable: false,
				Cause:     ErrCauseNetworkFailure,
			}
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return fetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseNetworkFailure,
		}
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")

	startTime := time.Now()
	l.pacer.MarkLastFetchAsNow(host)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		l.pacer.Backoff(host)
		l.sink.RecordFetch(fetchUrl.String(), 0, time.Since(startTime), "", 0)

		// the raced deadline classifies as a transient timeout
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return fetchResult{}, &FetchError{
				Message:   fmt.Sprintf("request timed out after %v", timeout),
				Retryable: true,
				Cause:     ErrCauseTimeout,
			}
		}

		return fetchResult{}, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     ErrCauseNetworkFailure,
		}
	}
	defer resp.Body.Close()

	duration := time.Since(startTime)
	contentType := resp.Header.Get("Content-Type")
	l.sink.RecordFetch(fetchUrl.String(), resp.StatusCode, duration, contentType, 0)

	switch {
	case resp.StatusCode >= 500:
		l.pacer.Backoff(host)
		return fetchResult{}, &FetchError{
			Message:   fmt.Sprintf("server error: %d", resp.StatusCode),
			Retryable: true,
			Cause:     ErrCauseRequest5xx,
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		l.pacer.Backoff(host)
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			l.pacer.SetHostDelay(host, after)
		}
		return fetchResult{}, &FetchError{
			Message:   "rate limited (429)",
			Retryable: true,
			Cause:     ErrCauseRequestTooMany,
		}

	case resp.StatusCode == http.StatusForbidden:
		return fetchResult{}, &FetchError{
			Message:   "access forbidden (403)",
			Retryable: false,
			Cause:     ErrCauseRequestForbidden,
		}

	case resp.StatusCode == http.StatusNotFound:
		return fetchResult{}, &FetchError{
			Message:   "not found (404)",
			Retryable: false,
			Cause:     ErrCauseRequestNotFound,
		}

	case resp.StatusCode >= 400:
		return fetchResult{}, &FetchError{
			Message:   fmt.Sprintf("client error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRequestForbidden,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		l.pacer.Backoff(host)
		return fetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Retryable: true,
			Cause:     ErrCauseReadResponseBodyError,
		}
	}

	l.pacer.ResetBackoff(host)

	return fetchResult{
		body:        body,
		contentType: contentType,
		statusCode:  resp.StatusCode,
	}, nil
}

// applyTransition drives the state machine and reports (never acts on)
// invariant violations.
func (l *ImageLoader) applyTransition(machine *StateMachine, event Event, callerMethod string, ref url.URL) {
	if err := machine.Apply(event); err != nil {
		l.sink.RecordError(
			time.Now(),
			"loader",
			callerMethod,
			telemetry.CauseInvariantViolation,
			err.Error(),
			[]telemetry.Attribute{
				telemetry.NewAttr(telemetry.AttrURL, ref.String()),
			},
		)
	}
}

func (l *ImageLoader) recordAttemptError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	cause := telemetry.CauseUnknown

	var fetchErr *FetchError
	var retryErr *retry.RetryError
	if errors.As(err, &fetchErr) {
		cause = mapFetchErrorToTelemetryCause(fetchErr)
	} else if errors.As(err, &retryErr) {
		cause = telemetry.CauseNetworkFailure
	}

	l.sink.RecordError(
		time.Now(),
		"loader",
		callerMethod,
		cause,
		err.Error(),
		[]telemetry.Attribute{
			telemetry.NewAttr(telemetry.AttrURL, fetchUrl.String()),
			telemetry.NewAttr(telemetry.AttrHost, fetchUrl.Host),
		},
	)
}

// parseRetryAfter understands the delay-seconds form of Retry-After.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// waitCtx sleeps for d or until the context is done.
func waitCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
