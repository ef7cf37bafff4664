// Package fetcher requests asynchronous reports from the platform APIs,
// polls for completion with exponential backoff, and returns the raw payload
// plus its declared format. Auth failures get exactly one transparent token
// refresh; rate-limit responses retry under the backoff policy up to a
// bounded attempt count.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
)

// FetchError kinds.
const (
	KindAuth          = "AUTH"
	KindRateLimited   = "RATE_LIMITED"
	KindTimeout       = "TIMEOUT"
	KindCancelled     = "CANCELLED"
	KindPlatformError = "PLATFORM_ERROR"
)

// Step-level sentinels surfaced by platform clients; the fetcher translates
// them into retries or a terminal FetchError.
var (
	ErrUnauthorized = errors.New("platform rejected credentials")
	ErrRateLimited  = errors.New("platform rate limit exceeded")
)

// FetchError is the terminal failure for one report request.
type FetchError struct {
	Kind       string
	Platform   string
	ReportType string
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed (%s) for %s/%s after %d attempts: %v",
		e.Kind, e.Platform, e.ReportType, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PlatformClient is the minimal per-platform surface the pipeline depends
// on: request a report, poll its status, download the finished bytes.
type PlatformClient interface {
	Platform() string
	RequestReport(ctx context.Context, accountID, reportType string, dateRange models.DateRange) (*models.RawReportHandle, error)
	PollStatus(ctx context.Context, handle *models.RawReportHandle) (models.PollState, error)
	Download(ctx context.Context, handle *models.RawReportHandle) ([]byte, string, error)
}

// TokenProvider supplies and refreshes platform access tokens.
type TokenProvider interface {
	Token(ctx context.Context, platform, accountID string) (string, error)
	Invalidate(platform, accountID string)
}

// Fetcher drives the request/poll/download cycle for any platform client.
type Fetcher struct {
	policy BackoffPolicy
	clock  Clock
	tokens TokenProvider
}

func NewFetcher(policy BackoffPolicy, clock Clock, tokens TokenProvider) *Fetcher {
	if clock == nil {
		clock = realClock{}
	}
	return &Fetcher{policy: policy, clock: clock, tokens: tokens}
}

// Fetch runs one report end to end and returns the payload bytes plus the
// declared format. Any terminal failure comes back as a *FetchError. The
// policy timeout bounds the whole request/poll/download cycle, including
// rate-limit backoff waits.
func (f *Fetcher) Fetch(ctx context.Context, client PlatformClient, accountID, reportType string, dateRange models.DateRange) ([]byte, string, error) {
	platform := client.Platform()
	deadline := f.clock.Now().Add(f.policy.Timeout)

	var handle *models.RawReportHandle
	err := f.callStep(ctx, deadline, platform, accountID, reportType, func() error {
		var stepErr error
		handle, stepErr = client.RequestReport(ctx, accountID, reportType, dateRange)
		return stepErr
	})
	if err != nil {
		return nil, "", err
	}
	logger.L.Debug("Report request accepted", "platform", platform, "reportType", reportType, "reportID", handle.ReportID)

	if err := f.pollUntilReady(ctx, client, handle, deadline); err != nil {
		return nil, "", err
	}

	var payload []byte
	var format string
	err = f.callStep(ctx, deadline, platform, accountID, reportType, func() error {
		var stepErr error
		payload, format, stepErr = client.Download(ctx, handle)
		return stepErr
	})
	if err != nil {
		return nil, "", err
	}
	if format == "" {
		format = handle.Format
	}
	logger.L.Info("Report downloaded", "platform", platform, "reportType", reportType, "bytes", len(payload), "attempts", handle.Attempts)
	return payload, format, nil
}

// pollUntilReady polls the report status until DONE or a terminal condition.
// The loop never sleeps past the overall deadline: when the next wait would
// cross it, the request resolves to TIMEOUT immediately.
func (f *Fetcher) pollUntilReady(ctx context.Context, client PlatformClient, handle *models.RawReportHandle, deadline time.Time) error {
	platform := client.Platform()

	for attempt := 0; ; attempt++ {
		var state models.PollState
		err := f.callStep(ctx, deadline, platform, handle.AccountID, handle.ReportType, func() error {
			var stepErr error
			state, stepErr = client.PollStatus(ctx, handle)
			return stepErr
		})
		if err != nil {
			return err
		}
		handle.PollState = state
		handle.Attempts = attempt + 1

		switch state {
		case models.PollDone:
			return nil
		case models.PollCancelled, models.PollError:
			return &FetchError{
				Kind: KindPlatformError, Platform: platform, ReportType: handle.ReportType,
				Attempts: handle.Attempts, Err: fmt.Errorf("report ended in state %s", state),
			}
		case models.PollInProgress:
			// keep waiting
		default:
			return &FetchError{
				Kind: KindPlatformError, Platform: platform, ReportType: handle.ReportType,
				Attempts: handle.Attempts, Err: fmt.Errorf("unknown report state %q", state),
			}
		}

		delay := f.policy.Delay(attempt)
		if f.clock.Now().Add(delay).After(deadline) {
			return &FetchError{
				Kind: KindTimeout, Platform: platform, ReportType: handle.ReportType,
				Attempts: handle.Attempts, Err: fmt.Errorf("report still %s after %s", state, f.policy.Timeout),
			}
		}
		if err := f.clock.Sleep(ctx, delay); err != nil {
			return &FetchError{
				Kind: KindCancelled, Platform: platform, ReportType: handle.ReportType,
				Attempts: handle.Attempts, Err: err,
			}
		}
	}
}

// callStep executes one API step with the shared retry rules: one transparent
// token refresh on the first auth failure, backoff retries for rate limits up
// to the configured attempt cap or the overall deadline, everything else
// terminal.
func (f *Fetcher) callStep(ctx context.Context, deadline time.Time, platform, accountID, reportType string, step func() error) error {
	refreshed := false
	for attempt := 1; ; attempt++ {
		err := step()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &FetchError{Kind: KindCancelled, Platform: platform, ReportType: reportType, Attempts: attempt, Err: ctx.Err()}
		}

		switch {
		case errors.Is(err, ErrUnauthorized):
			if refreshed {
				return &FetchError{Kind: KindAuth, Platform: platform, ReportType: reportType, Attempts: attempt, Err: err}
			}
			refreshed = true
			logger.L.Warn("Access token rejected, refreshing once", "platform", platform, "accountID", accountID)
			if f.tokens != nil {
				f.tokens.Invalidate(platform, accountID)
			}
			continue
		case errors.Is(err, ErrRateLimited):
			if attempt >= f.policy.RateLimitMaxAttempts {
				return &FetchError{Kind: KindRateLimited, Platform: platform, ReportType: reportType, Attempts: attempt, Err: err}
			}
			delay := f.policy.Delay(attempt - 1)
			if f.clock.Now().Add(delay).After(deadline) {
				return &FetchError{
					Kind: KindTimeout, Platform: platform, ReportType: reportType, Attempts: attempt,
					Err: fmt.Errorf("rate-limit backoff would exceed %s: %w", f.policy.Timeout, err),
				}
			}
			logger.L.Warn("Rate limited by platform, backing off", "platform", platform, "delay", delay.String(), "attempt", attempt)
			if sleepErr := f.clock.Sleep(ctx, delay); sleepErr != nil {
				return &FetchError{Kind: KindCancelled, Platform: platform, ReportType: reportType, Attempts: attempt, Err: sleepErr}
			}
			continue
		default:
			return &FetchError{Kind: KindPlatformError, Platform: platform, ReportType: reportType, Attempts: attempt, Err: err}
		}
	}
}
