package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// fakeClock advances instantly on Sleep so backoff schedules can be exercised
// without real waits.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 8, 31, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

// scriptedClient returns canned results per step.
type scriptedClient struct {
	platform     string
	requestErrs  []error // consumed one per RequestReport call, nil = success
	pollStates   []models.PollState
	pollErrs     []error
	pollCalls    int
	downloadErrs []error
	payload      []byte
	format       string
}

func (s *scriptedClient) Platform() string { return s.platform }

func (s *scriptedClient) RequestReport(ctx context.Context, accountID, reportType string, dateRange models.DateRange) (*models.RawReportHandle, error) {
	var err error
	if len(s.requestErrs) > 0 {
		err, s.requestErrs = s.requestErrs[0], s.requestErrs[1:]
	}
	if err != nil {
		return nil, err
	}
	return &models.RawReportHandle{
		PlatformID: s.platform,
		AccountID:  accountID,
		ReportType: reportType,
		ReportID:   "rpt-1",
	}, nil
}

func (s *scriptedClient) PollStatus(ctx context.Context, handle *models.RawReportHandle) (models.PollState, error) {
	i := s.pollCalls
	s.pollCalls++
	if i < len(s.pollErrs) && s.pollErrs[i] != nil {
		return "", s.pollErrs[i]
	}
	if i < len(s.pollStates) {
		return s.pollStates[i], nil
	}
	return models.PollInProgress, nil
}

func (s *scriptedClient) Download(ctx context.Context, handle *models.RawReportHandle) ([]byte, string, error) {
	var err error
	if len(s.downloadErrs) > 0 {
		err, s.downloadErrs = s.downloadErrs[0], s.downloadErrs[1:]
	}
	if err != nil {
		return nil, "", err
	}
	return s.payload, s.format, nil
}

type fakeTokens struct {
	invalidated int
}

func (f *fakeTokens) Token(ctx context.Context, platform, accountID string) (string, error) {
	return "token", nil
}

func (f *fakeTokens) Invalidate(platform, accountID string) { f.invalidated++ }

func testPolicy() BackoffPolicy {
	p := DefaultBackoffPolicy()
	p.Jitter = false // deterministic delays
	return p
}

func newTestFetcher(tokens TokenProvider) (*Fetcher, *fakeClock) {
	clock := newFakeClock()
	return NewFetcher(testPolicy(), clock, tokens), clock
}

func dayRange() models.DateRange {
	return models.DateRange{Start: "2025-08-30", End: "2025-08-30"}
}

func TestFetchHappyPath(t *testing.T) {
	client := &scriptedClient{
		platform:   "amazon-sp",
		pollStates: []models.PollState{models.PollInProgress, models.PollInProgress, models.PollDone},
		payload:    []byte("Date\tValue\n"),
		format:     "text/tab-separated-values",
	}
	f, clock := newTestFetcher(&fakeTokens{})

	payload, format, err := f.Fetch(context.Background(), client, "A1", "GET_SALES_AND_TRAFFIC_REPORT", dayRange())
	require.NoError(t, err)
	require.Equal(t, []byte("Date\tValue\n"), payload)
	require.Equal(t, "text/tab-separated-values", format)

	// Two IN_PROGRESS polls mean two exponential waits: 15s then 30s.
	require.Equal(t, []time.Duration{15 * time.Second, 30 * time.Second}, clock.slept)
}

func TestFetchTimesOutWithoutOversleeping(t *testing.T) {
	client := &scriptedClient{platform: "amazon-sp"} // IN_PROGRESS forever
	f, clock := newTestFetcher(&fakeTokens{})
	start := clock.Now()

	_, _, err := f.Fetch(context.Background(), client, "A1", "GET_SALES_AND_TRAFFIC_REPORT", dayRange())

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindTimeout, ferr.Kind)

	// The loop must give up before the deadline rather than sleep across it.
	elapsed := clock.Now().Sub(start)
	require.LessOrEqual(t, elapsed, testPolicy().Timeout)
	require.Greater(t, ferr.Attempts, 1)
}

func TestFetchRefreshesTokenOnceOnAuthFailure(t *testing.T) {
	tokens := &fakeTokens{}
	client := &scriptedClient{
		platform:    "amazon-ads",
		requestErrs: []error{fmt.Errorf("request: %w", ErrUnauthorized), nil},
		pollStates:  []models.PollState{models.PollDone},
		payload:     []byte("{}"),
		format:      "application/json",
	}
	f, _ := newTestFetcher(tokens)

	_, _, err := f.Fetch(context.Background(), client, "A1", "SP_ADVERTISED_PRODUCT_REPORT", dayRange())
	require.NoError(t, err)
	require.Equal(t, 1, tokens.invalidated)
}

func TestFetchFailsAuthAfterSecondRejection(t *testing.T) {
	tokens := &fakeTokens{}
	client := &scriptedClient{
		platform:    "amazon-ads",
		requestErrs: []error{ErrUnauthorized, ErrUnauthorized},
	}
	f, _ := newTestFetcher(tokens)

	_, _, err := f.Fetch(context.Background(), client, "A1", "SP_ADVERTISED_PRODUCT_REPORT", dayRange())

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindAuth, ferr.Kind)
	require.Equal(t, 1, tokens.invalidated) // only the single transparent refresh
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestFetchRateLimitExhaustsAttempts(t *testing.T) {
	rateLimited := make([]error, 10)
	for i := range rateLimited {
		rateLimited[i] = ErrRateLimited
	}
	client := &scriptedClient{platform: "walmart", requestErrs: rateLimited}
	f, clock := newTestFetcher(&fakeTokens{})

	_, _, err := f.Fetch(context.Background(), client, "W1", "WALMART_SALES_REPORT", dayRange())

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindRateLimited, ferr.Kind)
	require.Equal(t, testPolicy().RateLimitMaxAttempts, ferr.Attempts)
	// Seven waits happen before the eighth attempt surfaces the error.
	require.Len(t, clock.slept, testPolicy().RateLimitMaxAttempts-1)
}

func TestFetchRateLimitBackoffHonorsDeadline(t *testing.T) {
	rateLimited := make([]error, 10)
	for i := range rateLimited {
		rateLimited[i] = ErrRateLimited
	}
	client := &scriptedClient{platform: "walmart", requestErrs: rateLimited}

	policy := testPolicy()
	policy.BaseDelay = 30 * time.Second
	policy.Timeout = time.Minute
	clock := newFakeClock()
	f := NewFetcher(policy, clock, &fakeTokens{})
	start := clock.Now()

	_, _, err := f.Fetch(context.Background(), client, "W1", "WALMART_SALES_REPORT", dayRange())

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	// The second backoff wait (60s at 30s elapsed) would cross the 1 minute
	// cap, so the request resolves TIMEOUT instead of sleeping through it.
	require.Equal(t, KindTimeout, ferr.Kind)
	require.Equal(t, 2, ferr.Attempts)
	require.LessOrEqual(t, clock.Now().Sub(start), policy.Timeout)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestFetchRateLimitRecovers(t *testing.T) {
	client := &scriptedClient{
		platform:    "walmart",
		requestErrs: []error{ErrRateLimited, ErrRateLimited, nil},
		pollStates:  []models.PollState{models.PollDone},
		payload:     []byte("ok"),
	}
	f, _ := newTestFetcher(&fakeTokens{})

	payload, _, err := f.Fetch(context.Background(), client, "W1", "WALMART_SALES_REPORT", dayRange())
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), payload)
}

func TestFetchPlatformErrorState(t *testing.T) {
	client := &scriptedClient{
		platform:   "amazon-sp",
		pollStates: []models.PollState{models.PollInProgress, models.PollError},
	}
	f, _ := newTestFetcher(&fakeTokens{})

	_, _, err := f.Fetch(context.Background(), client, "A1", "GET_SALES_AND_TRAFFIC_REPORT", dayRange())

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindPlatformError, ferr.Kind)
	require.Equal(t, 2, ferr.Attempts)
}

func TestFetchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{
		platform:    "amazon-sp",
		requestErrs: []error{errors.New("transport closed")},
	}
	f, _ := newTestFetcher(&fakeTokens{})

	_, _, err := f.Fetch(ctx, client, "A1", "GET_SALES_AND_TRAFFIC_REPORT", dayRange())

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindCancelled, ferr.Kind)
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	p := testPolicy()
	require.Equal(t, 15*time.Second, p.Delay(0))
	require.Equal(t, 30*time.Second, p.Delay(1))
	require.Equal(t, 4*time.Minute, p.Delay(4))
	require.Equal(t, 5*time.Minute, p.Delay(5)) // 8m uncapped
	require.Equal(t, 5*time.Minute, p.Delay(10))
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	p := testPolicy()
	p.Jitter = true
	for i := 0; i < 50; i++ {
		d := p.Delay(2) // 60s nominal
		require.GreaterOrEqual(t, d, 30*time.Second)
		require.LessOrEqual(t, d, 60*time.Second)
	}
}
