package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/config"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/platforms"
)

const clientTimeout = 30 * time.Second

// NewClients builds the production platform clients keyed by platform id.
func NewClients(cfg *config.AppConfig, tokens TokenProvider) map[string]PlatformClient {
	limit := rate.Limit(cfg.RequestsPerSecond)
	return map[string]PlatformClient{
		platforms.AmazonSP: &amazonSPClient{
			api: newAPIClient(cfg.AmazonSP.BaseURL, limit, tokens),
		},
		platforms.AmazonAds: &amazonAdsClient{
			api:      newAPIClient(cfg.AmazonAds.BaseURL, limit, tokens),
			clientID: cfg.AmazonAds.ClientID,
		},
		platforms.Walmart: &walmartClient{
			platform: platforms.Walmart,
			api:      newAPIClient(cfg.Walmart.BaseURL, limit, tokens),
		},
		platforms.WalmartAds: &walmartClient{
			platform: platforms.WalmartAds,
			api:      newAPIClient(cfg.Walmart.BaseURL, limit, tokens),
		},
	}
}

// apiClient is the shared HTTP plumbing: client-side rate limiting, token
// injection, JSON decoding, and status-code translation into the fetcher's
// step sentinels.
type apiClient struct {
	baseURL    string
	httpClient http.Client
	limiter    *rate.Limiter
	tokens     TokenProvider
}

func newAPIClient(baseURL string, limit rate.Limit, tokens TokenProvider) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.Client{Timeout: clientTimeout},
		limiter:    rate.NewLimiter(limit, 1),
		tokens:     tokens,
	}
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, headers map[string]string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	url := path
	if !strings.HasPrefix(path, "http") {
		url = c.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// download fetches raw bytes from a pre-signed or direct URL.
func (c *apiClient) download(ctx context.Context, url string, headers map[string]string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, "", err
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return payload, resp.Header.Get("Content-Type"), nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected HTTP %d: %s", resp.StatusCode, string(snippet))
	}
}

// --- Amazon SP-API ---

type amazonSPClient struct {
	api *apiClient
}

func (c *amazonSPClient) Platform() string { return platforms.AmazonSP }

func (c *amazonSPClient) authHeaders(ctx context.Context, accountID string) (map[string]string, error) {
	token, err := c.api.tokens.Token(ctx, platforms.AmazonSP, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return map[string]string{"x-amz-access-token": token}, nil
}

func (c *amazonSPClient) RequestReport(ctx context.Context, accountID, reportType string, dateRange models.DateRange) (*models.RawReportHandle, error) {
	headers, err := c.authHeaders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"reportType":    reportType,
		"dataStartTime": dateRange.Start + "T00:00:00Z",
		"dataEndTime":   dateRange.End + "T23:59:59Z",
	}
	var created struct {
		ReportID string `json:"reportId"`
	}
	if err := c.api.doJSON(ctx, http.MethodPost, "/reports/2021-06-30/reports", headers, body, &created); err != nil {
		return nil, err
	}
	return &models.RawReportHandle{
		PlatformID:  platforms.AmazonSP,
		AccountID:   accountID,
		ReportType:  reportType,
		ReportID:    created.ReportID,
		RequestedAt: time.Now(),
		PollState:   models.PollInProgress,
	}, nil
}

func (c *amazonSPClient) PollStatus(ctx context.Context, handle *models.RawReportHandle) (models.PollState, error) {
	headers, err := c.authHeaders(ctx, handle.AccountID)
	if err != nil {
		return "", err
	}
	var status struct {
		ProcessingStatus string `json:"processingStatus"`
		ReportDocumentID string `json:"reportDocumentId"`
	}
	if err := c.api.doJSON(ctx, http.MethodGet, "/reports/2021-06-30/reports/"+handle.ReportID, headers, nil, &status); err != nil {
		return "", err
	}
	switch status.ProcessingStatus {
	case "DONE":
		handle.DownloadRef = status.ReportDocumentID
		return models.PollDone, nil
	case "CANCELLED":
		return models.PollCancelled, nil
	case "FATAL":
		return models.PollError, nil
	default: // IN_QUEUE, IN_PROGRESS
		return models.PollInProgress, nil
	}
}

func (c *amazonSPClient) Download(ctx context.Context, handle *models.RawReportHandle) ([]byte, string, error) {
	headers, err := c.authHeaders(ctx, handle.AccountID)
	if err != nil {
		return nil, "", err
	}
	var doc struct {
		URL                  string `json:"url"`
		CompressionAlgorithm string `json:"compressionAlgorithm"`
	}
	if err := c.api.doJSON(ctx, http.MethodGet, "/reports/2021-06-30/documents/"+handle.DownloadRef, headers, nil, &doc); err != nil {
		return nil, "", err
	}
	// The document URL is pre-signed; no auth headers on the download itself.
	payload, _, err := c.api.download(ctx, doc.URL, nil)
	if err != nil {
		return nil, "", err
	}
	format := "text/tab-separated-values"
	if doc.CompressionAlgorithm == "GZIP" {
		format = "application/gzip"
	}
	return payload, format, nil
}

// --- Amazon Ads ---

type amazonAdsClient struct {
	api      *apiClient
	clientID string
}

func (c *amazonAdsClient) Platform() string { return platforms.AmazonAds }

func (c *amazonAdsClient) authHeaders(ctx context.Context, accountID string) (map[string]string, error) {
	token, err := c.api.tokens.Token(ctx, platforms.AmazonAds, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return map[string]string{
		"Authorization":                   "Bearer " + token,
		"Amazon-Advertising-API-ClientId": c.clientID,
		"Amazon-Advertising-API-Scope":    accountID,
	}, nil
}

func (c *amazonAdsClient) RequestReport(ctx context.Context, accountID, reportType string, dateRange models.DateRange) (*models.RawReportHandle, error) {
	headers, err := c.authHeaders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"startDate": dateRange.Start,
		"endDate":   dateRange.End,
		"configuration": map[string]interface{}{
			"reportTypeId": reportType,
			"timeUnit":     "DAILY",
			"format":       "GZIP_JSON",
		},
	}
	var created struct {
		ReportID string `json:"reportId"`
	}
	if err := c.api.doJSON(ctx, http.MethodPost, "/reporting/reports", headers, body, &created); err != nil {
		return nil, err
	}
	return &models.RawReportHandle{
		PlatformID:  platforms.AmazonAds,
		AccountID:   accountID,
		ReportType:  reportType,
		ReportID:    created.ReportID,
		RequestedAt: time.Now(),
		PollState:   models.PollInProgress,
		Format:      "application/gzip",
	}, nil
}

func (c *amazonAdsClient) PollStatus(ctx context.Context, handle *models.RawReportHandle) (models.PollState, error) {
	headers, err := c.authHeaders(ctx, handle.AccountID)
	if err != nil {
		return "", err
	}
	var status struct {
		Status string `json:"status"`
		URL    string `json:"url"`
	}
	if err := c.api.doJSON(ctx, http.MethodGet, "/reporting/reports/"+handle.ReportID, headers, nil, &status); err != nil {
		return "", err
	}
	switch status.Status {
	case "COMPLETED":
		handle.DownloadRef = status.URL
		return models.PollDone, nil
	case "FAILURE":
		return models.PollError, nil
	case "CANCELLED":
		return models.PollCancelled, nil
	default: // PENDING, PROCESSING
		return models.PollInProgress, nil
	}
}

func (c *amazonAdsClient) Download(ctx context.Context, handle *models.RawReportHandle) ([]byte, string, error) {
	payload, contentType, err := c.api.download(ctx, handle.DownloadRef, nil)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = "application/gzip"
	}
	return payload, contentType, nil
}

// --- Walmart (seller and ads share the report request flow) ---

type walmartClient struct {
	platform string
	api      *apiClient
}

func (c *walmartClient) Platform() string { return c.platform }

func (c *walmartClient) authHeaders(ctx context.Context, accountID string) (map[string]string, error) {
	token, err := c.api.tokens.Token(ctx, c.platform, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return map[string]string{
		"WM_SEC.ACCESS_TOKEN":   token,
		"WM_QOS.CORRELATION_ID": fmt.Sprintf("%s-%d", accountID, time.Now().UnixNano()),
	}, nil
}

func (c *walmartClient) RequestReport(ctx context.Context, accountID, reportType string, dateRange models.DateRange) (*models.RawReportHandle, error) {
	headers, err := c.authHeaders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/v3/reports/reportRequests?reportType=%s&startDate=%s&endDate=%s", reportType, dateRange.Start, dateRange.End)
	var created struct {
		RequestID string `json:"requestId"`
	}
	if err := c.api.doJSON(ctx, http.MethodPost, path, headers, nil, &created); err != nil {
		return nil, err
	}
	return &models.RawReportHandle{
		PlatformID:  c.platform,
		AccountID:   accountID,
		ReportType:  reportType,
		ReportID:    created.RequestID,
		RequestedAt: time.Now(),
		PollState:   models.PollInProgress,
		Format:      "application/gzip",
	}, nil
}

func (c *walmartClient) PollStatus(ctx context.Context, handle *models.RawReportHandle) (models.PollState, error) {
	headers, err := c.authHeaders(ctx, handle.AccountID)
	if err != nil {
		return "", err
	}
	var status struct {
		RequestStatus string `json:"requestStatus"`
	}
	if err := c.api.doJSON(ctx, http.MethodGet, "/v3/reports/reportRequests/"+handle.ReportID, headers, nil, &status); err != nil {
		return "", err
	}
	switch status.RequestStatus {
	case "READY":
		return models.PollDone, nil
	case "ERROR":
		return models.PollError, nil
	default: // RECEIVED, INPROGRESS
		return models.PollInProgress, nil
	}
}

func (c *walmartClient) Download(ctx context.Context, handle *models.RawReportHandle) ([]byte, string, error) {
	headers, err := c.authHeaders(ctx, handle.AccountID)
	if err != nil {
		return nil, "", err
	}
	var doc struct {
		DownloadURL string `json:"downloadURL"`
	}
	if err := c.api.doJSON(ctx, http.MethodGet, "/v3/reports/downloadReport?requestId="+handle.ReportID, headers, nil, &doc); err != nil {
		return nil, "", err
	}
	payload, contentType, err := c.api.download(ctx, doc.DownloadURL, nil)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = "application/gzip"
	}
	return payload, contentType, nil
}
