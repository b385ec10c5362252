package vrf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// HTTPProvider talks to a randomness provider over HTTP. Requests are
// submitted with a POST; fulfillment status is polled with a GET against the
// same endpoint.
type HTTPProvider struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ Provider = (*HTTPProvider)(nil)
var _ StatusChecker = (*HTTPProvider)(nil)

// NewHTTPProvider constructs a provider client for the given endpoint.
func NewHTTPProvider(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("provider endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse provider endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("vrf-http-provider")
	}
	return &HTTPProvider{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

// RequestRandomWords submits a randomness request and returns the provider's
// request ID.
func (p *HTTPProvider) RequestRandomWords(ctx context.Context, params RequestParams) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("provider status %d", resp.StatusCode)
	}

	var payload struct {
		RequestID string `json:"request_id"`
		Error     string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	if payload.Error != "" {
		return "", fmt.Errorf("provider rejected request: %s", payload.Error)
	}
	if payload.RequestID == "" {
		return "", fmt.Errorf("provider returned empty request id")
	}

	p.log.WithField("request_id", payload.RequestID).Debug("randomness request accepted")
	return payload.RequestID, nil
}

// CheckRequest polls the provider for the request's random word.
func (p *HTTPProvider) CheckRequest(ctx context.Context, requestID string) (bool, uint64, time.Duration, error) {
	requestURL := *p.endpoint
	q := requestURL.Query()
	q.Set("request_id", requestID)
	requestURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return false, 0, 0, fmt.Errorf("build status request: %w", err)
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return false, 0, 0, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, 0, 0, fmt.Errorf("provider status %d", resp.StatusCode)
	}

	var payload struct {
		Done       bool     `json:"done"`
		Words      []uint64 `json:"words"`
		Error      string   `json:"error"`
		RetryAfter float64  `json:"retry_after_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, 0, 0, fmt.Errorf("decode status response: %w", err)
	}

	retry := time.Duration(payload.RetryAfter * float64(time.Second))
	if retry <= 0 {
		retry = 5 * time.Second
	}

	if payload.Error != "" {
		return false, 0, retry, fmt.Errorf("provider error: %s", payload.Error)
	}
	if !payload.Done {
		return false, 0, retry, nil
	}
	if len(payload.Words) == 0 {
		return false, 0, retry, fmt.Errorf("provider fulfilled request %s with no words", requestID)
	}
	return true, payload.Words[0], 0, nil
}
