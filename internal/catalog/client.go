// Package catalog is C4's collaborator boundary: applying a variant's
// content to, and restoring control prices in, the merchant's live
// catalog. Grounded on
// common/libraries/go/iaros-core/client.go's retrying, circuit-broken
// HTTPClient and pricing_service/src/DynamicPricingEngine.go's use of
// a breaker around an external price-mutation call.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/iaros/optimization-engine/internal/apperr"
)

// Client applies a winning variant's content to the merchant's catalog,
// and reverts it back to the control content when an optimization
// deactivates without promoting. Production code talks to the
// platform's product-update API; tests inject a fake.
type Client interface {
	ApplyVariant(ctx context.Context, req ApplyVariantRequest) error
	RestorePrices(ctx context.Context, req ApplyVariantRequest) error
}

// ApplyVariantRequest describes the single field mutation a promoted
// optimization applies to its product.
type ApplyVariantRequest struct {
	Shop             string
	ExternalProductID string
	Field            string // "title", "description", or "price"
	Value            string
}

// Config tunes the HTTP client and its circuit breaker.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig matches the retry/backoff posture used across the
// collaborator clients in the pack: three retries after the first
// attempt, short linear backoff.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		Timeout:       10 * time.Second,
		MaxRetries:    3,
		RetryInterval: 500 * time.Millisecond,
	}
}

// HTTPClient is the production Client, wrapping every call in a
// circuit breaker so a struggling catalog API degrades the engine's
// promotion path instead of cascading failures into it.
type HTTPClient struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	cfg     Config
	logger  *zap.Logger
}

// NewHTTPClient builds a catalog client with a breaker that trips
// after three consecutive failures and probes again after 30s, mirroring
// common/libraries/go/iaros-core/client.go's default breaker settings.
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	breakerSettings := gobreaker.Settings{
		Name:        "catalog-client",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 2
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("catalog circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &HTTPClient{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    100,
				MaxConnsPerHost: 10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		breaker: gobreaker.NewCircuitBreaker(breakerSettings),
		cfg:     cfg,
		logger:  logger,
	}
}

// ApplyVariant PATCHes the single changed field to the catalog API,
// retrying transient/5xx failures up to MaxRetries times behind the
// circuit breaker. A 4xx response is never retried.
func (c *HTTPClient) ApplyVariant(ctx context.Context, req ApplyVariantRequest) error {
	return c.mutate(ctx, "ApplyVariant", fmt.Sprintf("%s/products/%s", c.cfg.BaseURL, req.ExternalProductID), req)
}

// RestorePrices reverts a product's mutated field back to its control
// value. Called on deactivation of a price-type optimization that
// never promoted the variant, so the catalog doesn't keep serving a
// price the experiment abandoned.
func (c *HTTPClient) RestorePrices(ctx context.Context, req ApplyVariantRequest) error {
	return c.mutate(ctx, "RestorePrices", fmt.Sprintf("%s/products/%s/restore", c.cfg.BaseURL, req.ExternalProductID), req)
}

// mutate runs one catalog field mutation behind the circuit breaker,
// retrying transient/5xx failures up to MaxRetries times. A 4xx
// response is never retried.
func (c *HTTPClient) mutate(ctx context.Context, op, url string, req ApplyVariantRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return apperr.NewInvalidArgument("catalog."+op, "encode request failed")
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, url, payload, req.Shop)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if statusErr, ok := err.(*httpStatusError); ok && statusErr.status < 500 {
			return apperr.NewCollaboratorFailure("catalog."+op, fmt.Sprintf("catalog rejected update: %s", statusErr.status2digits()), err)
		}

		c.logger.Warn("catalog mutation attempt failed",
			zap.String("op", op),
			zap.String("shop", req.Shop),
			zap.String("product", req.ExternalProductID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < c.cfg.MaxRetries {
			time.Sleep(c.cfg.RetryInterval * time.Duration(attempt+1))
		}
	}

	return apperr.NewCollaboratorFailure("catalog."+op, "catalog update failed after retries", lastErr)
}

func (c *HTTPClient) do(ctx context.Context, url string, payload []byte, shop string) (interface{}, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Shop-Domain", shop)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{status: resp.StatusCode, body: string(body)}
	}

	return nil, nil
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("catalog API returned %d: %s", e.status, e.body)
}

func (e *httpStatusError) status2digits() string {
	return fmt.Sprintf("%d", e.status)
}
