package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/talentgrid/payverify/internal/infrastructure/observability"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxAttempts    = 3
	attemptTimeout = 10 * time.Second

	// Sanity bounds for the native token price in fiat. Anything outside is
	// treated as corrupt upstream data (e.g. a decimal-shift bug), not a rate.
	minSaneRate = 10.0
	maxSaneRate = 1000.0
)

// Client fetches fiat exchange rates for the verification path. It never
// guesses: after maxAttempts failures the caller gets ErrOracleUnavailable
// and must surface a retryable error, not a hardcoded price.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: attemptTimeout},
	}
}

// NewClientWithHTTP is used by tests to inject a transport.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

// Rate returns the fiat price of one unit of token. Each attempt has an
// independent timeout; backoff grows linearly with the attempt number.
func (c *Client) Rate(ctx context.Context, token, fiat string) (float64, error) {
	tracer := otel.Tracer("price-oracle")
	ctx, span := tracer.Start(ctx, "Rate")
	span.SetAttributes(attribute.String("token", token), attribute.String("fiat", fiat))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rate, err := c.fetch(ctx, token, fiat)
		if err == nil {
			observability.OracleCalls.WithLabelValues("success").Inc()
			span.SetAttributes(attribute.Float64("rate", rate))
			slog.Info("oracle rate fetched", "token", token, "fiat", fiat, "rate", rate, "attempt", attempt)
			return rate, nil
		}

		lastErr = err
		observability.OracleCalls.WithLabelValues("error").Inc()
		slog.Warn("oracle attempt failed", "token", token, "attempt", attempt, "error", err)

		if attempt < maxAttempts {
			select {
			case <-time.After(time.Second * time.Duration(attempt)):
			case <-ctx.Done():
				span.SetStatus(codes.Error, "context cancelled")
				return 0, fmt.Errorf("%w: %v", pkgerrors.ErrOracleUnavailable, ctx.Err())
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "oracle exhausted")
	slog.Error("oracle exhausted all attempts", "token", token, "attempts", maxAttempts, "error", lastErr)
	return 0, fmt.Errorf("%w: %v", pkgerrors.ErrOracleUnavailable, lastErr)
}

func (c *Client) fetch(ctx context.Context, token, fiat string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		c.baseURL, url.QueryEscape(token), url.QueryEscape(fiat))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("malformed oracle response: %w", err)
	}

	rate, ok := body[token][fiat]
	if !ok {
		return 0, fmt.Errorf("oracle response missing %s/%s", token, fiat)
	}
	if rate < minSaneRate || rate > maxSaneRate {
		return 0, fmt.Errorf("oracle rate %.6f outside sane bounds [%.0f, %.0f]", rate, minSaneRate, maxSaneRate)
	}
	return rate, nil
}
