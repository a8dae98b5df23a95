package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/talentgrid/payverify/internal/infrastructure/redis"
)

// DisplayClient is the price source for UI display only. Unlike Client it
// caches and falls back to a rough last-known price on failure, which is
// acceptable for rendering a quote but NEVER for verifying a payment.
// Do not use this on the verification path.
type DisplayClient struct {
	oracle       *Client
	cache        redis.RedisClient
	fallbackRate float64
}

const displayCacheTTL = 30 * time.Second

func NewDisplayClient(oracle *Client, cache redis.RedisClient, fallbackRate float64) *DisplayClient {
	return &DisplayClient{oracle: oracle, cache: cache, fallbackRate: fallbackRate}
}

// DisplayRate returns a best-effort rate for UI quotes.
func (d *DisplayClient) DisplayRate(ctx context.Context, token, fiat string) float64 {
	key := fmt.Sprintf("price:display:%s:%s", token, fiat)
	if cached, err := d.cache.Get(ctx, key); err == nil {
		if rate, err := strconv.ParseFloat(cached, 64); err == nil {
			return rate
		}
	}

	rate, err := d.oracle.Rate(ctx, token, fiat)
	if err != nil {
		slog.Warn("display price falling back to last-known rate", "token", token, "fallback", d.fallbackRate)
		return d.fallbackRate
	}

	if err := d.cache.Set(ctx, key, strconv.FormatFloat(rate, 'f', -1, 64), displayCacheTTL); err != nil {
		slog.Warn("failed to cache display rate", "error", err)
	}
	return rate
}
