package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

func priceBody(rate float64) string {
	return fmt.Sprintf(`{"solana":{"usd":%f}}`, rate)
}

func TestClient_Rate(t *testing.T) {
	ctx := context.Background()

	t.Run("returns rate on first attempt", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/simple/price", r.URL.Path)
			assert.Equal(t, "solana", r.URL.Query().Get("ids"))
			assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
			fmt.Fprint(w, priceBody(142.5))
		}))
		defer srv.Close()

		client := NewClientWithHTTP(srv.URL, srv.Client())
		rate, err := client.Rate(ctx, "solana", "usd")
		require.NoError(t, err)
		assert.Equal(t, 142.5, rate)
	})

	t.Run("recovers after transient failures", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, priceBody(99.0))
		}))
		defer srv.Close()

		client := NewClientWithHTTP(srv.URL, srv.Client())
		rate, err := client.Rate(ctx, "solana", "usd")
		require.NoError(t, err)
		assert.Equal(t, 99.0, rate)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after exhausting attempts", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := NewClientWithHTTP(srv.URL, srv.Client())
		_, err := client.Rate(ctx, "solana", "usd")
		assert.ErrorIs(t, err, pkgerrors.ErrOracleUnavailable)
		assert.Equal(t, int32(maxAttempts), calls.Load())
	})

	t.Run("rejects rate outside sanity bounds", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// A decimal-shift bug upstream must not become a real price.
			fmt.Fprint(w, priceBody(14250.0))
		}))
		defer srv.Close()

		client := NewClientWithHTTP(srv.URL, srv.Client())
		_, err := client.Rate(ctx, "solana", "usd")
		assert.ErrorIs(t, err, pkgerrors.ErrOracleUnavailable)
	})

	t.Run("rejects malformed response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"solana":{}}`)
		}))
		defer srv.Close()

		client := NewClientWithHTTP(srv.URL, srv.Client())
		_, err := client.Rate(ctx, "solana", "usd")
		assert.ErrorIs(t, err, pkgerrors.ErrOracleUnavailable)
	})
}
