package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	ctx := context.Background()
	wallet := solana.NewWallet().PublicKey().String()
	const secret = "secret"

	store := newMemoryRedis()
	token, err := GenerateWalletToken(ctx, store, secret, wallet)
	require.NoError(t, err)

	var gotWallet string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWallet, _ = r.Context().Value("wallet_address").(string)
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(store, secret)(next)

	do := func(authHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/points", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("passes a valid session and exposes the wallet", func(t *testing.T) {
		rec := do("Bearer " + token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, wallet, gotWallet)
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("").Code)
	})

	t.Run("rejects a malformed header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("Token "+token).Code)
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		otherStore := newMemoryRedis()
		forged, err := GenerateWalletToken(ctx, otherStore, "other-secret", wallet)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+forged).Code)
	})

	t.Run("rejects a revoked session", func(t *testing.T) {
		require.NoError(t, store.Del(ctx, "wallet:"+wallet+":token"))
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+token).Code)
	})
}
