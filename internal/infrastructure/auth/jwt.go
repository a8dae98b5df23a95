package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/talentgrid/payverify/internal/infrastructure/redis"
)

// SessionTTL bounds both the JWT expiry and the Redis session record.
const SessionTTL = 24 * time.Hour

// GenerateWalletToken issues a session JWT for a wallet and records it in
// Redis so it can be revoked server-side.
func GenerateWalletToken(ctx context.Context, redisClient redis.RedisClient, jwtSecret, wallet string) (string, error) {
	if jwtSecret == "" {
		return "", fmt.Errorf("JWT secret not set")
	}

	claims := jwt.MapClaims{
		"wallet_address": wallet,
		"exp":            time.Now().Add(SessionTTL).Unix(),
		"iat":            time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	key := fmt.Sprintf("wallet:%s:token", wallet)
	if err := redisClient.Set(ctx, key, token, SessionTTL); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return token, nil
}

// VerifyWalletSignature checks that the caller controls the wallet's key:
// the signature must be the wallet's ed25519 signature over the message.
func VerifyWalletSignature(wallet, message, signatureB64 string) error {
	pubkey, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return fmt.Errorf("invalid wallet address: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length")
	}
	if !ed25519.Verify(pubkey[:], []byte(message), sig) {
		return fmt.Errorf("signature does not match wallet")
	}
	return nil
}
