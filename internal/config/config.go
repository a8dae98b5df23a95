package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string
	Port         string

	SolanaRPCURL string
	OracleURL    string

	// One treasury per protocol variant; injected, never hardcoded.
	TreasuryWallet      string
	RelayTreasuryWallet string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:         os.Getenv("POSTGRES_DSN"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		KafkaBrokers:        []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:           os.Getenv("JWT_SECRET"),
		Port:                os.Getenv("PORT"),
		SolanaRPCURL:        os.Getenv("SOLANA_RPC_URL"),
		OracleURL:           os.Getenv("ORACLE_URL"),
		TreasuryWallet:      os.Getenv("TREASURY_WALLET"),
		RelayTreasuryWallet: os.Getenv("RELAY_TREASURY_WALLET"),
	}

	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=payverify sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.SolanaRPCURL == "" {
		cfg.SolanaRPCURL = "https://api.mainnet-beta.solana.com"
	}
	if cfg.OracleURL == "" {
		cfg.OracleURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.RelayTreasuryWallet == "" {
		cfg.RelayTreasuryWallet = cfg.TreasuryWallet
	}

	slog.Info("config loaded",
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"solana_rpc_url", cfg.SolanaRPCURL,
		"treasury_wallet", cfg.TreasuryWallet,
		"relay_treasury_wallet", cfg.RelayTreasuryWallet)
	return cfg
}
