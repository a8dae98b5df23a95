package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	_ "github.com/lib/pq"
	"github.com/talentgrid/payverify/internal/api"
	"github.com/talentgrid/payverify/internal/chain"
	"github.com/talentgrid/payverify/internal/config"
	"github.com/talentgrid/payverify/internal/handler"
	"github.com/talentgrid/payverify/internal/infrastructure/kafka"
	"github.com/talentgrid/payverify/internal/infrastructure/redis"
	"github.com/talentgrid/payverify/internal/models"
	"github.com/talentgrid/payverify/internal/observability"
	"github.com/talentgrid/payverify/internal/oracle"
	core "github.com/talentgrid/payverify/internal/repository/postgres"
	service "github.com/talentgrid/payverify/internal/services"
)

const displayFallbackRateUSD = 150.0

func main() {
	cfg := config.Load()

	shutdown, metricsHandler := observability.Setup("payment-verifier")
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	treasury, err := solana.PublicKeyFromBase58(cfg.TreasuryWallet)
	if err != nil {
		log.Fatalf("Invalid TREASURY_WALLET: %v", err)
	}
	relayTreasury, err := solana.PublicKeyFromBase58(cfg.RelayTreasuryWallet)
	if err != nil {
		log.Fatalf("Invalid RELAY_TREASURY_WALLET: %v", err)
	}

	refRepo := core.NewPostgresPaymentReferenceRepository(db)
	pointsRepo := core.NewPostgresPointsRepository(db)
	listingRepo := core.NewPostgresListingRepository(db)
	talentRepo := core.NewPostgresTalentRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	rpcClient := rpc.New(cfg.SolanaRPCURL)
	locator := chain.NewLocator(rpcClient)
	rates := oracle.NewClient(cfg.OracleURL)
	displayRates := oracle.NewDisplayClient(rates, redisClient, displayFallbackRateUSD)

	settlementSvc := service.NewSettlementService(pointsRepo, listingRepo, talentRepo, redisClient, producer)
	verifier := service.NewVerificationService(refRepo, locator, rates, settlementSvc, map[models.PaymentType]solana.PublicKey{
		models.TypeDirectPoll: treasury,
		models.TypeRelay:      relayTreasury,
	})
	chargeSvc := service.NewChargeService(refRepo, rates, cfg.TreasuryWallet, "TalentGrid")
	relaySvc := service.NewRelayService(refRepo, rates, rpcClient, locator, verifier, relayTreasury)

	retryConsumer := kafka.NewConsumer(cfg.KafkaBrokers, kafka.TopicSettlementRetries, "payverify-settlements", settlementSvc)
	go retryConsumer.Consume(context.Background())
	defer retryConsumer.Close()

	// Hourly sweep marking stale pending charges expired.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := chargeSvc.ExpireStale(context.Background()); err != nil {
				log.Printf("expiry sweep failed: %v", err)
			}
		}
	}()

	h := handler.NewHandler(chargeSvc, verifier, relaySvc, pointsRepo, displayRates, redisClient, cfg.JWTSecret)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret, metricsHandler)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
