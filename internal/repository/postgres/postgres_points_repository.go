package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talentgrid/payverify/internal/infrastructure/observability"
	"github.com/talentgrid/payverify/internal/models"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresPointsRepository struct {
	db *sql.DB
}

func NewPostgresPointsRepository(db *sql.DB) *PostgresPointsRepository {
	return &PostgresPointsRepository{db: db}
}

// Award inserts the points entry and bumps the wallet total in one
// database transaction. The unique solana_pay_reference insert is the
// idempotency arbiter: a duplicate award surfaces as ErrAlreadyClaimed
// before the increment runs, so no wallet is ever credited twice for one
// payment. The increment itself is a single UPSERT statement so concurrent
// awards for the same wallet from different references cannot lose updates.
func (r *PostgresPointsRepository) Award(ctx context.Context, entry *models.PointsTransaction) error {
	var err error
	tracer := otel.Tracer("points-repository")
	ctx, span := tracer.Start(ctx, "AwardPoints")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("AwardPoints", status).Inc()
		observability.RepositoryDuration.WithLabelValues("AwardPoints").Observe(time.Since(start).Seconds())
	}()

	if entry == nil {
		err = pkgerrors.ErrInvalidInput
		return err
	}
	if entry.WalletAddress == "" || entry.SolanaPayReference == "" || entry.Points <= 0 {
		err = fmt.Errorf("%w: wallet, reference and positive points are required", pkgerrors.ErrInvalidInput)
		slog.Error("invalid points award", "method", "Award", "wallet", entry.WalletAddress, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.String("wallet_address", entry.WalletAddress),
		attribute.Int64("points", entry.Points),
		attribute.String("solana_pay_reference", entry.SolanaPayReference),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Award", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	insert := `INSERT INTO points_transactions (wallet_address, transaction_type, points, solana_pay_reference, payment_token_mint, payment_token_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err = dbTx.QueryRowContext(ctx, insert,
		entry.WalletAddress, entry.Type, entry.Points, entry.SolanaPayReference,
		entry.PaymentTokenMint, entry.PaymentTokenAmount,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "Award", "error", rbErr)
		}
		if isUniqueViolation(err) {
			err = pkgerrors.ErrAlreadyClaimed
			return err
		}
		slog.Error("failed to insert points transaction", "method", "Award", "wallet", entry.WalletAddress, "error", err)
		return fmt.Errorf("failed to insert points transaction: %w", err)
	}

	increment := `INSERT INTO wallet_points (wallet_address, points) VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE SET points = wallet_points.points + EXCLUDED.points`
	if _, err = dbTx.ExecContext(ctx, increment, entry.WalletAddress, entry.Points); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "Award", "error", rbErr)
		}
		slog.Error("failed to increment wallet points", "method", "Award", "wallet", entry.WalletAddress, "error", err)
		return fmt.Errorf("failed to increment wallet points: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit points award", "method", "Award", "error", err)
		return fmt.Errorf("failed to commit points award: %w", err)
	}

	slog.Info("points awarded", "method", "Award",
		"wallet", entry.WalletAddress, "points", entry.Points, "reference", entry.SolanaPayReference)
	return nil
}

func (r *PostgresPointsRepository) GetWalletPoints(ctx context.Context, walletAddress string) (int64, error) {
	var points int64
	query := `SELECT points FROM wallet_points WHERE wallet_address = $1`
	err := r.db.QueryRowContext(ctx, query, walletAddress).Scan(&points)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		slog.Error("failed to get wallet points", "method", "GetWalletPoints", "wallet", walletAddress, "error", err)
		return 0, fmt.Errorf("failed to get wallet points: %w", err)
	}
	return points, nil
}
