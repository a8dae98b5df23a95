package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/talentgrid/payverify/internal/infrastructure/observability"
	"github.com/talentgrid/payverify/internal/models"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == "23505"
}

type PostgresPaymentReferenceRepository struct {
	db *sql.DB
}

func NewPostgresPaymentReferenceRepository(db *sql.DB) *PostgresPaymentReferenceRepository {
	return &PostgresPaymentReferenceRepository{db: db}
}

func (r *PostgresPaymentReferenceRepository) Create(ctx context.Context, ref *models.PaymentReference) error {
	var err error
	tracer := otel.Tracer("payment-reference-repository")
	ctx, span := tracer.Start(ctx, "CreatePaymentReference")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreatePaymentReference", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreatePaymentReference").Observe(time.Since(start).Seconds())
	}()

	if ref == nil {
		err = pkgerrors.ErrInvalidInput
		return err
	}
	if ref.Reference == "" || ref.AmountUSD <= 0 {
		err = fmt.Errorf("%w: reference and positive amount are required", pkgerrors.ErrInvalidInput)
		slog.Error("invalid payment reference", "method", "Create", "reference", ref.Reference, "error", err)
		return err
	}
	if ref.PaymentType != models.TypeDirectPoll && ref.PaymentType != models.TypeRelay {
		err = fmt.Errorf("%w: unknown payment type %q", pkgerrors.ErrInvalidInput, ref.PaymentType)
		slog.Error("invalid payment type", "method", "Create", "payment_type", ref.PaymentType, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.String("reference", ref.Reference),
		attribute.Float64("amount_usd", ref.AmountUSD),
		attribute.String("payment_type", string(ref.PaymentType)),
		attribute.String("action", string(ref.Action)),
	)

	query := `INSERT INTO payment_references (reference, amount_usd, memo, payer, status, payment_type, action, expected_lamports)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query,
		ref.Reference, ref.AmountUSD, ref.Memo, ref.Payer, ref.PaymentType, ref.Action, int64(ref.ExpectedLamports),
	).Scan(&ref.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			err = pkgerrors.ErrAlreadyClaimed
			return err
		}
		slog.Error("failed to create payment reference", "method", "Create", "reference", ref.Reference, "error", err)
		return fmt.Errorf("failed to create payment reference: %w", err)
	}

	ref.Status = models.PaymentPending
	slog.Info("payment reference created", "method", "Create",
		"reference", ref.Reference, "amount_usd", ref.AmountUSD, "payment_type", ref.PaymentType)
	return nil
}

func (r *PostgresPaymentReferenceRepository) GetByReference(ctx context.Context, reference string) (*models.PaymentReference, error) {
	var err error
	tracer := otel.Tracer("payment-reference-repository")
	ctx, span := tracer.Start(ctx, "GetPaymentReference")
	span.SetAttributes(attribute.String("reference", reference))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetPaymentReference", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetPaymentReference").Observe(time.Since(start).Seconds())
	}()

	var ref models.PaymentReference
	var signature sql.NullString
	var usedAt sql.NullTime
	var expectedLamports int64
	query := `SELECT reference, amount_usd, memo, payer, status, payment_type, action, signature, expected_lamports, created_at, used_at
		FROM payment_references WHERE reference = $1`
	err = r.db.QueryRowContext(ctx, query, reference).Scan(
		&ref.Reference, &ref.AmountUSD, &ref.Memo, &ref.Payer, &ref.Status,
		&ref.PaymentType, &ref.Action, &signature, &expectedLamports, &ref.CreatedAt, &usedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrReferenceNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment reference", "method", "GetByReference", "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to get payment reference: %w", err)
	}

	ref.Signature = signature.String
	ref.ExpectedLamports = uint64(expectedLamports)
	if usedAt.Valid {
		ref.UsedAt = &usedAt.Time
	}
	return &ref, nil
}

// Claim is the arbiter for exactly-once settlement. The conditional UPDATE
// serializes concurrent claims on the row lock; only the caller that
// observes status='pending' wins.
func (r *PostgresPaymentReferenceRepository) Claim(ctx context.Context, reference, signature string) error {
	var err error
	tracer := otel.Tracer("payment-reference-repository")
	ctx, span := tracer.Start(ctx, "ClaimPaymentReference")
	span.SetAttributes(attribute.String("reference", reference), attribute.String("signature", signature))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ClaimPaymentReference", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ClaimPaymentReference").Observe(time.Since(start).Seconds())
	}()

	query := `UPDATE payment_references
		SET status = 'completed', signature = $2, used_at = NOW()
		WHERE reference = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, reference, signature)
	if err != nil {
		if isUniqueViolation(err) {
			// The signature already settled another charge.
			err = pkgerrors.ErrAlreadyClaimed
			return err
		}
		slog.Error("failed to claim payment reference", "method", "Claim", "reference", reference, "error", err)
		return fmt.Errorf("failed to claim payment reference: %w", err)
	}

	rows, raErr := res.RowsAffected()
	if raErr != nil {
		err = raErr
		return fmt.Errorf("failed to read claim result: %w", err)
	}
	if rows == 0 {
		existing, getErr := r.GetByReference(ctx, reference)
		if getErr != nil {
			err = getErr
			return err
		}
		switch existing.Status {
		case models.PaymentCompleted:
			err = pkgerrors.ErrAlreadyClaimed
		case models.PaymentExpired:
			err = pkgerrors.ErrReferenceExpired
		default:
			err = pkgerrors.ErrReferenceNotFound
		}
		return err
	}

	slog.Info("payment reference claimed", "method", "Claim", "reference", reference, "signature", signature)
	return nil
}

func (r *PostgresPaymentReferenceRepository) MarkFailed(ctx context.Context, reference string) error {
	query := `UPDATE payment_references SET status = 'failed' WHERE reference = $1 AND status = 'pending'`
	if _, err := r.db.ExecContext(ctx, query, reference); err != nil {
		slog.Error("failed to mark reference failed", "method", "MarkFailed", "reference", reference, "error", err)
		return fmt.Errorf("failed to mark reference failed: %w", err)
	}
	return nil
}

func (r *PostgresPaymentReferenceRepository) MarkExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE payment_references SET status = 'expired' WHERE status = 'pending' AND created_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		slog.Error("failed to expire stale references", "method", "MarkExpiredBefore", "error", err)
		return 0, fmt.Errorf("failed to expire stale references: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows > 0 {
		slog.Info("expired stale pending references", "method", "MarkExpiredBefore", "count", rows)
	}
	return rows, nil
}
