package repository

import (
	"context"
	"time"

	"github.com/talentgrid/payverify/internal/models"
)

// PaymentReferenceRepository is the idempotency ledger. Claim is the only
// path that moves a reference out of pending, and it succeeds at most once.
type PaymentReferenceRepository interface {
	Create(ctx context.Context, ref *models.PaymentReference) error
	GetByReference(ctx context.Context, reference string) (*models.PaymentReference, error)
	// Claim flips pending -> completed and records the settling signature.
	// Concurrent claims serialize on the row: exactly one caller wins,
	// losers get ErrAlreadyClaimed.
	Claim(ctx context.Context, reference, signature string) error
	MarkFailed(ctx context.Context, reference string) error
	// MarkExpiredBefore expires stale pending rows. Rows are never deleted.
	MarkExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
