package repository

import (
	"context"

	"github.com/talentgrid/payverify/internal/models"
)

type PointsRepository interface {
	// Award inserts the points transaction and increments the wallet's
	// running total in one database transaction. The unique reference
	// column makes a duplicate award ErrAlreadyClaimed; the increment is a
	// single SQL statement, never read-modify-write.
	Award(ctx context.Context, entry *models.PointsTransaction) error
	GetWalletPoints(ctx context.Context, walletAddress string) (int64, error)
}
