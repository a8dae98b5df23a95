package repository

import (
	"context"

	"github.com/talentgrid/payverify/internal/models"
)

type TalentRepository interface {
	GetProfile(ctx context.Context, xUserID string) (*models.TalentProfile, error)
	// CreateView records a paid profile unlock. The unique signature column
	// doubles as a second idempotency check behind the ledger claim.
	CreateView(ctx context.Context, view *models.TalentView) (int64, error)
}
