package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/talentgrid/payverify/internal/models"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

type PostgresTalentRepository struct {
	db *sql.DB
}

func NewPostgresTalentRepository(db *sql.DB) *PostgresTalentRepository {
	return &PostgresTalentRepository{db: db}
}

func (r *PostgresTalentRepository) GetProfile(ctx context.Context, xUserID string) (*models.TalentProfile, error) {
	if xUserID == "" {
		return nil, fmt.Errorf("%w: x_user_id is required", pkgerrors.ErrInvalidInput)
	}

	var profile models.TalentProfile
	query := `SELECT x_user_id, handle, bio, skills, created_at FROM talent_profiles WHERE x_user_id = $1`
	err := r.db.QueryRowContext(ctx, query, xUserID).Scan(
		&profile.XUserID, &profile.Handle, &profile.Bio, &profile.Skills, &profile.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("talent profile '%s' not found", xUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get talent profile: %w", err)
	}
	return &profile, nil
}

func (r *PostgresTalentRepository) CreateView(ctx context.Context, view *models.TalentView) (int64, error) {
	if view == nil || view.XUserID == "" || view.PaymentTxSignature == "" {
		return 0, fmt.Errorf("%w: x_user_id and payment signature are required", pkgerrors.ErrInvalidInput)
	}

	query := `INSERT INTO talent_views (viewer_wallet, x_user_id, payment_tx_signature)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		view.ViewerWallet, view.XUserID, view.PaymentTxSignature,
	).Scan(&view.ID, &view.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, pkgerrors.ErrAlreadyClaimed
		}
		slog.Error("failed to create talent view", "method", "CreateView", "x_user_id", view.XUserID, "error", err)
		return 0, fmt.Errorf("failed to create talent view: %w", err)
	}

	slog.Info("talent view recorded", "method", "CreateView",
		"id", view.ID, "x_user_id", view.XUserID, "signature", view.PaymentTxSignature)
	return view.ID, nil
}
