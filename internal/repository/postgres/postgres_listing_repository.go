package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/talentgrid/payverify/internal/models"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

type PostgresListingRepository struct {
	db *sql.DB
}

func NewPostgresListingRepository(db *sql.DB) *PostgresListingRepository {
	return &PostgresListingRepository{db: db}
}

func (r *PostgresListingRepository) CreateJob(ctx context.Context, job *models.JobPosting) (int64, error) {
	if job == nil || job.Title == "" || job.PaymentTxSignature == "" {
		return 0, fmt.Errorf("%w: title and payment signature are required", pkgerrors.ErrInvalidInput)
	}

	query := `INSERT INTO job_postings (title, company, description, contact_wallet, payment_tx_signature)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		job.Title, job.Company, job.Description, job.ContactWallet, job.PaymentTxSignature,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, pkgerrors.ErrAlreadyClaimed
		}
		slog.Error("failed to create job posting", "method", "CreateJob", "title", job.Title, "error", err)
		return 0, fmt.Errorf("failed to create job posting: %w", err)
	}

	slog.Info("job posting created", "method", "CreateJob", "id", job.ID, "signature", job.PaymentTxSignature)
	return job.ID, nil
}

func (r *PostgresListingRepository) CreateTask(ctx context.Context, task *models.TaskPosting) (int64, error) {
	if task == nil || task.Title == "" || task.PaymentTxSignature == "" {
		return 0, fmt.Errorf("%w: title and payment signature are required", pkgerrors.ErrInvalidInput)
	}

	query := `INSERT INTO task_postings (title, description, reward_usd, contact_wallet, payment_tx_signature)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		task.Title, task.Description, task.RewardUSD, task.ContactWallet, task.PaymentTxSignature,
	).Scan(&task.ID, &task.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, pkgerrors.ErrAlreadyClaimed
		}
		slog.Error("failed to create task posting", "method", "CreateTask", "title", task.Title, "error", err)
		return 0, fmt.Errorf("failed to create task posting: %w", err)
	}

	slog.Info("task posting created", "method", "CreateTask", "id", task.ID, "signature", task.PaymentTxSignature)
	return task.ID, nil
}
