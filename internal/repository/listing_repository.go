package repository

import (
	"context"

	"github.com/talentgrid/payverify/internal/models"
)

type ListingRepository interface {
	CreateJob(ctx context.Context, job *models.JobPosting) (int64, error)
	CreateTask(ctx context.Context, task *models.TaskPosting) (int64, error)
}
