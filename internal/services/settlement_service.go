package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/talentgrid/payverify/internal/infrastructure/kafka"
	"github.com/talentgrid/payverify/internal/infrastructure/observability"
	"github.com/talentgrid/payverify/internal/infrastructure/redis"
	"github.com/talentgrid/payverify/internal/models"
	"github.com/talentgrid/payverify/internal/repository"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PointsPerPayment is the award for a verified points payment.
const PointsPerPayment = 500

const profileCacheTTL = 5 * time.Minute

// SettlementRequest carries everything needed to perform a paid action.
// It is also the retry payload: a request that failed after its claim is
// re-driven verbatim from Kafka.
type SettlementRequest struct {
	Reference   string            `json:"reference"`
	Signature   string            `json:"signature"`
	Wallet      string            `json:"wallet"`
	Action      models.ActionType `json:"action"`
	XUserID     string            `json:"x_user_id,omitempty"`
	JobTitle    string            `json:"job_title,omitempty"`
	JobCompany  string            `json:"job_company,omitempty"`
	Description string            `json:"description,omitempty"`
	TaskTitle   string            `json:"task_title,omitempty"`
	RewardUSD   float64           `json:"reward_usd,omitempty"`
	TokenAmount float64           `json:"token_amount,omitempty"`
}

// SettlementDispatcher performs the paid action for a claimed reference.
// Every action is idempotent: a repeat for the same signature/reference is
// absorbed by the downstream unique constraint and reported as success.
type SettlementDispatcher interface {
	Settle(ctx context.Context, req SettlementRequest) error
	HandleRetry(ctx context.Context, payload []byte) error
}

type settlementService struct {
	pointsRepo  repository.PointsRepository
	listingRepo repository.ListingRepository
	talentRepo  repository.TalentRepository
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
}

func NewSettlementService(
	pointsRepo repository.PointsRepository,
	listingRepo repository.ListingRepository,
	talentRepo repository.TalentRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
) *settlementService {
	return &settlementService{
		pointsRepo:  pointsRepo,
		listingRepo: listingRepo,
		talentRepo:  talentRepo,
		redisClient: redisClient,
		producer:    producer,
	}
}

func (s *settlementService) Settle(ctx context.Context, req SettlementRequest) error {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "Settle")
	span.SetAttributes(
		attribute.String("action", string(req.Action)),
		attribute.String("reference", req.Reference),
		attribute.String("signature", req.Signature),
	)
	defer span.End()

	var err error
	switch req.Action {
	case models.ActionViewTalent:
		err = s.settleTalentView(ctx, req)
	case models.ActionPostJob:
		_, err = s.listingRepo.CreateJob(ctx, &models.JobPosting{
			Title:              req.JobTitle,
			Company:            req.JobCompany,
			Description:        req.Description,
			ContactWallet:      req.Wallet,
			PaymentTxSignature: req.Signature,
		})
	case models.ActionPostTask:
		_, err = s.listingRepo.CreateTask(ctx, &models.TaskPosting{
			Title:              req.TaskTitle,
			Description:        req.Description,
			RewardUSD:          req.RewardUSD,
			ContactWallet:      req.Wallet,
			PaymentTxSignature: req.Signature,
		})
	case models.ActionAwardPoints:
		err = s.pointsRepo.Award(ctx, &models.PointsTransaction{
			WalletAddress:      req.Wallet,
			Type:               models.PointsEarned,
			Points:             PointsPerPayment,
			SolanaPayReference: req.Reference,
			PaymentTokenAmount: req.TokenAmount,
		})
	default:
		err = fmt.Errorf("%w: unknown action %q", pkgerrors.ErrInvalidInput, req.Action)
	}

	// A duplicate write means this payment already settled; the retry is
	// harmless and the caller gets success.
	if stderrors.Is(err, pkgerrors.ErrAlreadyClaimed) {
		slog.Info("settlement already performed, no-op",
			"action", req.Action, "reference", req.Reference, "signature", req.Signature)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
		observability.SettlementFailures.WithLabelValues(string(req.Action)).Inc()
		s.emitRetry(req)
		slog.Error("settlement failed after claim, retry scheduled",
			"action", req.Action, "reference", req.Reference, "error", err)
		return fmt.Errorf("%w: %v", pkgerrors.ErrSettlementFailure, err)
	}

	s.emitAudit(ctx, req)
	slog.Info("settlement completed",
		"action", req.Action, "reference", req.Reference, "signature", req.Signature, "wallet", req.Wallet)
	return nil
}

func (s *settlementService) settleTalentView(ctx context.Context, req SettlementRequest) error {
	profile, err := s.talentRepo.GetProfile(ctx, req.XUserID)
	if err != nil {
		return err
	}

	if _, err := s.talentRepo.CreateView(ctx, &models.TalentView{
		ViewerWallet:       req.Wallet,
		XUserID:            req.XUserID,
		PaymentTxSignature: req.Signature,
	}); err != nil {
		return err
	}

	// Cache the unlocked profile so the poller's follow-up read is cheap.
	if profileJSON, err := json.Marshal(profile); err == nil {
		key := fmt.Sprintf("talent:%s:unlocked:%s", req.XUserID, req.Wallet)
		if err := s.redisClient.Set(ctx, key, string(profileJSON), profileCacheTTL); err != nil {
			slog.Warn("failed to cache unlocked profile", "x_user_id", req.XUserID, "error", err)
		}
	}
	return nil
}

// HandleRetry re-drives a settlement from its Kafka retry payload. The
// ledger claim is already held, so the only thing at stake is the
// downstream write, which is idempotent.
func (s *settlementService) HandleRetry(ctx context.Context, payload []byte) error {
	var req SettlementRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		slog.Error("malformed settlement retry payload", "error", err)
		return nil // not retryable, drop it
	}

	slog.Info("re-driving settlement", "action", req.Action, "reference", req.Reference)
	return s.Settle(ctx, req)
}

func (s *settlementService) emitRetry(req SettlementRequest) {
	payload, err := json.Marshal(req)
	if err != nil {
		slog.Error("failed to marshal settlement retry event", "reference", req.Reference, "error", err)
		return
	}
	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := s.producer.Send(context.Background(), kafka.TopicSettlementRetries, req.Reference, payload); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		// Out of options: the ledger shows completed with no downstream
		// effect. This log line is the manual reconciliation trail.
		slog.Error("failed to enqueue settlement retry, manual reconciliation required",
			"reference", req.Reference, "signature", req.Signature, "action", req.Action)
	}()
}

func (s *settlementService) emitAudit(ctx context.Context, req SettlementRequest) {
	event := map[string]interface{}{
		"event_id":   uuid.NewString(),
		"event_type": "payment_settled",
		"reference":  req.Reference,
		"signature":  req.Signature,
		"wallet":     req.Wallet,
		"action":     req.Action,
		"settled_at": time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal settlement audit event", "reference", req.Reference, "error", err)
		return
	}
	if err := s.producer.Send(ctx, kafka.TopicSettlements, req.Reference, payload); err != nil {
		slog.Error("failed to send settlement audit event", "reference", req.Reference, "error", err)
	}
}
