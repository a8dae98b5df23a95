package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/talentgrid/payverify/internal/chain"
	"github.com/talentgrid/payverify/internal/models"
	"github.com/talentgrid/payverify/internal/reconcile"
	"github.com/talentgrid/payverify/internal/repository"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Fixed fiat charges per paid action.
var actionPricesUSD = map[models.ActionType]float64{
	models.ActionViewTalent:  5.00,
	models.ActionPostJob:     5.00,
	models.ActionPostTask:    5.00,
	models.ActionAwardPoints: 5.00,
}

// PendingChargeTTL is how long a pending reference stays claimable before
// the expiry sweep marks it expired (never deleted, the row is the audit
// trail).
const PendingChargeTTL = 24 * time.Hour

type ChargeResponse struct {
	Reference string  `json:"reference"`
	Directive string  `json:"directive"`
	AmountUSD float64 `json:"amount_usd"`
	AmountSOL float64 `json:"amount_sol"`
}

type ChargeService interface {
	CreateCharge(ctx context.Context, action models.ActionType, memo, payerHint string) (*ChargeResponse, error)
	ExpireStale(ctx context.Context) error
}

type chargeService struct {
	refRepo  repository.PaymentReferenceRepository
	rates    RateSource
	treasury string
	label    string
}

func NewChargeService(refRepo repository.PaymentReferenceRepository, rates RateSource, treasury, label string) *chargeService {
	return &chargeService{refRepo: refRepo, rates: rates, treasury: treasury, label: label}
}

// CreateCharge issues a direct-poll charge: a fresh reference, a pending
// ledger row, and a payment URI. The row is persisted before the directive
// is returned; if persistence fails no directive exists anywhere (fail
// closed).
func (s *chargeService) CreateCharge(ctx context.Context, action models.ActionType, memo, payerHint string) (*ChargeResponse, error) {
	tracer := otel.Tracer("charge-service")
	ctx, span := tracer.Start(ctx, "CreateCharge")
	span.SetAttributes(attribute.String("action", string(action)))
	defer span.End()

	amountUSD, ok := actionPricesUSD[action]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", pkgerrors.ErrInvalidInput, action)
	}

	rate, err := s.rates.Rate(ctx, oracleToken, oracleFiat)
	if err != nil {
		return nil, err
	}
	amountSOL := roundLamports(amountUSD/rate) / reconcile.LamportsPerSol

	reference, err := chain.GenerateReference()
	if err != nil {
		slog.Error("failed to generate reference", "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInternal, err)
	}

	ref := &models.PaymentReference{
		Reference:   reference,
		AmountUSD:   amountUSD,
		Memo:        memo,
		Payer:       payerHint,
		PaymentType: models.TypeDirectPoll,
		Action:      action,
	}
	if err := s.refRepo.Create(ctx, ref); err != nil {
		slog.Error("failed to persist pending charge", "reference", reference, "error", err)
		return nil, err
	}

	directive := chain.PaymentURI{
		Recipient: s.treasury,
		AmountSOL: amountSOL,
		Reference: reference,
		Label:     s.label,
		Message:   memo,
	}.Encode()

	slog.Info("charge created",
		"reference", reference, "action", action, "amount_usd", amountUSD, "amount_sol", amountSOL)
	return &ChargeResponse{
		Reference: reference,
		Directive: directive,
		AmountUSD: amountUSD,
		AmountSOL: amountSOL,
	}, nil
}

// ExpireStale sweeps pending references older than PendingChargeTTL.
func (s *chargeService) ExpireStale(ctx context.Context) error {
	_, err := s.refRepo.MarkExpiredBefore(ctx, time.Now().Add(-PendingChargeTTL))
	return err
}

func roundLamports(sol float64) float64 {
	return math.Round(sol * reconcile.LamportsPerSol)
}
