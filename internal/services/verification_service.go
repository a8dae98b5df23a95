package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/talentgrid/payverify/internal/chain"
	"github.com/talentgrid/payverify/internal/infrastructure/observability"
	"github.com/talentgrid/payverify/internal/models"
	"github.com/talentgrid/payverify/internal/reconcile"
	"github.com/talentgrid/payverify/internal/repository"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	oracleToken = "solana"
	oracleFiat  = "usd"
)

// TxLocator finds on-chain transactions. Implemented by chain.Locator.
type TxLocator interface {
	FindBySignature(ctx context.Context, signature string) (*chain.ChainTransaction, error)
	FindByReference(ctx context.Context, reference string) (*chain.ChainTransaction, error)
}

// RateSource is the verification-path oracle. It must never guess.
type RateSource interface {
	Rate(ctx context.Context, token, fiat string) (float64, error)
}

type VerifyRequest struct {
	Reference     string
	Signature     string
	WalletAddress string
	Settlement    SettlementRequest
}

type VerifyResult struct {
	Verified  bool    `json:"verified"`
	Amount    float64 `json:"amount,omitempty"`
	Signature string  `json:"signature,omitempty"`
}

type VerificationService interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

type verificationService struct {
	refRepo    repository.PaymentReferenceRepository
	locator    TxLocator
	rates      RateSource
	dispatcher SettlementDispatcher
	treasuries map[models.PaymentType]solana.PublicKey
}

func NewVerificationService(
	refRepo repository.PaymentReferenceRepository,
	locator TxLocator,
	rates RateSource,
	dispatcher SettlementDispatcher,
	treasuries map[models.PaymentType]solana.PublicKey,
) *verificationService {
	return &verificationService{
		refRepo:    refRepo,
		locator:    locator,
		rates:      rates,
		dispatcher: dispatcher,
		treasuries: treasuries,
	}
}

// Verify runs the full pipeline: locate the transaction, extract the
// treasury transfer, reconcile the fiat amount, claim the reference, then
// dispatch settlement. The rate is fetched before the claim so an oracle
// outage never leaves a claimed-but-unsettled reference behind.
func (s *verificationService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	tracer := otel.Tracer("verification-service")
	ctx, span := tracer.Start(ctx, "Verify")
	span.SetAttributes(
		attribute.String("reference", req.Reference),
		attribute.String("wallet", req.WalletAddress),
	)
	defer span.End()

	var (
		ref *models.PaymentReference
		tx  *chain.ChainTransaction
		err error
	)
	switch {
	case req.Reference != "":
		ref, err = s.refRepo.GetByReference(ctx, req.Reference)
		if err != nil {
			span.SetStatus(codes.Error, "reference lookup failed")
			return nil, err
		}
	case req.Signature != "":
		// Signature-only verification: locate the transaction first, then
		// work back to the charge through the reference key it carries.
		tx, err = s.locator.FindBySignature(ctx, req.Signature)
		if err != nil {
			return nil, err
		}
		ref, err = s.referenceFor(ctx, tx)
		if err != nil {
			span.SetStatus(codes.Error, "reference resolution failed")
			return nil, err
		}
		span.SetAttributes(attribute.String("resolved_reference", ref.Reference))
	default:
		return nil, fmt.Errorf("%w: reference or signature required", pkgerrors.ErrInvalidInput)
	}

	if ref.Status == models.PaymentCompleted {
		// Harmless retry from the original caller gets success without side
		// effects; a different wallet trying to reuse the payment does not.
		if ref.Payer == "" || ref.Payer == req.WalletAddress {
			slog.Info("reference already completed, returning success", "reference", ref.Reference)
			return &VerifyResult{Verified: true, Amount: ref.AmountUSD, Signature: ref.Signature}, nil
		}
		slog.Warn("reuse attempt on completed reference",
			"reference", ref.Reference, "payer", ref.Payer, "caller", req.WalletAddress)
		return nil, pkgerrors.ErrAlreadyClaimed
	}
	if ref.Status == models.PaymentExpired {
		return nil, pkgerrors.ErrReferenceExpired
	}

	if tx == nil {
		tx, err = s.locate(ctx, ref, req.Signature)
		if err != nil {
			s.recordResult(ref.PaymentType, "not_found")
			return nil, err
		}
	}
	span.SetAttributes(attribute.String("signature", tx.Signature.String()))

	treasury, ok := s.treasuries[ref.PaymentType]
	if !ok {
		return nil, fmt.Errorf("%w: no treasury configured for %q", pkgerrors.ErrInternal, ref.PaymentType)
	}

	lamports, err := chain.ExtractTransferLamports(tx.Tx, tx.Meta, treasury)
	if err != nil {
		s.recordResult(ref.PaymentType, "no_transfer")
		slog.Info("transfer extraction failed",
			"reference", ref.Reference, "signature", tx.Signature.String(), "error", err)
		return nil, err
	}

	// Relay charges were built for a specific wallet; the direct-poll flow
	// deliberately accepts any funder (reference+amount+recipient suffice).
	if ref.PaymentType == models.TypeRelay && ref.Payer != "" && chain.Sender(tx.Tx) != ref.Payer {
		s.recordResult(ref.PaymentType, "sender_mismatch")
		slog.Warn("relay payment from unexpected sender",
			"reference", ref.Reference, "expected", ref.Payer, "got", chain.Sender(tx.Tx))
		return nil, pkgerrors.ErrTamperedTransaction
	}

	rate, err := s.rates.Rate(ctx, oracleToken, oracleFiat)
	if err != nil {
		s.recordResult(ref.PaymentType, "oracle_unavailable")
		span.RecordError(err)
		return nil, err
	}

	res, err := reconcile.Reconcile(lamports, rate, ref.AmountUSD, ref.PaymentType.Tolerance())
	if err != nil {
		s.recordResult(ref.PaymentType, "out_of_tolerance")
		slog.Info("amount out of tolerance",
			"reference", ref.Reference, "paid_fiat", res.PaidFiat, "expected_fiat", res.ExpectedFiat)
		return &VerifyResult{Verified: false, Amount: res.PaidFiat}, err
	}

	signature := tx.Signature.String()
	if err := s.refRepo.Claim(ctx, ref.Reference, signature); err != nil {
		if stderrors.Is(err, pkgerrors.ErrAlreadyClaimed) {
			// Lost a race against a concurrent verification of the same
			// payment; that call owns settlement.
			s.recordResult(ref.PaymentType, "already_claimed")
			slog.Info("claim lost to concurrent verification", "reference", ref.Reference)
			return &VerifyResult{Verified: true, Amount: res.PaidFiat, Signature: signature}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return nil, err
	}

	settlement := req.Settlement
	settlement.Reference = ref.Reference
	settlement.Signature = signature
	settlement.Wallet = req.WalletAddress
	settlement.Action = ref.Action
	settlement.TokenAmount = float64(lamports) / reconcile.LamportsPerSol

	if err := s.dispatcher.Settle(ctx, settlement); err != nil {
		// The claim is kept (rolling it back would reopen a double-spend
		// window); the dispatcher has already queued a retry. The payment
		// itself is verified.
		s.recordResult(ref.PaymentType, "settlement_failed")
		slog.Error("settlement failed for verified payment",
			"reference", ref.Reference, "signature", signature, "error", err)
		return &VerifyResult{Verified: true, Amount: res.PaidFiat, Signature: signature}, nil
	}

	s.recordResult(ref.PaymentType, "verified")
	slog.Info("payment verified and settled",
		"reference", ref.Reference, "signature", signature, "amount_usd", res.PaidFiat)
	return &VerifyResult{Verified: true, Amount: res.PaidFiat, Signature: signature}, nil
}

func (s *verificationService) locate(ctx context.Context, ref *models.PaymentReference, signature string) (*chain.ChainTransaction, error) {
	if signature != "" {
		return s.locator.FindBySignature(ctx, signature)
	}
	return s.locator.FindByReference(ctx, ref.Reference)
}

// referenceFor finds the charge a located transaction pays: the reference
// key rides along as an account, so one of the account keys is a row in
// the ledger.
func (s *verificationService) referenceFor(ctx context.Context, tx *chain.ChainTransaction) (*models.PaymentReference, error) {
	for _, key := range tx.Tx.Message.AccountKeys {
		ref, err := s.refRepo.GetByReference(ctx, key.String())
		if err == nil {
			return ref, nil
		}
		if !stderrors.Is(err, pkgerrors.ErrReferenceNotFound) {
			return nil, err
		}
	}
	return nil, pkgerrors.ErrReferenceNotFound
}

func (s *verificationService) recordResult(paymentType models.PaymentType, result string) {
	observability.VerificationResults.WithLabelValues(string(paymentType), result).Inc()
}
