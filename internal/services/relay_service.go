package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/talentgrid/payverify/internal/chain"
	"github.com/talentgrid/payverify/internal/models"
	"github.com/talentgrid/payverify/internal/reconcile"
	"github.com/talentgrid/payverify/internal/repository"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Relayer submits signed transaction bytes and waits for confirmation.
// Implemented by chain.Locator.
type Relayer interface {
	Relay(ctx context.Context, rawTx []byte) (solana.Signature, error)
	AwaitConfirmation(ctx context.Context, sig solana.Signature) error
}

type RelayChargeResponse struct {
	Reference   string  `json:"reference"`
	Transaction string  `json:"transaction"`
	AmountUSD   float64 `json:"amount_usd"`
	Lamports    uint64  `json:"lamports"`
}

type SubmitRelayRequest struct {
	Reference  string
	SignedTx   string
	Settlement SettlementRequest
}

type RelayService interface {
	CreateRelayCharge(ctx context.Context, action models.ActionType, payerWallet, memo string) (*RelayChargeResponse, error)
	SubmitRelay(ctx context.Context, req SubmitRelayRequest) (*VerifyResult, error)
}

type relayService struct {
	refRepo  repository.PaymentReferenceRepository
	rates    RateSource
	rpc      chain.RPCClient
	relayer  Relayer
	verifier VerificationService
	treasury solana.PublicKey
}

func NewRelayService(
	refRepo repository.PaymentReferenceRepository,
	rates RateSource,
	rpcClient chain.RPCClient,
	relayer Relayer,
	verifier VerificationService,
	treasury solana.PublicKey,
) *relayService {
	return &relayService{
		refRepo:  refRepo,
		rates:    rates,
		rpc:      rpcClient,
		relayer:  relayer,
		verifier: verifier,
		treasury: treasury,
	}
}

// CreateRelayCharge builds the relay-variant directive: an unsigned
// transfer for the wallet to sign, bound to a fresh reference. The lamport
// amount is fixed here and stored with the reference, so the amount the
// wallet eventually signs can be checked against what was offered even if
// the market rate has moved by submit time.
func (s *relayService) CreateRelayCharge(ctx context.Context, action models.ActionType, payerWallet, memo string) (*RelayChargeResponse, error) {
	tracer := otel.Tracer("relay-service")
	ctx, span := tracer.Start(ctx, "CreateRelayCharge")
	span.SetAttributes(
		attribute.String("action", string(action)),
		attribute.String("payer", payerWallet),
	)
	defer span.End()

	amountUSD, ok := actionPricesUSD[action]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", pkgerrors.ErrInvalidInput, action)
	}
	payer, err := solana.PublicKeyFromBase58(payerWallet)
	if err != nil {
		return nil, fmt.Errorf("%w: bad payer wallet: %v", pkgerrors.ErrInvalidInput, err)
	}

	rate, err := s.rates.Rate(ctx, oracleToken, oracleFiat)
	if err != nil {
		return nil, err
	}
	lamports := uint64(math.Round(amountUSD / rate * reconcile.LamportsPerSol))

	reference, err := chain.GenerateReference()
	if err != nil {
		slog.Error("failed to generate reference", "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInternal, err)
	}
	refKey := solana.MustPublicKeyFromBase58(reference)

	ref := &models.PaymentReference{
		Reference:        reference,
		AmountUSD:        amountUSD,
		Memo:             memo,
		Payer:            payerWallet,
		PaymentType:      models.TypeRelay,
		Action:           action,
		ExpectedLamports: lamports,
	}
	if err := s.refRepo.Create(ctx, ref); err != nil {
		slog.Error("failed to persist pending relay charge", "reference", reference, "error", err)
		return nil, err
	}

	tx, err := chain.BuildUnsignedTransfer(ctx, s.rpc, payer, s.treasury, refKey, lamports)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build transfer")
		slog.Error("failed to build relay transfer", "reference", reference, "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInternal, err)
	}
	encoded, err := chain.EncodeBase64Tx(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInternal, err)
	}

	slog.Info("relay charge created",
		"reference", reference, "action", action, "payer", payerWallet,
		"amount_usd", amountUSD, "lamports", lamports)
	return &RelayChargeResponse{
		Reference:   reference,
		Transaction: encoded,
		AmountUSD:   amountUSD,
		Lamports:    lamports,
	}, nil
}

// SubmitRelay accepts the signed bytes back, re-validates them against the
// stored charge, relays to the network, waits for confirmation and then
// runs the standard verification pipeline against the landed transaction.
// The signed payload is untrusted even though the server built the
// unsigned form.
func (s *relayService) SubmitRelay(ctx context.Context, req SubmitRelayRequest) (*VerifyResult, error) {
	tracer := otel.Tracer("relay-service")
	ctx, span := tracer.Start(ctx, "SubmitRelay")
	span.SetAttributes(attribute.String("reference", req.Reference))
	defer span.End()

	ref, err := s.refRepo.GetByReference(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	if ref.PaymentType != models.TypeRelay {
		return nil, fmt.Errorf("%w: reference is not a relay charge", pkgerrors.ErrInvalidInput)
	}
	if ref.Status == models.PaymentCompleted {
		// Submit retried after a successful relay; verification arbitrates.
		return s.verifier.Verify(ctx, VerifyRequest{
			Reference:     ref.Reference,
			Signature:     ref.Signature,
			WalletAddress: ref.Payer,
			Settlement:    req.Settlement,
		})
	}
	if ref.Status != models.PaymentPending {
		return nil, pkgerrors.ErrReferenceExpired
	}

	tx, err := chain.DecodeBase64Tx(req.SignedTx)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable transaction: %v", pkgerrors.ErrInvalidInput, err)
	}

	issued := chain.IssuedTransfer{
		Payer:     solana.MustPublicKeyFromBase58(ref.Payer),
		Treasury:  s.treasury,
		Reference: solana.MustPublicKeyFromBase58(ref.Reference),
		Lamports:  ref.ExpectedLamports,
	}
	if err := chain.ValidateSignedTransfer(tx, issued); err != nil {
		span.SetStatus(codes.Error, "signed transaction rejected")
		return nil, err
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}

	sig, err := s.relayer.Relay(ctx, raw)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("signature", sig.String()))

	if err := s.relayer.AwaitConfirmation(ctx, sig); err != nil {
		if stderrors.Is(err, pkgerrors.ErrNotConfirmed) {
			// The transaction may still land. The reference stays pending and
			// a later verify call resumes from the stored state.
			slog.Warn("relayed transaction not yet confirmed, reference left pending",
				"reference", ref.Reference, "signature", sig.String())
		}
		return nil, err
	}

	return s.verifier.Verify(ctx, VerifyRequest{
		Reference:     ref.Reference,
		Signature:     sig.String(),
		WalletAddress: ref.Payer,
		Settlement:    req.Settlement,
	})
}
