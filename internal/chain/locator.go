package chain

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RPCClient is the slice of the Solana JSON-RPC surface this subsystem
// touches. *rpc.Client satisfies it; tests provide fakes.
type RPCClient interface {
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendRawTransactionWithOpts(ctx context.Context, encodedTx []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// ChainTransaction is the located, decoded form of an on-chain payment.
type ChainTransaction struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime time.Time
	Tx        *solana.Transaction
	Meta      *rpc.TransactionMeta
}

// FreshnessWindow bounds how old a transaction may be and still settle a
// charge. Older transactions are rejected as expired so a stale payment
// cannot be replayed against a new charge.
const FreshnessWindow = 10 * time.Minute

const (
	confirmPollInterval = time.Second
	confirmMaxAttempts  = 30
	referenceScanLimit  = 10
)

// Locator resolves references and signatures to confirmed transactions.
type Locator struct {
	client    RPCClient
	freshness time.Duration
	now       func() time.Time
}

func NewLocator(client RPCClient) *Locator {
	return &Locator{client: client, freshness: FreshnessWindow, now: time.Now}
}

// FindBySignature fetches and validates a transaction by its signature.
func (l *Locator) FindBySignature(ctx context.Context, signature string) (*ChainTransaction, error) {
	tracer := otel.Tracer("tx-locator")
	ctx, span := tracer.Start(ctx, "FindBySignature")
	span.SetAttributes(attribute.String("signature", signature))
	defer span.End()

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature: %v", pkgerrors.ErrInvalidInput, err)
	}

	out, err := l.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		// The node reporting a null result means the signature does not
		// exist (yet); anything else is the RPC layer failing.
		if stderrors.Is(err, rpc.ErrNotFound) {
			span.SetStatus(codes.Error, "not found")
			slog.Info("transaction not found", "signature", signature)
			return nil, pkgerrors.ErrTransactionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction fetch failed")
		slog.Error("failed to fetch transaction", "signature", signature, "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrChainUnavailable, err)
	}
	if out == nil {
		span.SetStatus(codes.Error, "not found")
		return nil, pkgerrors.ErrTransactionNotFound
	}

	return l.validate(sig, out)
}

// FindByReference scans recent activity involving the reference key and
// returns the newest fresh, successful transaction. The reference account
// only ever appears in transactions that carry it, so participation is the
// correlation.
func (l *Locator) FindByReference(ctx context.Context, reference string) (*ChainTransaction, error) {
	tracer := otel.Tracer("tx-locator")
	ctx, span := tracer.Start(ctx, "FindByReference")
	span.SetAttributes(attribute.String("reference", reference))
	defer span.End()

	refKey, err := solana.PublicKeyFromBase58(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: bad reference: %v", pkgerrors.ErrInvalidInput, err)
	}

	limit := referenceScanLimit
	sigs, err := l.client.GetSignaturesForAddressWithOpts(ctx, refKey, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "signature scan failed")
		slog.Error("failed to scan reference activity", "reference", reference, "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrChainUnavailable, err)
	}
	if len(sigs) == 0 {
		return nil, pkgerrors.ErrTransactionNotFound
	}

	sawStale := false
	for _, info := range sigs {
		if info.Err != nil {
			continue
		}
		if info.BlockTime != nil && l.now().Sub(info.BlockTime.Time()) > l.freshness {
			sawStale = true
			continue
		}

		out, err := l.client.GetTransaction(ctx, info.Signature, &rpc.GetTransactionOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil || out == nil {
			slog.Warn("failed to fetch referenced transaction", "signature", info.Signature.String(), "error", err)
			continue
		}
		return l.validate(info.Signature, out)
	}

	if sawStale {
		return nil, pkgerrors.ErrTransactionExpired
	}
	return nil, pkgerrors.ErrTransactionNotFound
}

func (l *Locator) validate(sig solana.Signature, out *rpc.GetTransactionResult) (*ChainTransaction, error) {
	if out.Meta == nil {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if out.Meta.Err != nil {
		slog.Info("transaction failed on chain", "signature", sig.String(), "err", out.Meta.Err)
		return nil, pkgerrors.ErrTransactionNotFound
	}

	var blockTime time.Time
	if out.BlockTime != nil {
		blockTime = out.BlockTime.Time()
		if l.now().Sub(blockTime) > l.freshness {
			slog.Info("transaction outside freshness window", "signature", sig.String(), "block_time", blockTime)
			return nil, pkgerrors.ErrTransactionExpired
		}
	}

	decoded, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	return &ChainTransaction{
		Signature: sig,
		Slot:      out.Slot,
		BlockTime: blockTime,
		Tx:        decoded,
		Meta:      out.Meta,
	}, nil
}

// Relay submits signed transaction bytes to the network. A node-side
// rejection (insufficient funds, stale blockhash) is ErrRelayRejected.
func (l *Locator) Relay(ctx context.Context, rawTx []byte) (solana.Signature, error) {
	tracer := otel.Tracer("tx-locator")
	ctx, span := tracer.Start(ctx, "Relay")
	defer span.End()

	sig, err := l.client.SendRawTransactionWithOpts(ctx, rawTx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relay rejected")
		slog.Error("relay rejected by node", "error", err)
		return solana.Signature{}, fmt.Errorf("%w: %v", pkgerrors.ErrRelayRejected, err)
	}

	span.SetAttributes(attribute.String("signature", sig.String()))
	slog.Info("transaction relayed", "signature", sig.String())
	return sig, nil
}

// AwaitConfirmation polls signature status until the network reports at
// least confirmed commitment. Bounded: after confirmMaxAttempts polls the
// caller gets ErrNotConfirmed and must reconcile later from the stored
// pending reference.
func (l *Locator) AwaitConfirmation(ctx context.Context, sig solana.Signature) error {
	tracer := otel.Tracer("tx-locator")
	ctx, span := tracer.Start(ctx, "AwaitConfirmation")
	span.SetAttributes(attribute.String("signature", sig.String()))
	defer span.End()

	for attempt := 0; attempt < confirmMaxAttempts; attempt++ {
		statuses, err := l.client.GetSignatureStatuses(ctx, false, sig)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				span.SetStatus(codes.Error, "transaction failed")
				slog.Error("relayed transaction failed on chain", "signature", sig.String(), "err", status.Err)
				return fmt.Errorf("%w: transaction failed on chain", pkgerrors.ErrRelayRejected)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				slog.Info("transaction confirmed", "signature", sig.String(), "status", status.ConfirmationStatus)
				return nil
			}
		}

		select {
		case <-time.After(confirmPollInterval):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", pkgerrors.ErrNotConfirmed, ctx.Err())
		}
	}

	span.SetStatus(codes.Error, "confirmation timed out")
	return pkgerrors.ErrNotConfirmed
}
