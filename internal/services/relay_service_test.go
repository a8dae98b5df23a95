package service

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talentgrid/payverify/internal/chain"
	"github.com/talentgrid/payverify/internal/models"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

type stubRPC struct{}

func (stubRPC) GetTransaction(context.Context, solana.Signature, *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return nil, errors.New("not implemented")
}

func (stubRPC) GetSignaturesForAddressWithOpts(context.Context, solana.PublicKey, *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return nil, errors.New("not implemented")
}

func (stubRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{}},
	}, nil
}

func (stubRPC) SendRawTransactionWithOpts(context.Context, []byte, rpc.TransactionOpts) (solana.Signature, error) {
	return solana.Signature{}, errors.New("not implemented")
}

func (stubRPC) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return nil, errors.New("not implemented")
}

type fakeRelayer struct {
	relaySig   solana.Signature
	relayErr   error
	confirmErr error
	relayed    [][]byte
}

func (f *fakeRelayer) Relay(_ context.Context, rawTx []byte) (solana.Signature, error) {
	if f.relayErr != nil {
		return solana.Signature{}, f.relayErr
	}
	f.relayed = append(f.relayed, rawTx)
	return f.relaySig, nil
}

func (f *fakeRelayer) AwaitConfirmation(context.Context, solana.Signature) error {
	return f.confirmErr
}

type fakeVerifier struct {
	req    VerifyRequest
	result *VerifyResult
	err    error
}

func (f *fakeVerifier) Verify(_ context.Context, req VerifyRequest) (*VerifyResult, error) {
	f.req = req
	return f.result, f.err
}

// signAs signs the encoded unsigned transaction the way the payer's wallet
// would and returns it re-encoded.
func signAs(t *testing.T, encoded string, payer solana.PrivateKey) string {
	t.Helper()
	tx, err := chain.DecodeBase64Tx(encoded)
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	require.NoError(t, err)
	signed, err := chain.EncodeBase64Tx(tx)
	require.NoError(t, err)
	return signed
}

func TestRelayService(t *testing.T) {
	ctx := context.Background()
	payer := solana.NewWallet().PrivateKey
	treasury := solana.NewWallet().PublicKey()
	relaySig := solana.Signature{7, 7, 7}

	newService := func(refs *fakeRefRepo, relayer *fakeRelayer, verifier *fakeVerifier) *relayService {
		return NewRelayService(refs, &fakeRates{rate: 200}, stubRPC{}, relayer, verifier, treasury)
	}

	t.Run("create binds payer and lamports to the stored reference", func(t *testing.T) {
		refs := newFakeRefRepo()
		svc := newService(refs, &fakeRelayer{}, &fakeVerifier{})

		resp, err := svc.CreateRelayCharge(ctx, models.ActionViewTalent, payer.PublicKey().String(), "Unlock")
		require.NoError(t, err)
		// $5.00 at $200/SOL.
		assert.Equal(t, uint64(25_000_000), resp.Lamports)
		assert.NotEmpty(t, resp.Transaction)

		stored, err := refs.GetByReference(ctx, resp.Reference)
		require.NoError(t, err)
		assert.Equal(t, models.TypeRelay, stored.PaymentType)
		assert.Equal(t, payer.PublicKey().String(), stored.Payer)
		assert.Equal(t, uint64(25_000_000), stored.ExpectedLamports)
	})

	t.Run("create rejects a bad wallet address", func(t *testing.T) {
		svc := newService(newFakeRefRepo(), &fakeRelayer{}, &fakeVerifier{})
		_, err := svc.CreateRelayCharge(ctx, models.ActionViewTalent, "not-a-wallet", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("submit relays a faithfully signed transaction and verifies it", func(t *testing.T) {
		refs := newFakeRefRepo()
		relayer := &fakeRelayer{relaySig: relaySig}
		verifier := &fakeVerifier{result: &VerifyResult{Verified: true, Signature: relaySig.String()}}
		svc := newService(refs, relayer, verifier)

		created, err := svc.CreateRelayCharge(ctx, models.ActionAwardPoints, payer.PublicKey().String(), "")
		require.NoError(t, err)

		res, err := svc.SubmitRelay(ctx, SubmitRelayRequest{
			Reference: created.Reference,
			SignedTx:  signAs(t, created.Transaction, payer),
		})
		require.NoError(t, err)
		assert.True(t, res.Verified)
		assert.Len(t, relayer.relayed, 1)
		assert.Equal(t, created.Reference, verifier.req.Reference)
		assert.Equal(t, relaySig.String(), verifier.req.Signature)
		assert.Equal(t, payer.PublicKey().String(), verifier.req.WalletAddress)
	})

	t.Run("submit rejects a transaction signed for a different amount", func(t *testing.T) {
		refs := newFakeRefRepo()
		relayer := &fakeRelayer{relaySig: relaySig}
		svc := newService(refs, relayer, &fakeVerifier{})

		created, err := svc.CreateRelayCharge(ctx, models.ActionAwardPoints, payer.PublicKey().String(), "")
		require.NoError(t, err)

		// The client signs its own cheaper transfer instead of the issued one.
		refKey := solana.MustPublicKeyFromBase58(created.Reference)
		cheap, err := chain.BuildUnsignedTransfer(ctx, stubRPC{}, payer.PublicKey(), treasury, refKey, 1_000)
		require.NoError(t, err)
		cheapEncoded, err := chain.EncodeBase64Tx(cheap)
		require.NoError(t, err)

		_, err = svc.SubmitRelay(ctx, SubmitRelayRequest{
			Reference: created.Reference,
			SignedTx:  signAs(t, cheapEncoded, payer),
		})
		assert.ErrorIs(t, err, pkgerrors.ErrTamperedTransaction)
		assert.Empty(t, relayer.relayed, "tampered transactions must never reach the network")
	})

	t.Run("submit rejects undecodable payloads", func(t *testing.T) {
		refs := newFakeRefRepo()
		svc := newService(refs, &fakeRelayer{}, &fakeVerifier{})

		created, err := svc.CreateRelayCharge(ctx, models.ActionAwardPoints, payer.PublicKey().String(), "")
		require.NoError(t, err)

		_, err = svc.SubmitRelay(ctx, SubmitRelayRequest{Reference: created.Reference, SignedTx: "@@@"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("submit refuses non-relay references", func(t *testing.T) {
		ref := pendingRef(models.TypeDirectPoll)
		refs := newFakeRefRepo(ref)
		svc := newService(refs, &fakeRelayer{}, &fakeVerifier{})

		_, err := svc.SubmitRelay(ctx, SubmitRelayRequest{Reference: ref.Reference, SignedTx: "x"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("node rejection leaves the reference pending", func(t *testing.T) {
		refs := newFakeRefRepo()
		relayer := &fakeRelayer{relayErr: pkgerrors.ErrRelayRejected}
		svc := newService(refs, relayer, &fakeVerifier{})

		created, err := svc.CreateRelayCharge(ctx, models.ActionAwardPoints, payer.PublicKey().String(), "")
		require.NoError(t, err)

		_, err = svc.SubmitRelay(ctx, SubmitRelayRequest{
			Reference: created.Reference,
			SignedTx:  signAs(t, created.Transaction, payer),
		})
		assert.ErrorIs(t, err, pkgerrors.ErrRelayRejected)

		stored, err := refs.GetByReference(ctx, created.Reference)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, stored.Status)
	})

	t.Run("confirmation timeout leaves the reference pending for later polling", func(t *testing.T) {
		refs := newFakeRefRepo()
		relayer := &fakeRelayer{relaySig: relaySig, confirmErr: pkgerrors.ErrNotConfirmed}
		svc := newService(refs, relayer, &fakeVerifier{})

		created, err := svc.CreateRelayCharge(ctx, models.ActionAwardPoints, payer.PublicKey().String(), "")
		require.NoError(t, err)

		_, err = svc.SubmitRelay(ctx, SubmitRelayRequest{
			Reference: created.Reference,
			SignedTx:  signAs(t, created.Transaction, payer),
		})
		assert.ErrorIs(t, err, pkgerrors.ErrNotConfirmed)

		stored, err := refs.GetByReference(ctx, created.Reference)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, stored.Status)
	})

	t.Run("retried submit after completion defers to verification", func(t *testing.T) {
		ref := pendingRef(models.TypeRelay)
		ref.Status = models.PaymentCompleted
		ref.Signature = relaySig.String()
		refs := newFakeRefRepo(ref)
		verifier := &fakeVerifier{result: &VerifyResult{Verified: true, Signature: relaySig.String()}}
		svc := newService(refs, &fakeRelayer{}, verifier)

		res, err := svc.SubmitRelay(ctx, SubmitRelayRequest{Reference: ref.Reference, SignedTx: "ignored"})
		require.NoError(t, err)
		assert.True(t, res.Verified)
		assert.Equal(t, relaySig.String(), verifier.req.Signature)
	})
}
