package chain

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

// systemTransferIndex is the SystemProgram instruction discriminator for
// Transfer: u32 little-endian 2, followed by u64 little-endian lamports.
const systemTransferIndex = uint32(2)

// BuildUnsignedTransfer constructs the relay-variant directive: a transfer
// from payer to treasury with the reference key attached as a read-only
// account, so the transaction is bound to the charge. The client signs it;
// the server re-validates the signed bytes before relaying.
func BuildUnsignedTransfer(ctx context.Context, client RPCClient, payer, treasury, reference solana.PublicKey, lamports uint64) (*solana.Transaction, error) {
	bh, err := client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	accounts := solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: treasury, IsSigner: false, IsWritable: true},
		// Reference rides along read-only so the charge can be located on chain.
		{PublicKey: reference, IsSigner: false, IsWritable: false},
	}

	inst := solana.NewInstruction(solana.SystemProgramID, accounts, data)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{inst},
		bh.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

func EncodeBase64Tx(tx *solana.Transaction) (string, error) {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

func DecodeBase64Tx(b64 string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return solana.TransactionFromDecoder(bin.NewBinDecoder(data))
}

// IssuedTransfer is what the server bound to a relay charge at creation
// time. The signed bytes coming back are untrusted input and must match it.
type IssuedTransfer struct {
	Payer     solana.PublicKey
	Treasury  solana.PublicKey
	Reference solana.PublicKey
	Lamports  uint64
}

// ValidateSignedTransfer re-checks the signed transaction against the
// issued charge: recipient, amount, reference binding and payer. Never
// trust that the client signed what the server offered.
func ValidateSignedTransfer(tx *solana.Transaction, issued IssuedTransfer) error {
	if tx == nil {
		return pkgerrors.ErrInvalidInput
	}

	if err := tx.VerifySignatures(); err != nil {
		slog.Error("relayed transaction has invalid signatures", "error", err)
		return fmt.Errorf("%w: invalid signatures", pkgerrors.ErrTamperedTransaction)
	}

	keys := tx.Message.AccountKeys
	if len(keys) == 0 || !keys[0].Equals(issued.Payer) {
		slog.Error("relayed transaction fee payer mismatch", "expected", issued.Payer.String())
		return fmt.Errorf("%w: fee payer mismatch", pkgerrors.ErrTamperedTransaction)
	}
	if !InvolvesAccount(tx, issued.Reference) {
		slog.Error("relayed transaction missing reference binding", "reference", issued.Reference.String())
		return fmt.Errorf("%w: reference not bound", pkgerrors.ErrTamperedTransaction)
	}

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) || !keys[inst.ProgramIDIndex].Equals(solana.SystemProgramID) {
			continue
		}
		if len(inst.Data) < 12 || binary.LittleEndian.Uint32(inst.Data[0:4]) != systemTransferIndex {
			continue
		}
		if len(inst.Accounts) < 2 {
			continue
		}
		// Account indices come off the wire; a signature over a message with
		// out-of-range indices still verifies.
		if int(inst.Accounts[0]) >= len(keys) || int(inst.Accounts[1]) >= len(keys) {
			slog.Error("relayed transaction has out-of-range account index",
				"accounts", inst.Accounts, "keys", len(keys))
			return fmt.Errorf("%w: account index out of range", pkgerrors.ErrTamperedTransaction)
		}
		from := keys[inst.Accounts[0]]
		to := keys[inst.Accounts[1]]
		lamports := binary.LittleEndian.Uint64(inst.Data[4:12])

		if !to.Equals(issued.Treasury) {
			slog.Error("relayed transaction recipient mismatch",
				"expected", issued.Treasury.String(), "got", to.String())
			return fmt.Errorf("%w: recipient mismatch", pkgerrors.ErrTamperedTransaction)
		}
		if !from.Equals(issued.Payer) {
			slog.Error("relayed transaction sender mismatch",
				"expected", issued.Payer.String(), "got", from.String())
			return fmt.Errorf("%w: sender mismatch", pkgerrors.ErrTamperedTransaction)
		}
		if lamports != issued.Lamports {
			slog.Error("relayed transaction amount mismatch",
				"expected", issued.Lamports, "got", lamports)
			return fmt.Errorf("%w: amount mismatch", pkgerrors.ErrTamperedTransaction)
		}
		return nil
	}

	slog.Error("relayed transaction carries no transfer to treasury")
	return fmt.Errorf("%w: no transfer instruction", pkgerrors.ErrTamperedTransaction)
}
