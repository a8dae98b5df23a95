package chain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

// ExtractTransferLamports computes the exact value the recipient received
// as postBalance-preBalance at the recipient's position in the account
// list. Balance deltas are chain-native and tamper-resistant: unlike memo
// or instruction parsing they cannot claim value that did not move.
func ExtractTransferLamports(tx *solana.Transaction, meta *rpc.TransactionMeta, recipient solana.PublicKey) (uint64, error) {
	if tx == nil || meta == nil {
		return 0, pkgerrors.ErrInvalidInput
	}

	idx := -1
	for i, key := range tx.Message.AccountKeys {
		if key.Equals(recipient) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, pkgerrors.ErrRecipientNotInvolved
	}
	if idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
		return 0, pkgerrors.ErrRecipientNotInvolved
	}

	pre := meta.PreBalances[idx]
	post := meta.PostBalances[idx]
	// A zero or negative delta is "no payment", never a valid zero-amount one.
	if post <= pre {
		return 0, pkgerrors.ErrNoTransferDetected
	}
	return post - pre, nil
}

// Sender returns the fee payer, which is the first account of the message.
func Sender(tx *solana.Transaction) string {
	if tx == nil || len(tx.Message.AccountKeys) == 0 {
		return ""
	}
	return tx.Message.AccountKeys[0].String()
}

// InvolvesAccount reports whether key appears anywhere in the transaction's
// touched accounts. Used to check reference binding.
func InvolvesAccount(tx *solana.Transaction, key solana.PublicKey) bool {
	if tx == nil {
		return false
	}
	for _, k := range tx.Message.AccountKeys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}
