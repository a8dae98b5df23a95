package models

import "time"

// PointsTransaction is the idempotency record for points awards: the
// unique solana_pay_reference column makes a second award for the same
// payment a detectable no-op.
type PointsTransaction struct {
	ID                 int64           `json:"id"`
	WalletAddress      string          `json:"wallet_address"`
	Type               PointsEntryType `json:"transaction_type"`
	Points             int64           `json:"points"`
	SolanaPayReference string          `json:"solana_pay_reference"`
	PaymentTokenMint   string          `json:"payment_token_mint,omitempty"`
	PaymentTokenAmount float64         `json:"payment_token_amount"`
	CreatedAt          time.Time       `json:"created_at"`
}

type PointsEntryType string

const (
	PointsEarned    PointsEntryType = "earned"
	PointsConverted PointsEntryType = "converted"
	PointsSpent     PointsEntryType = "spent"
)
