package models

import "time"

// Settlement targets. Each carries a unique payment_tx_signature column,
// so one payment authorizes exactly one row.

type TalentView struct {
	ID                 int64     `json:"id"`
	ViewerWallet       string    `json:"viewer_wallet"`
	XUserID            string    `json:"x_user_id"`
	PaymentTxSignature string    `json:"payment_tx_signature"`
	CreatedAt          time.Time `json:"created_at"`
}

type JobPosting struct {
	ID                 int64     `json:"id"`
	Title              string    `json:"title"`
	Company            string    `json:"company"`
	Description        string    `json:"description"`
	ContactWallet      string    `json:"contact_wallet"`
	PaymentTxSignature string    `json:"payment_tx_signature"`
	CreatedAt          time.Time `json:"created_at"`
}

type TaskPosting struct {
	ID                 int64     `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	RewardUSD          float64   `json:"reward_usd"`
	ContactWallet      string    `json:"contact_wallet"`
	PaymentTxSignature string    `json:"payment_tx_signature"`
	CreatedAt          time.Time `json:"created_at"`
}

// TalentProfile is owned by the member registry; the payment layer only
// reads it when a view is unlocked.
type TalentProfile struct {
	XUserID   string    `json:"x_user_id"`
	Handle    string    `json:"handle"`
	Bio       string    `json:"bio"`
	Skills    string    `json:"skills"`
	CreatedAt time.Time `json:"created_at"`
}
