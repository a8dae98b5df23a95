package models

import "time"

// PaymentReference is the pending-charge row that correlates on-chain
// activity with a charge. A reference moves pending -> completed exactly
// once and is never reused or deleted.
type PaymentReference struct {
	Reference   string        `json:"reference"`
	AmountUSD   float64       `json:"amount_usd"`
	Memo        string        `json:"memo,omitempty"`
	Payer       string        `json:"payer,omitempty"`
	Status      PaymentStatus `json:"status"`
	PaymentType PaymentType   `json:"payment_type"`
	Action      ActionType    `json:"action"`
	Signature   string        `json:"signature,omitempty"`
	// ExpectedLamports is set for relay charges: the amount the issued
	// unsigned transaction carried, re-checked on submit.
	ExpectedLamports uint64     `json:"expected_lamports,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UsedAt           *time.Time `json:"used_at,omitempty"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentExpired   PaymentStatus = "expired"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentType tags the protocol variant a reference was issued for.
type PaymentType string

const (
	// TypeDirectPoll: the wallet pays a Solana Pay URI and the client polls
	// until the reference shows up on chain. Anyone may fund the charge;
	// the sender is not checked.
	TypeDirectPoll PaymentType = "direct-poll"
	// TypeRelay: the server builds the transaction, the client signs it and
	// hands it back for relay. The payer is bound at charge time.
	TypeRelay PaymentType = "relay"
)

// ActionType names the paid action a charge unlocks.
type ActionType string

const (
	ActionViewTalent  ActionType = "view_talent"
	ActionPostJob     ActionType = "post_job"
	ActionPostTask    ActionType = "post_task"
	ActionAwardPoints ActionType = "award_points"
)

// Tolerance returns the accepted fiat deviation for the variant. The
// direct-poll flow is tighter because the quoted amount is fixed at charge
// time; the relay flow absorbs more oracle staleness.
func (t PaymentType) Tolerance() float64 {
	if t == TypeRelay {
		return 0.05
	}
	return 0.02
}

// LocatedTransaction is the chain-side view of a payment once resolved.
type LocatedTransaction struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	// Lamports actually received by the treasury, from balance deltas.
	TransferLamports uint64
	Sender           string
}
