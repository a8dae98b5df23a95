package reconcile

import (
	"fmt"

	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

const LamportsPerSol = 1_000_000_000

// Result reports the fiat value actually paid alongside the decision, so
// callers can always show the user what the chain says they paid.
type Result struct {
	Verified     bool    `json:"verified"`
	PaidFiat     float64 `json:"paid_fiat"`
	ExpectedFiat float64 `json:"expected_fiat"`
}

// Reconcile converts the received lamports to fiat and checks the amount
// against the expected charge. Both bounds are inclusive. Overpayment is
// rejected the same as underpayment: an amount above the window is not
// assumed intentional and must not auto-authorize the action.
func Reconcile(transferLamports uint64, fiatRate, expectedFiat, tolerance float64) (Result, error) {
	paid := float64(transferLamports) / LamportsPerSol * fiatRate
	res := Result{PaidFiat: paid, ExpectedFiat: expectedFiat}

	lower := expectedFiat * (1 - tolerance)
	upper := expectedFiat * (1 + tolerance)
	if paid < lower || paid > upper {
		return res, fmt.Errorf("%w: paid %.2f, expected %.2f (accepted %.2f-%.2f)",
			pkgerrors.ErrAmountOutOfTolerance, paid, expectedFiat, lower, upper)
	}

	res.Verified = true
	return res, nil
}
