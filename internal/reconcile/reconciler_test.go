package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

func TestReconcile(t *testing.T) {
	// $200/SOL throughout; a $5.00 charge is 0.025 SOL on the nose.
	const rate = 200.0
	const expected = 5.00

	t.Run("exact payment verifies", func(t *testing.T) {
		res, err := Reconcile(25_000_000, rate, expected, 0.02)
		require.NoError(t, err)
		assert.True(t, res.Verified)
		assert.InDelta(t, 5.00, res.PaidFiat, 1e-9)
	})

	t.Run("payment inside tolerance verifies", func(t *testing.T) {
		// 0.0248 SOL = $4.96, within 2% of $5.00.
		res, err := Reconcile(24_800_000, rate, expected, 0.02)
		require.NoError(t, err)
		assert.True(t, res.Verified)
		assert.InDelta(t, 4.96, res.PaidFiat, 1e-9)
	})

	t.Run("overpayment inside tolerance verifies", func(t *testing.T) {
		res, err := Reconcile(25_400_000, rate, expected, 0.02)
		require.NoError(t, err)
		assert.True(t, res.Verified)
	})

	t.Run("payment outside tolerance rejected", func(t *testing.T) {
		// 0.026 SOL = $5.20, 4% over a 2% band.
		res, err := Reconcile(26_000_000, rate, expected, 0.02)
		assert.ErrorIs(t, err, pkgerrors.ErrAmountOutOfTolerance)
		assert.False(t, res.Verified)
		assert.InDelta(t, 5.20, res.PaidFiat, 1e-9)
	})

	t.Run("underpayment outside tolerance rejected", func(t *testing.T) {
		res, err := Reconcile(24_000_000, rate, expected, 0.02)
		assert.ErrorIs(t, err, pkgerrors.ErrAmountOutOfTolerance)
		assert.False(t, res.Verified)
	})

	t.Run("accepts amounts at the edge of the band", func(t *testing.T) {
		// Just inside 2% under: $4.902.
		res, err := Reconcile(24_510_000, rate, expected, 0.02)
		require.NoError(t, err)
		assert.True(t, res.Verified)

		// Just inside 2% over: $5.098.
		res, err = Reconcile(25_490_000, rate, expected, 0.02)
		require.NoError(t, err)
		assert.True(t, res.Verified)
	})

	t.Run("wider band accepts what the narrow band rejects", func(t *testing.T) {
		_, err := Reconcile(26_000_000, rate, expected, 0.02)
		assert.ErrorIs(t, err, pkgerrors.ErrAmountOutOfTolerance)

		res, err := Reconcile(26_000_000, rate, expected, 0.05)
		require.NoError(t, err)
		assert.True(t, res.Verified)
	})

	t.Run("zero transfer rejected", func(t *testing.T) {
		_, err := Reconcile(0, rate, expected, 0.02)
		assert.ErrorIs(t, err, pkgerrors.ErrAmountOutOfTolerance)
	})
}
