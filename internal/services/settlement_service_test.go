package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talentgrid/payverify/internal/infrastructure/kafka"
	"github.com/talentgrid/payverify/internal/models"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

func newSettlement(points *fakePointsRepo, listings *fakeListingRepo, talent *fakeTalentRepo, producer *fakeProducer) *settlementService {
	return NewSettlementService(points, listings, talent, newFakeRedis(), producer)
}

func TestSettlementService_Settle(t *testing.T) {
	ctx := context.Background()

	baseReq := func(action models.ActionType) SettlementRequest {
		return SettlementRequest{
			Reference:   "ref-1",
			Signature:   "sig-1",
			Wallet:      "wallet-1",
			Action:      action,
			TokenAmount: 0.025,
		}
	}

	t.Run("awards points", func(t *testing.T) {
		points := &fakePointsRepo{}
		producer := &fakeProducer{}
		svc := newSettlement(points, &fakeListingRepo{}, &fakeTalentRepo{}, producer)

		require.NoError(t, svc.Settle(ctx, baseReq(models.ActionAwardPoints)))
		require.Len(t, points.awarded, 1)
		assert.Equal(t, "wallet-1", points.awarded[0].WalletAddress)
		assert.Equal(t, int64(PointsPerPayment), points.awarded[0].Points)
		assert.Equal(t, "ref-1", points.awarded[0].SolanaPayReference)
		assert.Len(t, producer.byTopic(kafka.TopicSettlements), 1)
	})

	t.Run("creates a job posting", func(t *testing.T) {
		listings := &fakeListingRepo{}
		svc := newSettlement(&fakePointsRepo{}, listings, &fakeTalentRepo{}, &fakeProducer{})

		req := baseReq(models.ActionPostJob)
		req.JobTitle = "Protocol Engineer"
		req.JobCompany = "TalentGrid"
		require.NoError(t, svc.Settle(ctx, req))
		require.Len(t, listings.jobs, 1)
		assert.Equal(t, "Protocol Engineer", listings.jobs[0].Title)
		assert.Equal(t, "sig-1", listings.jobs[0].PaymentTxSignature)
	})

	t.Run("creates a task posting", func(t *testing.T) {
		listings := &fakeListingRepo{}
		svc := newSettlement(&fakePointsRepo{}, listings, &fakeTalentRepo{}, &fakeProducer{})

		req := baseReq(models.ActionPostTask)
		req.TaskTitle = "Audit escrow program"
		req.RewardUSD = 300
		require.NoError(t, svc.Settle(ctx, req))
		require.Len(t, listings.tasks, 1)
		assert.Equal(t, "Audit escrow program", listings.tasks[0].Title)
		assert.Equal(t, 300.0, listings.tasks[0].RewardUSD)
	})

	t.Run("unlocks a talent profile and caches it", func(t *testing.T) {
		talent := &fakeTalentRepo{profile: &models.TalentProfile{XUserID: "talent-9", Handle: "@talent"}}
		redis := newFakeRedis()
		svc := NewSettlementService(&fakePointsRepo{}, &fakeListingRepo{}, talent, redis, &fakeProducer{})

		req := baseReq(models.ActionViewTalent)
		req.XUserID = "talent-9"
		require.NoError(t, svc.Settle(ctx, req))
		require.Len(t, talent.views, 1)
		assert.Equal(t, "sig-1", talent.views[0].PaymentTxSignature)

		cached, err := redis.Get(ctx, "talent:talent-9:unlocked:wallet-1")
		require.NoError(t, err)
		var profile models.TalentProfile
		require.NoError(t, json.Unmarshal([]byte(cached), &profile))
		assert.Equal(t, "@talent", profile.Handle)
	})

	t.Run("duplicate settlement is a success no-op", func(t *testing.T) {
		points := &fakePointsRepo{err: pkgerrors.ErrAlreadyClaimed}
		producer := &fakeProducer{}
		svc := newSettlement(points, &fakeListingRepo{}, &fakeTalentRepo{}, producer)

		assert.NoError(t, svc.Settle(ctx, baseReq(models.ActionAwardPoints)))
		assert.Empty(t, producer.byTopic(kafka.TopicSettlementRetries))
	})

	t.Run("unknown action is rejected", func(t *testing.T) {
		svc := newSettlement(&fakePointsRepo{}, &fakeListingRepo{}, &fakeTalentRepo{}, &fakeProducer{})
		err := svc.Settle(ctx, baseReq("mint_nft"))
		assert.ErrorIs(t, err, pkgerrors.ErrSettlementFailure)
	})

	t.Run("downstream failure schedules a retry", func(t *testing.T) {
		points := &fakePointsRepo{err: pkgerrors.ErrInternal}
		producer := &fakeProducer{}
		svc := newSettlement(points, &fakeListingRepo{}, &fakeTalentRepo{}, producer)

		err := svc.Settle(ctx, baseReq(models.ActionAwardPoints))
		assert.ErrorIs(t, err, pkgerrors.ErrSettlementFailure)

		// The retry event is emitted asynchronously.
		assert.Eventually(t, func() bool {
			return len(producer.byTopic(kafka.TopicSettlementRetries)) == 1
		}, 2*time.Second, 10*time.Millisecond)

		msgs := producer.byTopic(kafka.TopicSettlementRetries)
		var replay SettlementRequest
		require.NoError(t, json.Unmarshal(msgs[0].value, &replay))
		assert.Equal(t, "ref-1", replay.Reference)
		assert.Equal(t, models.ActionAwardPoints, replay.Action)
	})
}

func TestSettlementService_HandleRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("re-drives the settlement from the payload", func(t *testing.T) {
		points := &fakePointsRepo{}
		svc := newSettlement(points, &fakeListingRepo{}, &fakeTalentRepo{}, &fakeProducer{})

		payload, err := json.Marshal(SettlementRequest{
			Reference: "ref-1",
			Signature: "sig-1",
			Wallet:    "wallet-1",
			Action:    models.ActionAwardPoints,
		})
		require.NoError(t, err)

		require.NoError(t, svc.HandleRetry(ctx, payload))
		assert.Len(t, points.awarded, 1)
	})

	t.Run("drops malformed payloads", func(t *testing.T) {
		svc := newSettlement(&fakePointsRepo{}, &fakeListingRepo{}, &fakeTalentRepo{}, &fakeProducer{})
		assert.NoError(t, svc.HandleRetry(ctx, []byte("not-json")))
	})
}
