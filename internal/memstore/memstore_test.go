package memstore

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"cashqueue/internal/model"
	"cashqueue/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWithdrawal(method model.Method, origin string, amount int64) *model.WithdrawalRequest {
	now := time.Now().UTC()
	return &model.WithdrawalRequest{
		PayeeName:       "alice",
		Method:          method,
		Destination:     "dest",
		OriginalAmount:  decimal.NewFromInt(amount),
		RemainingAmount: decimal.NewFromInt(amount),
		OriginContext:   origin,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	s := New()

	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.CreateWithdrawal(ctx, newWithdrawal(model.MethodVenmo, "c", 10))
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
	require.NoError(t, s.DeleteWithdrawal(ctx, last))

	id, err := s.CreateWithdrawal(ctx, newWithdrawal(model.MethodVenmo, "c", 10))
	require.NoError(t, err)
	assert.Greater(t, id, last, "ids are never reused")
}

func TestUpdateWithdrawalRecomputesAndVersions(t *testing.T) {
	ctx := context.Background()
	s := New()
	w := newWithdrawal(model.MethodZelle, "c", 100)
	_, err := s.CreateWithdrawal(ctx, w)
	require.NoError(t, err)

	got, err := s.UpdateWithdrawal(ctx, w.ID, func(w *model.WithdrawalRequest) error {
		w.RemainingAmount = decimal.NewFromInt(30)
		w.Status = model.WithdrawalCompleted // ignored, status is derived
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPartial, got.Status)
	assert.Equal(t, int64(2), got.Version)

	_, err = s.UpdateWithdrawal(ctx, w.ID, func(w *model.WithdrawalRequest) error {
		w.RemainingAmount = decimal.NewFromInt(-1)
		return nil
	})
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	boom := errors.New("boom")
	_, err = s.UpdateWithdrawal(ctx, w.ID, func(w *model.WithdrawalRequest) error {
		w.RemainingAmount = decimal.Zero
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := s.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, stored.RemainingAmount.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, int64(2), stored.Version)

	_, err = s.UpdateWithdrawal(ctx, 999, func(*model.WithdrawalRequest) error { return nil })
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateWithdrawalIsLinearizable(t *testing.T) {
	ctx := context.Background()
	s := New()
	w := newWithdrawal(model.MethodVenmo, "c", 1000)
	_, err := s.CreateWithdrawal(ctx, w)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateWithdrawal(ctx, w.ID, func(w *model.WithdrawalRequest) error {
				w.RemainingAmount = w.RemainingAmount.Sub(decimal.NewFromInt(10))
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := s.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, stored.RemainingAmount.IsZero())
	assert.Equal(t, int64(101), stored.Version)
}

func TestFindWithdrawalsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, w := range []*model.WithdrawalRequest{
		newWithdrawal(model.MethodZelle, "a", 10),
		newWithdrawal(model.MethodVenmo, "a", 10),
		newWithdrawal(model.MethodZelle, "b", 10),
		newWithdrawal(model.MethodZelle, "a", 10),
	} {
		_, err := s.CreateWithdrawal(ctx, w)
		require.NoError(t, err)
	}
	_, err := s.UpdateWithdrawal(ctx, 4, func(w *model.WithdrawalRequest) error {
		w.RemainingAmount = decimal.Zero
		return nil
	})
	require.NoError(t, err)

	got, err := s.FindWithdrawals(ctx, model.WithdrawalFilter{Method: model.MethodZelle})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4}, withdrawalIDs(got))

	got, err = s.FindWithdrawals(ctx, model.WithdrawalFilter{Method: model.MethodZelle, OriginContext: "a", OpenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, withdrawalIDs(got))
}

func withdrawalIDs(ws []model.WithdrawalRequest) []int64 {
	ids := make([]int64, 0, len(ws))
	for _, w := range ws {
		ids = append(ids, w.ID)
	}
	return ids
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	w := newWithdrawal(model.MethodVenmo, "c", 50)
	_, err := s.CreateWithdrawal(ctx, w)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(tx repository.Repository) error {
		if _, err := tx.UpdateWithdrawal(ctx, w.ID, func(w *model.WithdrawalRequest) error {
			w.RemainingAmount = decimal.Zero
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.CreateDeposit(ctx, &model.DepositRecord{Method: model.MethodVenmo, Amount: decimal.NewFromInt(5), Status: model.DepositPending}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := s.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, stored.RemainingAmount.Equal(decimal.NewFromInt(50)))
	deps, err := s.FindDeposits(ctx, model.DepositFilter{})
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestDepositLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.DeleteOldestDeposit(ctx)
	assert.ErrorIs(t, err, model.ErrNotFound)

	d := &model.DepositRecord{Method: model.MethodZelle, Amount: decimal.NewFromInt(5), Status: model.DepositPending, CreatedAt: time.Now()}
	_, err = s.CreateDeposit(ctx, d)
	require.NoError(t, err)

	now := time.Now()
	got, err := s.UpdateDeposit(ctx, d.ID, func(d *model.DepositRecord) error {
		d.Status = model.DepositConfirmed
		d.MatchedWithdrawalID = 7
		d.ConfirmedAt = &now
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.MatchedWithdrawalID)

	_, err = s.UpdateDeposit(ctx, d.ID, func(d *model.DepositRecord) error {
		d.MatchedWithdrawalID = 8
		return nil
	})
	assert.ErrorIs(t, err, model.ErrAlreadyConfirmed)

	// returned records do not alias stored state
	got.ConfirmedAt = nil
	again, err := s.GetDeposit(ctx, d.ID)
	require.NoError(t, err)
	assert.NotNil(t, again.ConfirmedAt)

	pending, err := s.FindDeposits(ctx, model.DepositFilter{Status: model.DepositPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	oldest, err := s.DeleteOldestDeposit(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.ID, oldest.ID)
}

func TestListSettlementsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 1; i <= 5; i++ {
		_, err := s.AppendSettlement(ctx, &model.Settlement{DepositID: int64(i), WithdrawalID: 1, Amount: decimal.NewFromInt(1)})
		require.NoError(t, err)
	}

	page, err := s.ListSettlements(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Settlements, 2)
	assert.Equal(t, int64(5), page.Settlements[0].DepositID)
	assert.Equal(t, int64(4), page.Settlements[1].DepositID)

	page, err = s.ListSettlements(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, page.Settlements, 1)
	assert.Equal(t, int64(1), page.Settlements[0].DepositID)

	for _, n := range []int{9, 1844674407370955157, math.MaxInt} {
		page, err = s.ListSettlements(ctx, n, 2)
		require.NoError(t, err, "page %d", n)
		assert.Empty(t, page.Settlements, "page %d", n)
		assert.Equal(t, n, page.Page)
	}
}
