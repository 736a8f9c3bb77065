package settlement

import (
	"context"
	"errors"
	"fmt"

	"cashqueue/internal/model"
	"cashqueue/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ResolveActive returns the newest open withdrawal raised in originContext.
// Manual adjustments target the newest request; settlement pays the oldest.
func (e *Engine) ResolveActive(ctx context.Context, originContext string) (*model.WithdrawalRequest, error) {
	return resolveActive(ctx, e.repo, originContext)
}

func resolveActive(ctx context.Context, repo repository.Repository, originContext string) (*model.WithdrawalRequest, error) {
	open, err := repo.FindWithdrawals(ctx, model.WithdrawalFilter{OriginContext: originContext, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, fmt.Errorf("no open withdrawal in %q: %w", originContext, model.ErrNotFound)
	}
	active := open[len(open)-1]
	return &active, nil
}

// ApplyAdd raises both the original and remaining amounts, reopening a
// completed withdrawal if need be.
func (e *Engine) ApplyAdd(ctx context.Context, caller Caller, req model.AdjustWithdrawalRequest) (*model.WithdrawalRequest, error) {
	return e.adjust(ctx, caller, req, "add", func(w *model.WithdrawalRequest, delta decimal.Decimal) {
		w.OriginalAmount = w.OriginalAmount.Add(delta)
		w.RemainingAmount = w.RemainingAmount.Add(delta)
	})
}

// ApplySubtract lowers the remaining amount, clamped at zero. The original
// amount is never lowered.
func (e *Engine) ApplySubtract(ctx context.Context, caller Caller, req model.AdjustWithdrawalRequest) (*model.WithdrawalRequest, error) {
	return e.adjust(ctx, caller, req, "subtract", func(w *model.WithdrawalRequest, delta decimal.Decimal) {
		w.RemainingAmount = decimal.Max(decimal.Zero, w.RemainingAmount.Sub(delta))
	})
}

func (e *Engine) adjust(ctx context.Context, caller Caller, req model.AdjustWithdrawalRequest, op string,
	apply func(w *model.WithdrawalRequest, delta decimal.Decimal)) (*model.WithdrawalRequest, error) {
	if !caller.Privileged {
		return nil, model.ErrUnauthorized
	}
	delta, err := model.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	origin := req.OriginContext
	if origin == "" {
		origin = caller.OriginContext
	}

	var updated *model.WithdrawalRequest
	err = e.repo.WithinTx(ctx, func(tx repository.Repository) error {
		targetID := req.WithdrawalID
		if targetID == 0 {
			active, err := resolveActive(ctx, tx, origin)
			if err != nil {
				return err
			}
			targetID = active.ID
		}

		w, err := tx.UpdateWithdrawal(ctx, targetID, func(w *model.WithdrawalRequest) error {
			apply(w, delta)
			return nil
		})
		if err != nil {
			return err
		}
		updated = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("withdrawal adjusted",
		zap.String("op", op),
		zap.Int64("withdrawal_id", updated.ID),
		zap.String("delta", delta.StringFixed(2)),
		zap.String("remaining", updated.RemainingAmount.StringFixed(2)),
		zap.String("original", updated.OriginalAmount.StringFixed(2)))
	return updated, nil
}

// MarkOldestFilled zeroes the oldest open withdrawal, for when a cashier paid
// it out by hand.
func (e *Engine) MarkOldestFilled(ctx context.Context, caller Caller) (*model.WithdrawalRequest, error) {
	if !caller.Privileged {
		return nil, model.ErrUnauthorized
	}

	var filled *model.WithdrawalRequest
	err := e.repo.WithinTx(ctx, func(tx repository.Repository) error {
		open, err := tx.FindWithdrawals(ctx, model.WithdrawalFilter{OpenOnly: true})
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return fmt.Errorf("withdrawals: %w", model.ErrEmptyQueue)
		}

		w, err := tx.UpdateWithdrawal(ctx, open[0].ID, func(w *model.WithdrawalRequest) error {
			w.RemainingAmount = decimal.Zero
			return nil
		})
		if err != nil {
			return err
		}
		filled = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("withdrawal marked filled", zap.Int64("withdrawal_id", filled.ID))
	return filled, nil
}

// DeleteWithdrawal removes a withdrawal outright.
func (e *Engine) DeleteWithdrawal(ctx context.Context, caller Caller, id int64) error {
	if !caller.Privileged {
		return model.ErrUnauthorized
	}
	if err := e.repo.DeleteWithdrawal(ctx, id); err != nil {
		return err
	}
	e.log.Info("withdrawal deleted", zap.Int64("withdrawal_id", id))
	return nil
}

// DequeueOldestDeposit drops the oldest deposit record regardless of status.
// It is housekeeping and never touches withdrawals.
func (e *Engine) DequeueOldestDeposit(ctx context.Context, caller Caller) (*model.DepositRecord, error) {
	if !caller.Privileged {
		return nil, model.ErrUnauthorized
	}
	dep, err := e.repo.DeleteOldestDeposit(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("deposits: %w", model.ErrEmptyQueue)
	}
	if err != nil {
		return nil, err
	}
	e.log.Info("deposit dequeued", zap.Int64("deposit_id", dep.ID), zap.String("status", string(dep.Status)))
	return dep, nil
}
