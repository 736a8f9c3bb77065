package settlement

import (
	"context"

	"cashqueue/internal/model"

	"github.com/shopspring/decimal"
)

// ListWithdrawals returns withdrawals in FIFO order.
func (e *Engine) ListWithdrawals(ctx context.Context, f model.WithdrawalFilter) ([]model.WithdrawalRequest, error) {
	return e.repo.FindWithdrawals(ctx, f)
}

// ListDeposits returns deposits in FIFO order.
func (e *Engine) ListDeposits(ctx context.Context, f model.DepositFilter) ([]model.DepositRecord, error) {
	return e.repo.FindDeposits(ctx, f)
}

func (e *Engine) ListSettlements(ctx context.Context, page, pageSize int) (*model.SettlementHistory, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return e.repo.ListSettlements(ctx, page, pageSize)
}

type MethodSummary struct {
	Method          model.Method    `json:"method"`
	OpenWithdrawals int             `json:"open_withdrawals"`
	Outstanding     decimal.Decimal `json:"outstanding"`
	PendingDeposits int             `json:"pending_deposits"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
}

type Summary struct {
	Methods     []MethodSummary `json:"methods"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Pending     decimal.Decimal `json:"pending"`
}

// QueueSummary totals open withdrawals and pending deposits per method.
func (e *Engine) QueueSummary(ctx context.Context) (*Summary, error) {
	open, err := e.repo.FindWithdrawals(ctx, model.WithdrawalFilter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	pending, err := e.repo.FindDeposits(ctx, model.DepositFilter{Status: model.DepositPending})
	if err != nil {
		return nil, err
	}

	rows := make(map[model.Method]*MethodSummary, len(model.Methods))
	sum := &Summary{Outstanding: decimal.Zero, Pending: decimal.Zero}
	for _, m := range model.Methods {
		rows[m] = &MethodSummary{Method: m, Outstanding: decimal.Zero, PendingAmount: decimal.Zero}
	}

	for _, w := range open {
		r := rows[w.Method]
		if r == nil {
			continue
		}
		r.OpenWithdrawals++
		r.Outstanding = r.Outstanding.Add(w.RemainingAmount)
		sum.Outstanding = sum.Outstanding.Add(w.RemainingAmount)
	}
	for _, d := range pending {
		r := rows[d.Method]
		if r == nil {
			continue
		}
		r.PendingDeposits++
		r.PendingAmount = r.PendingAmount.Add(d.Amount)
		sum.Pending = sum.Pending.Add(d.Amount)
	}

	for _, m := range model.Methods {
		sum.Methods = append(sum.Methods, *rows[m])
	}
	return sum, nil
}
