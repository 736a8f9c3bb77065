// Package matcher decides which withdrawals a deposit pays off. Everything
// here is pure: the same candidates, method and amount always yield the same
// plan, whether the caller is previewing or confirming.
package matcher

import (
	"fmt"
	"slices"

	"cashqueue/internal/model"

	"github.com/shopspring/decimal"
)

// Allocation is the part of a deposit applied to one withdrawal.
type Allocation struct {
	WithdrawalID int64           `json:"withdrawal_id"`
	Version      int64           `json:"-"`
	Amount       decimal.Decimal `json:"amount"`
}

// Plan is a strategy's answer for a single deposit.
type Plan struct {
	Allocations []Allocation    `json:"allocations"`
	Remainder   decimal.Decimal `json:"remainder"`
}

// Matched reports whether any withdrawal receives money.
func (p Plan) Matched() bool {
	return len(p.Allocations) > 0
}

// Strategy turns a candidate set into a Plan.
type Strategy interface {
	Name() string
	Plan(candidates []model.WithdrawalRequest, method model.Method, amount decimal.Decimal) Plan
}

const (
	ModeSingleFit   = "single_fit"
	ModeFIFOCascade = "fifo_cascade"
)

// ForMode returns the strategy configured by name. Empty means single fit.
func ForMode(mode string) (Strategy, error) {
	switch mode {
	case "", ModeSingleFit:
		return SingleFit{}, nil
	case ModeFIFOCascade:
		return FIFOCascade{}, nil
	default:
		return nil, fmt.Errorf("unknown matching mode %q", mode)
	}
}

// SelectWithdrawal returns the oldest withdrawal with the same method that can
// absorb amount in full.
func SelectWithdrawal(candidates []model.WithdrawalRequest, method model.Method, amount decimal.Decimal) (model.WithdrawalRequest, bool) {
	for _, w := range oldestFirst(candidates) {
		if w.Method != method {
			continue
		}
		if w.RemainingAmount.GreaterThanOrEqual(amount) {
			return w, true
		}
	}
	return model.WithdrawalRequest{}, false
}

// SingleFit never splits a deposit.
type SingleFit struct{}

func (SingleFit) Name() string { return ModeSingleFit }

func (SingleFit) Plan(candidates []model.WithdrawalRequest, method model.Method, amount decimal.Decimal) Plan {
	w, ok := SelectWithdrawal(candidates, method, amount)
	if !ok {
		return Plan{Remainder: amount}
	}
	return Plan{
		Allocations: []Allocation{{WithdrawalID: w.ID, Version: w.Version, Amount: amount}},
		Remainder:   decimal.Zero,
	}
}

// FIFOCascade pays withdrawals oldest first, splitting the deposit across as
// many as it takes. Whatever is left over stays in Remainder.
type FIFOCascade struct{}

func (FIFOCascade) Name() string { return ModeFIFOCascade }

func (FIFOCascade) Plan(candidates []model.WithdrawalRequest, method model.Method, amount decimal.Decimal) Plan {
	left := amount
	var allocs []Allocation
	for _, w := range oldestFirst(candidates) {
		if !left.IsPositive() {
			break
		}
		if w.Method != method || !w.RemainingAmount.IsPositive() {
			continue
		}
		applied := decimal.Min(left, w.RemainingAmount)
		allocs = append(allocs, Allocation{WithdrawalID: w.ID, Version: w.Version, Amount: applied})
		left = left.Sub(applied)
	}
	return Plan{Allocations: allocs, Remainder: left}
}

func oldestFirst(candidates []model.WithdrawalRequest) []model.WithdrawalRequest {
	if slices.IsSortedFunc(candidates, byID) {
		return candidates
	}
	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, byID)
	return sorted
}

func byID(a, b model.WithdrawalRequest) int {
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
