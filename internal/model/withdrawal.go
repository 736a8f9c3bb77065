package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus is derived from the remaining/original relationship and
// persisted so listings can filter on it.
type WithdrawalStatus string

const (
	WithdrawalNotStarted WithdrawalStatus = "not_started"
	WithdrawalPartial    WithdrawalStatus = "partial"
	WithdrawalCompleted  WithdrawalStatus = "completed"
)

// WithdrawalRequest is money owed to a payee, paid out by hand through Method.
type WithdrawalRequest struct {
	ID              int64            `json:"id"`
	PayeeName       string           `json:"payee_name"`
	Method          Method           `json:"method"`
	Destination     string           `json:"destination"`
	OriginalAmount  decimal.Decimal  `json:"original_amount"`
	RemainingAmount decimal.Decimal  `json:"remaining_amount"`
	Status          WithdrawalStatus `json:"status"`
	OriginContext   string           `json:"origin_context"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// DeriveWithdrawalStatus maps remaining and original amounts to a status.
func DeriveWithdrawalStatus(remaining, original decimal.Decimal) WithdrawalStatus {
	switch {
	case remaining.Sign() <= 0:
		return WithdrawalCompleted
	case remaining.LessThan(original):
		return WithdrawalPartial
	default:
		return WithdrawalNotStarted
	}
}

// RecomputeStatus refreshes Status from the current amounts.
func (w *WithdrawalRequest) RecomputeStatus() {
	w.Status = DeriveWithdrawalStatus(w.RemainingAmount, w.OriginalAmount)
}

// IsOpen reports whether anything is still owed.
func (w *WithdrawalRequest) IsOpen() bool {
	return w.RemainingAmount.IsPositive()
}

// CheckAmounts enforces 0 <= remaining <= original and original > 0.
func (w *WithdrawalRequest) CheckAmounts() error {
	if !w.OriginalAmount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.RemainingAmount.IsNegative() || w.RemainingAmount.GreaterThan(w.OriginalAmount) {
		return ErrInvalidAmount
	}
	return nil
}

// WithdrawalFilter selects withdrawals; zero fields match everything.
type WithdrawalFilter struct {
	Method        Method
	OriginContext string
	OpenOnly      bool
}

// Match reports whether w passes the filter.
func (f WithdrawalFilter) Match(w *WithdrawalRequest) bool {
	if f.Method != "" && w.Method != f.Method {
		return false
	}
	if f.OriginContext != "" && w.OriginContext != f.OriginContext {
		return false
	}
	if f.OpenOnly && !w.IsOpen() {
		return false
	}
	return true
}

// SubmitWithdrawalRequest is the body accepted by the withdrawal endpoints.
type SubmitWithdrawalRequest struct {
	PayeeName     string `json:"payee_name" binding:"required"`
	Method        string `json:"method" binding:"required"`
	Destination   string `json:"destination" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	OriginContext string `json:"origin_context"`
}

// AdjustWithdrawalRequest is a manual Add/Subtract. WithdrawalID 0 means
// "the active withdrawal of OriginContext".
type AdjustWithdrawalRequest struct {
	WithdrawalID  int64  `json:"withdrawal_id"`
	OriginContext string `json:"origin_context"`
	Amount        string `json:"amount" binding:"required"`
}
