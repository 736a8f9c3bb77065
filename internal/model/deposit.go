package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
)

// DepositRecord is money received from a depositor, waiting for a cashier to
// confirm it arrived. MatchedWithdrawalID is 0 until confirmation and never
// changes afterwards.
type DepositRecord struct {
	ID                  int64           `json:"id"`
	DepositorName       string          `json:"depositor_name"`
	Method              Method          `json:"method"`
	Amount              decimal.Decimal `json:"amount"`
	Status              DepositStatus   `json:"status"`
	MatchedWithdrawalID int64           `json:"matched_withdrawal_id,omitempty"`
	OriginContext       string          `json:"origin_context"`
	CreatedAt           time.Time       `json:"created_at"`
	ConfirmedAt         *time.Time      `json:"confirmed_at,omitempty"`
}

// CheckDepositTransition rejects changes that would reopen a confirmed
// deposit or rebind its matched withdrawal.
func CheckDepositTransition(before, after *DepositRecord) error {
	if before.Status == DepositConfirmed {
		if after.Status != DepositConfirmed || after.MatchedWithdrawalID != before.MatchedWithdrawalID {
			return ErrAlreadyConfirmed
		}
	}
	if !after.Amount.Equal(before.Amount) || after.Method != before.Method {
		return ErrInvalidAmount
	}
	return nil
}

type DepositFilter struct {
	Method Method
	Status DepositStatus
}

func (f DepositFilter) Match(d *DepositRecord) bool {
	if f.Method != "" && d.Method != f.Method {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	return true
}

type SubmitDepositRequest struct {
	DepositorName string `json:"depositor_name" binding:"required"`
	Method        string `json:"method" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	OriginContext string `json:"origin_context"`
}
