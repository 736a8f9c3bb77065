package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method is an external payment rail. Funds never move through this system.
type Method string

const (
	MethodVenmo   Method = "venmo"
	MethodZelle   Method = "zelle"
	MethodCashApp Method = "cashapp"
	MethodCrypto  Method = "crypto"
)

// Methods lists the supported rails in display order.
var Methods = []Method{MethodVenmo, MethodZelle, MethodCashApp, MethodCrypto}

// ParseMethod normalises user input ("Zelle", " cashapp ") to a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

// ParseAmount parses a positive amount with at most two decimal places.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if !d.Equal(d.Truncate(2)) {
		return decimal.Zero, fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}
	return d, nil
}

// Settlement is one journal line: Amount of deposit DepositID applied to
// withdrawal WithdrawalID.
type Settlement struct {
	ID           int64           `json:"id"`
	DepositID    int64           `json:"deposit_id"`
	WithdrawalID int64           `json:"withdrawal_id"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SettlementHistory represents a page of the settlement journal
type SettlementHistory struct {
	Settlements []Settlement `json:"settlements"`
	Total       int          `json:"total"`
	Page        int          `json:"page"`
	PageSize    int          `json:"page_size"`
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
