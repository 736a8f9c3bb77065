// Package repository defines the storage contract the settlement engine runs
// against. internal/database (SQLite) and internal/memstore implement it.
//
// Update* is the only way to change a stored record. The mutator sees the
// current row; returning an error aborts the update and nothing is written.
// Implementations serialise updates per id, bump WithdrawalRequest.Version,
// recompute withdrawal status and reject results that break the amount
// invariants.
package repository

import (
	"context"

	"cashqueue/internal/model"
)

type WithdrawalMutator func(w *model.WithdrawalRequest) error

type DepositMutator func(d *model.DepositRecord) error

type Repository interface {
	CreateWithdrawal(ctx context.Context, w *model.WithdrawalRequest) (int64, error)
	GetWithdrawal(ctx context.Context, id int64) (*model.WithdrawalRequest, error)
	// FindWithdrawals returns matches in ascending id order.
	FindWithdrawals(ctx context.Context, f model.WithdrawalFilter) ([]model.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, id int64, fn WithdrawalMutator) (*model.WithdrawalRequest, error)
	DeleteWithdrawal(ctx context.Context, id int64) error

	CreateDeposit(ctx context.Context, d *model.DepositRecord) (int64, error)
	GetDeposit(ctx context.Context, id int64) (*model.DepositRecord, error)
	// FindDeposits returns matches in ascending id order.
	FindDeposits(ctx context.Context, f model.DepositFilter) ([]model.DepositRecord, error)
	UpdateDeposit(ctx context.Context, id int64, fn DepositMutator) (*model.DepositRecord, error)
	// DeleteOldestDeposit removes the lowest-id deposit whatever its status.
	DeleteOldestDeposit(ctx context.Context) (*model.DepositRecord, error)

	AppendSettlement(ctx context.Context, s *model.Settlement) (int64, error)
	// ListSettlements pages through the journal newest first.
	ListSettlements(ctx context.Context, page, pageSize int) (*model.SettlementHistory, error)

	// WithinTx runs fn against a transactional view. Either every write made
	// through tx becomes visible, or none does.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}
