// Package memstore is an in-process repository.Repository. A single mutex
// guards all state; WithinTx works on a copy and swaps it in on success.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cashqueue/internal/model"
	"cashqueue/internal/repository"
)

type state struct {
	withdrawals      []model.WithdrawalRequest
	deposits         []model.DepositRecord
	settlements      []model.Settlement
	nextWithdrawalID int64
	nextDepositID    int64
	nextSettlementID int64
}

func (s *state) clone() *state {
	c := *s
	c.withdrawals = append([]model.WithdrawalRequest(nil), s.withdrawals...)
	c.deposits = make([]model.DepositRecord, len(s.deposits))
	for i, d := range s.deposits {
		c.deposits[i] = copyDeposit(d)
	}
	c.settlements = append([]model.Settlement(nil), s.settlements...)
	return &c
}

func copyDeposit(d model.DepositRecord) model.DepositRecord {
	if d.ConfirmedAt != nil {
		t := *d.ConfirmedAt
		d.ConfirmedAt = &t
	}
	return d
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: &state{}}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) view() *view { return &view{st: s.st} }

func (s *Store) CreateWithdrawal(ctx context.Context, w *model.WithdrawalRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateWithdrawal(ctx, w)
}

func (s *Store) GetWithdrawal(ctx context.Context, id int64) (*model.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetWithdrawal(ctx, id)
}

func (s *Store) FindWithdrawals(ctx context.Context, f model.WithdrawalFilter) ([]model.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindWithdrawals(ctx, f)
}

func (s *Store) UpdateWithdrawal(ctx context.Context, id int64, fn repository.WithdrawalMutator) (*model.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateWithdrawal(ctx, id, fn)
}

func (s *Store) DeleteWithdrawal(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteWithdrawal(ctx, id)
}

func (s *Store) CreateDeposit(ctx context.Context, d *model.DepositRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateDeposit(ctx, d)
}

func (s *Store) GetDeposit(ctx context.Context, id int64) (*model.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetDeposit(ctx, id)
}

func (s *Store) FindDeposits(ctx context.Context, f model.DepositFilter) ([]model.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindDeposits(ctx, f)
}

func (s *Store) UpdateDeposit(ctx context.Context, id int64, fn repository.DepositMutator) (*model.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateDeposit(ctx, id, fn)
}

func (s *Store) DeleteOldestDeposit(ctx context.Context) (*model.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteOldestDeposit(ctx)
}

func (s *Store) AppendSettlement(ctx context.Context, st *model.Settlement) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().AppendSettlement(ctx, st)
}

func (s *Store) ListSettlements(ctx context.Context, page, pageSize int) (*model.SettlementHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListSettlements(ctx, page, pageSize)
}

// WithinTx holds the store lock for the whole of fn.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.st.clone()
	if err := fn(&view{st: draft}); err != nil {
		return err
	}
	s.st = draft
	return nil
}

// view implements the repository over a state without locking; the caller
// owns synchronisation.
type view struct {
	st *state
}

func (v *view) CreateWithdrawal(_ context.Context, w *model.WithdrawalRequest) (int64, error) {
	v.st.nextWithdrawalID++
	w.ID = v.st.nextWithdrawalID
	if w.Version == 0 {
		w.Version = 1
	}
	w.RecomputeStatus()
	v.st.withdrawals = append(v.st.withdrawals, *w)
	return w.ID, nil
}

func (v *view) withdrawalIndex(id int64) int {
	for i := range v.st.withdrawals {
		if v.st.withdrawals[i].ID == id {
			return i
		}
	}
	return -1
}

func (v *view) GetWithdrawal(_ context.Context, id int64) (*model.WithdrawalRequest, error) {
	i := v.withdrawalIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("withdrawal %d: %w", id, model.ErrNotFound)
	}
	w := v.st.withdrawals[i]
	return &w, nil
}

func (v *view) FindWithdrawals(_ context.Context, f model.WithdrawalFilter) ([]model.WithdrawalRequest, error) {
	out := make([]model.WithdrawalRequest, 0)
	for i := range v.st.withdrawals {
		if f.Match(&v.st.withdrawals[i]) {
			out = append(out, v.st.withdrawals[i])
		}
	}
	return out, nil
}

func (v *view) UpdateWithdrawal(_ context.Context, id int64, fn repository.WithdrawalMutator) (*model.WithdrawalRequest, error) {
	i := v.withdrawalIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("withdrawal %d: %w", id, model.ErrNotFound)
	}
	current := v.st.withdrawals[i]
	next := current
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.RecomputeStatus()
	if err := next.CheckAmounts(); err != nil {
		return nil, fmt.Errorf("withdrawal %d: %w", id, err)
	}
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()
	v.st.withdrawals[i] = next
	return &next, nil
}

func (v *view) DeleteWithdrawal(_ context.Context, id int64) error {
	i := v.withdrawalIndex(id)
	if i < 0 {
		return fmt.Errorf("withdrawal %d: %w", id, model.ErrNotFound)
	}
	v.st.withdrawals = append(v.st.withdrawals[:i:i], v.st.withdrawals[i+1:]...)
	return nil
}

func (v *view) CreateDeposit(_ context.Context, d *model.DepositRecord) (int64, error) {
	v.st.nextDepositID++
	d.ID = v.st.nextDepositID
	v.st.deposits = append(v.st.deposits, copyDeposit(*d))
	return d.ID, nil
}

func (v *view) depositIndex(id int64) int {
	for i := range v.st.deposits {
		if v.st.deposits[i].ID == id {
			return i
		}
	}
	return -1
}

func (v *view) GetDeposit(_ context.Context, id int64) (*model.DepositRecord, error) {
	i := v.depositIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("deposit %d: %w", id, model.ErrNotFound)
	}
	d := copyDeposit(v.st.deposits[i])
	return &d, nil
}

func (v *view) FindDeposits(_ context.Context, f model.DepositFilter) ([]model.DepositRecord, error) {
	out := make([]model.DepositRecord, 0)
	for i := range v.st.deposits {
		if f.Match(&v.st.deposits[i]) {
			out = append(out, copyDeposit(v.st.deposits[i]))
		}
	}
	return out, nil
}

func (v *view) UpdateDeposit(_ context.Context, id int64, fn repository.DepositMutator) (*model.DepositRecord, error) {
	i := v.depositIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("deposit %d: %w", id, model.ErrNotFound)
	}
	current := copyDeposit(v.st.deposits[i])
	next := copyDeposit(current)
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	if err := model.CheckDepositTransition(&current, &next); err != nil {
		return nil, fmt.Errorf("deposit %d: %w", id, err)
	}
	v.st.deposits[i] = copyDeposit(next)
	return &next, nil
}

func (v *view) DeleteOldestDeposit(_ context.Context) (*model.DepositRecord, error) {
	if len(v.st.deposits) == 0 {
		return nil, fmt.Errorf("deposits: %w", model.ErrNotFound)
	}
	oldest := v.st.deposits[0]
	v.st.deposits = append([]model.DepositRecord(nil), v.st.deposits[1:]...)
	return &oldest, nil
}

func (v *view) AppendSettlement(_ context.Context, s *model.Settlement) (int64, error) {
	v.st.nextSettlementID++
	s.ID = v.st.nextSettlementID
	v.st.settlements = append(v.st.settlements, *s)
	return s.ID, nil
}

func (v *view) ListSettlements(_ context.Context, page, pageSize int) (*model.SettlementHistory, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	total := len(v.st.settlements)

	settlements := make([]model.Settlement, 0)
	// past the last page; checked before multiplying so a huge page cannot overflow
	if page-1 <= total/pageSize {
		offset := (page - 1) * pageSize
		for i := total - 1 - offset; i >= 0 && len(settlements) < pageSize; i-- {
			settlements = append(settlements, v.st.settlements[i])
		}
	}

	return &model.SettlementHistory{
		Settlements: settlements,
		Total:       total,
		Page:        page,
		PageSize:    pageSize,
	}, nil
}

// WithinTx on a view just runs fn; the enclosing Store.WithinTx owns commit.
func (v *view) WithinTx(_ context.Context, fn func(tx repository.Repository) error) error {
	return fn(v)
}
