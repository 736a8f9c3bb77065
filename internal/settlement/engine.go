// Package settlement owns the withdrawal/deposit queues: submissions,
// previews, deposit confirmation and manual balance adjustments. It returns
// structured results and typed errors; rendering is left to the caller.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cashqueue/internal/matcher"
	"cashqueue/internal/metrics"
	"cashqueue/internal/model"
	"cashqueue/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultConfirmAttempts = 3

// Caller is what the command layer resolved about whoever issued a command.
type Caller struct {
	Privileged    bool
	OriginContext string
}

// DestinationCheck validates a payout destination for one method.
type DestinationCheck func(destination string) error

type Options struct {
	Strategy matcher.Strategy
	// FallbackContacts is where funds go when a deposit has no match.
	FallbackContacts   map[model.Method]string
	MaxConfirmAttempts int
	// ExtraDestinationChecks run after the built-in zelle rule.
	ExtraDestinationChecks map[model.Method]DestinationCheck
	Metrics                *metrics.Metrics
	Now                    func() time.Time
}

type Engine struct {
	repo        repository.Repository
	strategy    matcher.Strategy
	fallbacks   map[model.Method]string
	checks      map[model.Method]DestinationCheck
	maxAttempts int
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time

	// confirmMu serialises selection-then-apply across all confirmations.
	confirmMu sync.Mutex
}

func New(repo repository.Repository, log *zap.Logger, opts Options) *Engine {
	e := &Engine{
		repo:        repo,
		strategy:    opts.Strategy,
		fallbacks:   opts.FallbackContacts,
		checks:      opts.ExtraDestinationChecks,
		maxAttempts: opts.MaxConfirmAttempts,
		metrics:     opts.Metrics,
		log:         log,
		now:         opts.Now,
	}
	if e.strategy == nil {
		e.strategy = matcher.SingleFit{}
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultConfirmAttempts
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Fallback returns the static contact for unmatched deposits of method.
func (e *Engine) Fallback(method model.Method) string {
	return e.fallbacks[method]
}

type OutcomeKind string

const (
	OutcomeSettled   OutcomeKind = "settled"
	OutcomeUnmatched OutcomeKind = "unmatched"
)

// Applied is one withdrawal touched by a confirmation, as it stood right
// after the amount was applied.
type Applied struct {
	Withdrawal model.WithdrawalRequest `json:"withdrawal"`
	Amount     decimal.Decimal         `json:"amount"`
}

// Outcome is the result of a successful confirmation. Unmatched is a
// success too: the deposit is consumed and Fallback says where the money
// should be routed by hand.
type Outcome struct {
	Kind      OutcomeKind         `json:"kind"`
	Deposit   model.DepositRecord `json:"deposit"`
	Applied   []Applied           `json:"applied,omitempty"`
	Remainder decimal.Decimal     `json:"remainder"`
	Fallback  string              `json:"fallback,omitempty"`
}

// ConfirmDeposit marks a pending deposit confirmed and settles it against
// whatever the matching strategy picks, all in one transaction.
func (e *Engine) ConfirmDeposit(ctx context.Context, caller Caller, depositID int64) (*Outcome, error) {
	if !caller.Privileged {
		return nil, model.ErrUnauthorized
	}

	e.confirmMu.Lock()
	defer e.confirmMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		out, err := e.confirmOnce(ctx, depositID)
		if err == nil {
			e.recordOutcome(out)
			return out, nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return nil, err
		}
		lastErr = err
		e.metrics.Conflict()
		e.log.Warn("confirmation conflict, retrying",
			zap.Int64("deposit_id", depositID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, fmt.Errorf("confirm deposit %d: gave up after %d attempts: %w", depositID, e.maxAttempts, lastErr)
}

func (e *Engine) confirmOnce(ctx context.Context, depositID int64) (*Outcome, error) {
	var out *Outcome
	err := e.repo.WithinTx(ctx, func(tx repository.Repository) error {
		dep, err := tx.GetDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if dep.Status != model.DepositPending {
			return fmt.Errorf("deposit %d: %w", depositID, model.ErrAlreadyConfirmed)
		}

		candidates, err := tx.FindWithdrawals(ctx, model.WithdrawalFilter{Method: dep.Method, OpenOnly: true})
		if err != nil {
			return err
		}
		plan := e.strategy.Plan(candidates, dep.Method, dep.Amount)
		now := e.now()

		result := &Outcome{Kind: OutcomeUnmatched, Remainder: plan.Remainder}
		for _, alloc := range plan.Allocations {
			alloc := alloc
			w, err := tx.UpdateWithdrawal(ctx, alloc.WithdrawalID, func(w *model.WithdrawalRequest) error {
				if w.Version != alloc.Version || w.RemainingAmount.LessThan(alloc.Amount) {
					return fmt.Errorf("withdrawal %d changed since selection: %w", w.ID, model.ErrConflict)
				}
				w.RemainingAmount = w.RemainingAmount.Sub(alloc.Amount)
				return nil
			})
			if err != nil {
				return err
			}

			if _, err := tx.AppendSettlement(ctx, &model.Settlement{
				DepositID:    dep.ID,
				WithdrawalID: w.ID,
				Amount:       alloc.Amount,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
			result.Applied = append(result.Applied, Applied{Withdrawal: *w, Amount: alloc.Amount})
		}

		var matchedID int64
		if plan.Matched() {
			matchedID = plan.Allocations[0].WithdrawalID
			result.Kind = OutcomeSettled
		} else {
			result.Fallback = e.Fallback(dep.Method)
		}

		confirmed, err := tx.UpdateDeposit(ctx, depositID, func(d *model.DepositRecord) error {
			if d.Status != model.DepositPending {
				return model.ErrAlreadyConfirmed
			}
			d.Status = model.DepositConfirmed
			d.MatchedWithdrawalID = matchedID
			d.ConfirmedAt = &now
			return nil
		})
		if err != nil {
			return err
		}
		result.Deposit = *confirmed
		out = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) recordOutcome(out *Outcome) {
	e.metrics.Confirmation(string(out.Kind))
	for _, a := range out.Applied {
		e.metrics.Settled(string(a.Withdrawal.Method), a.Amount.InexactFloat64())
		e.log.Info("deposit settled",
			zap.Int64("deposit_id", out.Deposit.ID),
			zap.Int64("withdrawal_id", a.Withdrawal.ID),
			zap.String("applied", a.Amount.StringFixed(2)),
			zap.String("remaining", a.Withdrawal.RemainingAmount.StringFixed(2)),
			zap.String("status", string(a.Withdrawal.Status)))
	}
	if out.Kind == OutcomeUnmatched {
		e.log.Info("deposit confirmed without a match",
			zap.Int64("deposit_id", out.Deposit.ID),
			zap.String("method", string(out.Deposit.Method)),
			zap.String("amount", out.Deposit.Amount.StringFixed(2)))
	}
}

// Preview is an advisory look at what confirming a deposit would do right
// now. Confirmation re-runs selection and may pick differently.
type Preview struct {
	Deposit  model.DepositRecord       `json:"deposit"`
	Plan     matcher.Plan              `json:"plan"`
	Targets  []model.WithdrawalRequest `json:"targets,omitempty"`
	Fallback string                    `json:"fallback,omitempty"`
	Strategy string                    `json:"strategy"`
}

// PreviewMatch runs the same selection confirmation would, without writing.
func (e *Engine) PreviewMatch(ctx context.Context, depositID int64) (*Preview, error) {
	dep, err := e.repo.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if dep.Status != model.DepositPending {
		return nil, fmt.Errorf("deposit %d: %w", depositID, model.ErrAlreadyConfirmed)
	}
	return e.preview(ctx, dep)
}

func (e *Engine) preview(ctx context.Context, dep *model.DepositRecord) (*Preview, error) {
	candidates, err := e.repo.FindWithdrawals(ctx, model.WithdrawalFilter{Method: dep.Method, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	plan := e.strategy.Plan(candidates, dep.Method, dep.Amount)

	p := &Preview{Deposit: *dep, Plan: plan, Strategy: e.strategy.Name()}
	byID := make(map[int64]model.WithdrawalRequest, len(candidates))
	for _, w := range candidates {
		byID[w.ID] = w
	}
	for _, a := range plan.Allocations {
		p.Targets = append(p.Targets, byID[a.WithdrawalID])
	}
	if !plan.Matched() {
		p.Fallback = e.Fallback(dep.Method)
	}
	return p, nil
}
