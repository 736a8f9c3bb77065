package settlement

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cashqueue/internal/model"

	"go.uber.org/zap"
)

var zellePhone = regexp.MustCompile(`^[0-9]{10}$`)

// ValidateDestination applies the per-method destination rules. Zelle takes a
// 10-digit phone number or an email address.
func (e *Engine) ValidateDestination(method model.Method, destination string) error {
	if method == model.MethodZelle {
		if !zellePhone.MatchString(destination) && !strings.Contains(destination, "@") {
			return fmt.Errorf("%w: zelle needs a 10-digit phone number or an email, got %q", model.ErrInvalidDestination, destination)
		}
	}
	if check, ok := e.checks[method]; ok {
		if err := check(destination); err != nil {
			return fmt.Errorf("%w: %v", model.ErrInvalidDestination, err)
		}
	}
	return nil
}

// SubmitWithdrawal validates and queues a withdrawal request. Nothing is
// written unless every field checks out.
func (e *Engine) SubmitWithdrawal(ctx context.Context, caller Caller, req model.SubmitWithdrawalRequest) (*model.WithdrawalRequest, error) {
	if !caller.Privileged {
		return nil, model.ErrUnauthorized
	}

	method, err := model.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	destination := strings.TrimSpace(req.Destination)
	if err := e.ValidateDestination(method, destination); err != nil {
		return nil, err
	}
	amount, err := model.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	now := e.now()
	w := &model.WithdrawalRequest{
		PayeeName:       strings.TrimSpace(req.PayeeName),
		Method:          method,
		Destination:     destination,
		OriginalAmount:  amount,
		RemainingAmount: amount,
		OriginContext:   caller.OriginContext,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	w.RecomputeStatus()

	if _, err := e.repo.CreateWithdrawal(ctx, w); err != nil {
		return nil, err
	}

	e.metrics.Submission("withdrawal", string(method))
	e.log.Info("withdrawal queued",
		zap.Int64("withdrawal_id", w.ID),
		zap.String("method", string(method)),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("origin", w.OriginContext))
	return w, nil
}

// DepositReceipt is a new pending deposit plus the advisory match preview to
// show the depositor.
type DepositReceipt struct {
	Deposit model.DepositRecord `json:"deposit"`
	Preview *Preview            `json:"preview"`
}

// SubmitDeposit records a pending deposit. Anyone may submit one; only a
// cashier can confirm it.
func (e *Engine) SubmitDeposit(ctx context.Context, caller Caller, req model.SubmitDepositRequest) (*DepositReceipt, error) {
	method, err := model.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	amount, err := model.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	dep := &model.DepositRecord{
		DepositorName: strings.TrimSpace(req.DepositorName),
		Method:        method,
		Amount:        amount,
		Status:        model.DepositPending,
		OriginContext: caller.OriginContext,
		CreatedAt:     e.now(),
	}
	if _, err := e.repo.CreateDeposit(ctx, dep); err != nil {
		return nil, err
	}

	e.metrics.Submission("deposit", string(method))
	e.log.Info("deposit recorded",
		zap.Int64("deposit_id", dep.ID),
		zap.String("method", string(method)),
		zap.String("amount", amount.StringFixed(2)))

	preview, err := e.preview(ctx, dep)
	if err != nil {
		// the deposit exists; a failed preview only costs the hint
		e.log.Warn("deposit preview failed", zap.Int64("deposit_id", dep.ID), zap.Error(err))
	}
	return &DepositReceipt{Deposit: *dep, Preview: preview}, nil
}
