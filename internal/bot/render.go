package bot

import (
	"errors"
	"fmt"
	"strings"

	"cashqueue/internal/model"
	"cashqueue/internal/settlement"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const helpText = `Cash queue commands:
/queue <payee> <method> <destination> <amount> - queue a withdrawal (cashiers)
/deposit <name> <method> <amount> - record a deposit
/preview <deposit_id> - show where a deposit would go
/confirm <deposit_id> - confirm and settle a deposit (cashiers)
/add <amount> [withdrawal_id] - raise a withdrawal (cashiers)
/subtract <amount> [withdrawal_id] - lower a withdrawal (cashiers)
/filled - mark the oldest withdrawal filled (cashiers)
/complete - drop the oldest deposit (cashiers)
/delete <withdrawal_id> - delete a withdrawal (cashiers)
/withdrawals [method] - open withdrawals
/deposits - pending deposits
/summary - queue totals per method
Methods: venmo, zelle, cashapp, crypto`

func usage(s string) string {
	return "Usage: " + s
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func (b *Bot) errText(cmd Command, err error) string {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return "❌ Only admins/cashiers can use this."
	case errors.Is(err, model.ErrInvalidMethod):
		return "❌ Invalid method. Use Venmo, Zelle, CashApp, or Crypto."
	case errors.Is(err, model.ErrInvalidDestination),
		errors.Is(err, model.ErrInvalidAmount):
		return "❌ " + err.Error()
	case errors.Is(err, model.ErrAlreadyConfirmed):
		return "⚠️ That deposit is already confirmed."
	case errors.Is(err, model.ErrEmptyQueue):
		return "⚠️ Nothing in the queue."
	case errors.Is(err, model.ErrNotFound):
		return "⚠️ Not found."
	case errors.Is(err, model.ErrConflict):
		return "⚠️ The queue was busy, try again."
	}
	b.log.Error("command failed",
		zap.String("command", cmd.Name),
		zap.Int64("chat_id", cmd.ChatID),
		zap.Error(err))
	return "⚠️ Something went wrong. Contact admin."
}

func renderQueued(w *model.WithdrawalRequest) string {
	return fmt.Sprintf("✅ Withdrawal #%d queued:\nUser: %s\nMethod: %s\nDestination: %s\nAmount: %s",
		w.ID, w.PayeeName, w.Method, w.Destination, money(w.OriginalAmount))
}

func renderWithdrawalLine(w *model.WithdrawalRequest) string {
	return fmt.Sprintf("#%d %s via %s (%s) %s of %s [%s]",
		w.ID, w.PayeeName, w.Method, w.Destination, money(w.RemainingAmount), money(w.OriginalAmount), w.Status)
}

func renderDepositLine(d *model.DepositRecord) string {
	return fmt.Sprintf("#%d %s via %s %s [%s]", d.ID, d.DepositorName, d.Method, money(d.Amount), d.Status)
}

func renderAdjusted(w *model.WithdrawalRequest) string {
	return "✏️ Updated " + renderWithdrawalLine(w)
}

func renderPreview(p *settlement.Preview) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Deposit #%d (%s via %s):\n", p.Deposit.ID, money(p.Deposit.Amount), p.Deposit.Method)
	if !p.Plan.Matched() {
		sb.WriteString("⚠️ No matching withdrawal right now.")
		if p.Fallback != "" {
			sb.WriteString(" Send to " + p.Fallback + ".")
		}
		return sb.String()
	}
	for i, a := range p.Plan.Allocations {
		w := p.Targets[i]
		fmt.Fprintf(&sb, "💰 Send %s to %s via %s (%s)\n", money(a.Amount), w.PayeeName, w.Method, w.Destination)
	}
	if p.Plan.Remainder.IsPositive() {
		fmt.Fprintf(&sb, "⚠️ %s would remain unmatched.\n", money(p.Plan.Remainder))
	}
	sb.WriteString("Not reserved until a cashier confirms.")
	return sb.String()
}

func renderReceipt(r *settlement.DepositReceipt) string {
	head := fmt.Sprintf("📥 Deposit #%d recorded: %s via %s %s.",
		r.Deposit.ID, r.Deposit.DepositorName, r.Deposit.Method, money(r.Deposit.Amount))
	if r.Preview == nil {
		return head
	}
	return head + "\n" + renderPreview(r.Preview)
}

func renderOutcome(out *settlement.Outcome) string {
	if out.Kind == settlement.OutcomeUnmatched {
		s := "⚠️ No matching withdrawals found. Contact admin."
		if out.Fallback != "" {
			s += "\nSend " + money(out.Deposit.Amount) + " to " + out.Fallback + "."
		}
		return s
	}

	var lines []string
	for _, a := range out.Applied {
		w := a.Withdrawal
		if w.RemainingAmount.IsZero() {
			lines = append(lines, fmt.Sprintf("💰 Send %s to %s via %s (%s)",
				money(a.Amount), w.PayeeName, w.Method, w.Destination))
			continue
		}
		lines = append(lines, fmt.Sprintf("💰 Partial match: Send %s to %s via %s (%s)\nRemaining withdrawal for %s: %s",
			money(a.Amount), w.PayeeName, w.Method, w.Destination, w.PayeeName, money(w.RemainingAmount)))
	}
	if out.Remainder.IsPositive() {
		lines = append(lines, fmt.Sprintf("⚠️ %s of the deposit remains unmatched.", money(out.Remainder)))
	}
	return strings.Join(lines, "\n")
}

func renderPayeeNotice(a settlement.Applied) string {
	w := a.Withdrawal
	s := fmt.Sprintf("🔔 %s is on its way to %s via %s (withdrawal #%d).", money(a.Amount), w.PayeeName, w.Method, w.ID)
	if w.RemainingAmount.IsPositive() {
		s += " Still owed: " + money(w.RemainingAmount) + "."
	}
	return s
}

func renderWithdrawals(ws []model.WithdrawalRequest) string {
	if len(ws) == 0 {
		return "No open withdrawals."
	}
	lines := make([]string, 0, len(ws)+1)
	lines = append(lines, "Open withdrawals:")
	for i := range ws {
		lines = append(lines, renderWithdrawalLine(&ws[i]))
	}
	return strings.Join(lines, "\n")
}

func renderDeposits(ds []model.DepositRecord) string {
	if len(ds) == 0 {
		return "No pending deposits."
	}
	lines := make([]string, 0, len(ds)+1)
	lines = append(lines, "Pending deposits:")
	for i := range ds {
		lines = append(lines, renderDepositLine(&ds[i]))
	}
	return strings.Join(lines, "\n")
}

func renderSummary(sum *settlement.Summary) string {
	lines := []string{"Queue summary:"}
	for _, m := range sum.Methods {
		lines = append(lines, fmt.Sprintf("%s: %d open (%s owed), %d pending (%s)",
			m.Method, m.OpenWithdrawals, money(m.Outstanding), m.PendingDeposits, money(m.PendingAmount)))
	}
	lines = append(lines, fmt.Sprintf("Total owed %s, pending %s", money(sum.Outstanding), money(sum.Pending)))
	return strings.Join(lines, "\n")
}
