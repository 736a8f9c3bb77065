// Package bot is the Telegram command surface. Chat ids are origin contexts;
// the sender's user id decides cashier rights.
package bot

import (
	"context"
	"strconv"
	"strings"

	"cashqueue/internal/model"
	"cashqueue/internal/settlement"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the part of *tgbotapi.BotAPI the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Command is one parsed slash command.
type Command struct {
	Name   string
	Args   []string
	ChatID int64
	UserID int64
}

// Reply is a message to deliver to a chat.
type Reply struct {
	ChatID int64
	Text   string
}

type Bot struct {
	sender  Sender
	engine  *settlement.Engine
	isStaff func(userID int64) bool
	log     *zap.Logger
}

func New(sender Sender, engine *settlement.Engine, isStaff func(int64) bool, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	if isStaff == nil {
		isStaff = func(int64) bool { return false }
	}
	return &Bot{
		sender:  sender,
		engine:  engine,
		isStaff: isStaff,
		log:     log.Named("bot"),
	}
}

// Run handles updates until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			cmd, ok := commandFrom(update)
			if !ok {
				continue
			}
			b.deliver(b.Dispatch(ctx, cmd))
		}
	}
}

func commandFrom(update tgbotapi.Update) (Command, bool) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.Chat == nil {
		return Command{}, false
	}
	cmd := Command{
		Name:   strings.ToLower(msg.Command()),
		Args:   strings.Fields(msg.CommandArguments()),
		ChatID: msg.Chat.ID,
	}
	if msg.From != nil {
		cmd.UserID = msg.From.ID
	}
	return cmd, true
}

func (b *Bot) deliver(replies []Reply) {
	for _, r := range replies {
		if _, err := b.sender.Send(tgbotapi.NewMessage(r.ChatID, r.Text)); err != nil {
			b.log.Warn("send failed", zap.Int64("chat_id", r.ChatID), zap.Error(err))
		}
	}
}

// NotifySettled tells every settled withdrawal's origin chat about the
// payout. Origins that are not chat ids are skipped.
func (b *Bot) NotifySettled(_ context.Context, out *settlement.Outcome) {
	b.deliver(settledNotices(out, 0))
}

func settledNotices(out *settlement.Outcome, skipChat int64) []Reply {
	var replies []Reply
	for _, a := range out.Applied {
		chatID, err := strconv.ParseInt(a.Withdrawal.OriginContext, 10, 64)
		if err != nil || chatID == skipChat {
			continue
		}
		replies = append(replies, Reply{ChatID: chatID, Text: renderPayeeNotice(a)})
	}
	return replies
}

func (b *Bot) caller(cmd Command) settlement.Caller {
	return settlement.Caller{
		Privileged:    b.isStaff(cmd.UserID),
		OriginContext: strconv.FormatInt(cmd.ChatID, 10),
	}
}

// Dispatch runs one command and returns what to send. It never touches the
// Telegram API itself.
func (b *Bot) Dispatch(ctx context.Context, cmd Command) []Reply {
	text, extra := b.run(ctx, cmd)
	replies := []Reply{{ChatID: cmd.ChatID, Text: text}}
	return append(replies, extra...)
}

func (b *Bot) run(ctx context.Context, cmd Command) (string, []Reply) {
	caller := b.caller(cmd)
	args := cmd.Args

	switch cmd.Name {
	case "start", "help":
		return helpText, nil

	case "queue":
		if len(args) < 4 {
			return usage("/queue <payee> <method> <destination> <amount>"), nil
		}
		w, err := b.engine.SubmitWithdrawal(ctx, caller, model.SubmitWithdrawalRequest{
			PayeeName:   args[0],
			Method:      args[1],
			Destination: strings.Join(args[2:len(args)-1], " "),
			Amount:      args[len(args)-1],
		})
		if err != nil {
			return b.errText(cmd, err), nil
		}
		return renderQueued(w), nil

	case "deposit":
		if len(args) != 3 {
			return usage("/deposit <name> <method> <amount>"), nil
		}
		receipt, err := b.engine.SubmitDeposit(ctx, caller, model.SubmitDepositRequest{
			DepositorName: args[0],
			Method:        args[1],
			Amount:        args[2],
		})
		if err != nil {
			return b.errText(cmd, err), nil
		}
		return renderReceipt(receipt), nil

	case "preview":
		id, ok := parseID(args)
		if !ok {
			return usage("/preview <deposit_id>"), nil
		}
		preview, err := b.engine.PreviewMatch(ctx, id)
		if err != nil {
			return b.errText(cmd, err), nil
		}
		return renderPreview(preview), nil

	case "confirm":
		id, ok := parseID(args)
		if !ok {
			return usage("/confirm <deposit_id>"), nil
		}
		out, err := b.engine.ConfirmDeposit(ctx, caller, id)
		if err != nil {
			return b.errText(cmd, err), nil
		}
		var notices []Reply
		if out.Kind == settlement.OutcomeSettled {
			notices = settledNotices(out, cmd.ChatID)
		}
		return renderOutcome(out), notices

	case "add", "subtract":
		req, ok := parseAdjust(args)
		if !ok {
			return usage("/" + cmd.Name + " <amount> [withdrawal_id]"), nil
		}
		apply := b.engine.ApplyAdd
		if cmd.Name == "subtract" {
			apply = b.engine.ApplySubtract
		}
		w, err := apply(ctx, caller, req)
		if err != nil {
			return b.errText(cmd, err), nil
		}
		return renderAdjusted(w), nil

	case "filled":
		w, err := b.engine.MarkOldestFilled(ctx, caller)
		if err != nil {
			return b.errText(cmd, err), nil
		}
		return "✅ Oldest withdrawal marked as filled: " + renderWithdrawalLine(w), nil

	case "complete":
		dep, err := b.engine.DequeueOldestDeposit(ctx, caller)
		if err != nil {
			return b.errText(cmd, err), nil
		}
		return "✅ Oldest deposit completed: " + renderDepositLine(dep), nil

	case "delete":
		id, ok := parseID(args)
		if !ok {
			return usage("/delete <withdrawal_id>"), nil
		}
		if err := b.engine.DeleteWithdrawal(ctx, caller, id); err != nil {
			return b.errText(cmd, err), nil
		}
		return "🗑 Withdrawal #" + strconv.FormatInt(id, 10) + " deleted.", nil

	case "withdrawals":
		f := model.WithdrawalFilter{OpenOnly: true}
		if len(args) > 0 {
			m, err := model.ParseMethod(args[0])
			if err != nil {
				return b.errText(cmd, err), nil
			}
			f.Method = m
		}
		ws, err := b.engine.ListWithdrawals(ctx, f)
		if err != nil {
			return b.errText(cmd, err), nil
		}
		return renderWithdrawals(ws), nil

	case "deposits":
		ds, err := b.engine.ListDeposits(ctx, model.DepositFilter{Status: model.DepositPending})
		if err != nil {
			return b.errText(cmd, err), nil
		}
		return renderDeposits(ds), nil

	case "summary":
		sum, err := b.engine.QueueSummary(ctx)
		if err != nil {
			return b.errText(cmd, err), nil
		}
		return renderSummary(sum), nil

	default:
		return "Unknown command. Try /help.", nil
	}
}

func parseID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	return id, err == nil && id > 0
}

func parseAdjust(args []string) (model.AdjustWithdrawalRequest, bool) {
	var req model.AdjustWithdrawalRequest
	switch len(args) {
	case 1:
	case 2:
		id, ok := parseID(args[1:])
		if !ok {
			return req, false
		}
		req.WithdrawalID = id
	default:
		return req, false
	}
	req.Amount = args[0]
	return req, true
}
