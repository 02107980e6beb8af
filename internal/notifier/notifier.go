package notifier

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cuongpo/Aura-Farming-Core/internal/quest"
	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
)

// Sender delivers an HTML message to a telegram user
type Sender interface {
	SendNotification(ctx context.Context, userID int64, text string) error
}

// Notifier sends direct messages about wallet and quest events
type Notifier struct {
	sender   Sender
	explorer string
	log      *slog.Logger
}

func New(sender Sender, explorerURL string, log *slog.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		explorer: strings.TrimRight(explorerURL, "/"),
		log:      log,
	}
}

// TipReceived tells the recipient about a tip
func (n *Notifier) TipReceived(ctx context.Context, recipient int64, from string, r *transfer.Receipt, message string) {
	lines := []string{
		"<b>🎉 You received a tip!</b>",
		"",
		fmt.Sprintf("%s %s from %s", FormatAmount(r.Amount), r.Token.Symbol, html.EscapeString(from)),
	}
	if message != "" {
		lines = append(lines, "", fmt.Sprintf("💬 <i>%s</i>", html.EscapeString(message)))
	}
	lines = append(lines, "", n.TxLink(r.TxHash))

	n.send(ctx, recipient, "tip", strings.Join(lines, "\n"))
}

// TransferSent confirms an outgoing transfer to its sender
func (n *Notifier) TransferSent(ctx context.Context, userID int64, r *transfer.Receipt) {
	text := strings.Join([]string{
		"<b>✅ Transfer confirmed</b>",
		"",
		fmt.Sprintf("-%s %s 🟥", FormatAmount(r.Amount), r.Token.Symbol),
		fmt.Sprintf("%s → %s", n.AddressLink(r.From.Hex()), n.AddressLink(r.To.Hex())),
		"",
		n.TxLink(r.TxHash),
	}, "\n")

	n.send(ctx, userID, "transfer", text)
}

// QuestCompleted tells the user the daily chest is ready
func (n *Notifier) QuestCompleted(ctx context.Context, userID int64) {
	n.send(ctx, userID, "quest",
		"<b>✨ Daily quest complete!</b>\n\nYour chest is ready. Use /openchest to open it.")
}

// ChestClaimed confirms a chest payout
func (n *Notifier) ChestClaimed(ctx context.Context, userID int64, c *quest.Claim, symbol string) {
	text := strings.Join([]string{
		"<b>💎 Chest reward claimed</b>",
		"",
		fmt.Sprintf("+%d %s 🟩", c.Reward, symbol),
		"",
		n.TxLink(c.TxHash),
	}, "\n")

	n.send(ctx, userID, "chest", text)
}

func (n *Notifier) send(ctx context.Context, userID int64, kind, text string) {
	if err := n.sender.SendNotification(ctx, userID, text); err != nil {
		// Users who never opened a private chat with the bot cannot be messaged
		n.log.Debug("send notification", "kind", kind, "user_id", userID, "error", err)
	}
}

// TxURL returns the explorer page of a transaction
func (n *Notifier) TxURL(hash string) string {
	return n.explorer + "/tx/" + hash
}

// AddressURL returns the explorer page of an address
func (n *Notifier) AddressURL(addr string) string {
	return n.explorer + "/address/" + addr
}

// TxLink renders a short transaction link
func (n *Notifier) TxLink(hash string) string {
	return fmt.Sprintf("<a href='%s'>🔗 %s</a>", n.TxURL(hash), ShortHash(hash, 6))
}

// AddressLink renders a short address link
func (n *Notifier) AddressLink(addr string) string {
	return fmt.Sprintf("<a href='%s'>%s</a>", n.AddressURL(addr), ShortHash(addr, 4))
}

// ShortHash keeps n characters on both sides of a hex string
func ShortHash(s string, n int) string {
	body := strings.TrimPrefix(s, "0x")
	if len(body) <= 2*n {
		return s
	}
	prefix := ""
	if strings.HasPrefix(s, "0x") {
		prefix = "0x"
	}
	return prefix + body[:n] + "…" + body[len(body)-n:]
}

// FormatAmount renders a token amount with K/M/B suffixes above a thousand
func FormatAmount(d decimal.Decimal) string {
	abs := d.Abs()
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1_000_000_000)):
		return d.Div(decimal.NewFromInt(1_000_000_000)).StringFixed(2) + "B"
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1_000_000)):
		return d.Div(decimal.NewFromInt(1_000_000)).StringFixed(2) + "M"
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1_000)):
		return d.Div(decimal.NewFromInt(1_000)).StringFixed(2) + "K"
	default:
		return d.String()
	}
}
