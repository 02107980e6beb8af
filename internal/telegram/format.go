package telegram

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/cuongpo/Aura-Farming-Core/internal/quest"
	"github.com/cuongpo/Aura-Farming-Core/internal/ranking"
	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
	"github.com/cuongpo/Aura-Farming-Core/internal/wallet"
)

const helpText = "<b>🌟 Aura Farming</b>\n\n" +
	"Chat in groups to climb the weekly leaderboard and finish your daily quest.\n\n" +
	"<b>Activity</b>\n" +
	"/leaderboard - weekly top chatters of this group\n" +
	"/ranking - your position this week\n" +
	"/stats - group statistics\n\n" +
	"<b>Quests</b>\n" +
	"/quest - today's quest and chest\n" +
	"/openchest - open today's chest\n" +
	"/claim - claim your chest reward\n" +
	"/questhistory - the last 7 days\n\n" +
	"<b>Wallet</b>\n" +
	"/wallet - your address and balances\n" +
	"/transfer &lt;token&gt; &lt;0xaddress&gt; &lt;amount&gt; - send tokens"

func medal(rank int) string {
	switch rank {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return fmt.Sprintf("%d.", rank)
	}
}

func formatLeaderboard(title, weekStart string, rows []storage.LeaderboardRow) string {
	if len(rows) == 0 {
		return "📊 No activity recorded this week yet. Start chatting!"
	}

	lines := []string{
		fmt.Sprintf("🏆 <b>Weekly leaderboard</b> · %s", html.EscapeString(title)),
		fmt.Sprintf("<i>Week of %s</i>", weekStart),
		"",
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s %s · <b>%d</b> msgs", medal(r.Rank), html.EscapeString(r.DisplayName()), r.Total))
	}
	return strings.Join(lines, "\n")
}

func formatRank(r *ranking.UserRank) string {
	return fmt.Sprintf(
		"📈 <b>Your ranking this week</b>\n\n"+
			"Position: %s of %d\n"+
			"Messages: <b>%d</b>\n"+
			"Top <b>%.0f%%</b>",
		medal(r.Rank), r.Participants, r.Total, r.Percentile(),
	)
}

func formatStats(title string, st *storage.ChatStats) string {
	return fmt.Sprintf(
		"📊 <b>%s</b>\n\n"+
			"Members active: <b>%d</b>\n"+
			"Messages: <b>%d</b>\n"+
			"Active days: <b>%d</b>\n"+
			"Average per member: <b>%.1f</b>",
		html.EscapeString(title), st.TotalUsers, st.TotalMessages, st.ActiveDays, st.AvgPerUser,
	)
}

func formatWallet(h *wallet.Handle, balances []wallet.Balance) string {
	lines := []string{
		"👛 <b>Your wallet</b>",
		"",
		fmt.Sprintf("<code>%s</code>", h.Address.Hex()),
		fmt.Sprintf("Type: %s", h.Type()),
	}
	if h.PredictedAddress != nil {
		state := "not deployed"
		if h.IsDeployed {
			state = "deployed"
		}
		lines = append(lines, fmt.Sprintf("Smart account: <code>%s</code> (%s)", h.PredictedAddress.Hex(), state))
	}

	lines = append(lines, "", "<b>Balances</b>")
	for _, b := range balances {
		if b.Err != nil {
			lines = append(lines, fmt.Sprintf("• %s: unavailable", b.Token.Symbol))
			continue
		}
		lines = append(lines, fmt.Sprintf("• %s: <b>%s</b>", b.Token.Symbol, b.Amount))
	}
	return strings.Join(lines, "\n")
}

func formatQuest(st *quest.Status) string {
	lines := []string{fmt.Sprintf("🎯 <b>Daily quest</b> · %s", st.Date), ""}

	if st.Quest.Completed {
		lines = append(lines, "✅ Send a message in any group")
	} else {
		lines = append(lines, "⬜ Send a message in any group")
	}
	lines = append(lines, fmt.Sprintf("Messages today: <b>%d</b>", st.Messages), "")

	c := st.Chest
	switch {
	case c == nil || !c.Eligible:
		lines = append(lines, "🔒 Chest locked")
	case !c.Opened:
		lines = append(lines, "🎁 Chest ready to open")
	case c.Reward == 0:
		lines = append(lines, "📭 Chest was empty today")
	case c.Claimed():
		lines = append(lines, fmt.Sprintf("💎 Claimed %d AURA", c.Reward))
	default:
		lines = append(lines, fmt.Sprintf("💰 %d AURA waiting to be claimed", c.Reward))
	}
	return strings.Join(lines, "\n")
}

func formatHistory(history []storage.QuestHistoryEntry, stats *storage.QuestStats) string {
	lines := []string{"📅 <b>Quest history</b>", ""}
	if len(history) == 0 {
		lines = append(lines, "No quests yet.")
	}
	for _, h := range history {
		mark := "⬜"
		if h.Completed {
			mark = "✅"
		}
		chest := ""
		switch {
		case h.TxHash != "":
			chest = fmt.Sprintf(" · 💎 %d claimed", h.Reward)
		case h.Opened:
			chest = fmt.Sprintf(" · 🎁 %d", h.Reward)
		case h.Eligible:
			chest = " · chest unopened"
		}
		lines = append(lines, fmt.Sprintf("%s %s%s", mark, h.Date, chest))
	}

	if stats != nil {
		lines = append(lines, "",
			fmt.Sprintf("Completed: <b>%d/%d</b>", stats.CompletedQuests, stats.TotalQuests),
			fmt.Sprintf("Earned: <b>%d</b> · Claimed: <b>%d</b>", stats.TotalEarned, stats.TotalClaimed),
		)
	}
	return strings.Join(lines, "\n")
}

func formatTransferPrompt(p *PendingTransfer, from string) string {
	return fmt.Sprintf(
		"📤 <b>Confirm transfer</b>\n\n"+
			"Amount: <b>%s %s</b>\n"+
			"From: <code>%s</code>\n"+
			"To: <code>%s</code>\n\n"+
			"<i>Expires in %d minutes.</i>",
		p.Request.Amount, p.Request.Token, from, p.Request.ToAddress, int(PendingTTL.Minutes()),
	)
}

// userMessage maps an error to a reply; unknown errors become a generic one
func userMessage(err error) string {
	var te *transfer.Error
	switch {
	case errors.As(err, &te):
		return "❌ " + html.EscapeString(te.UserMessage())
	case errors.Is(err, storage.ErrNotEligible):
		return "🔒 Complete today's quest first: send a message in any group."
	case errors.Is(err, storage.ErrAlreadyOpened):
		return "🎁 You already opened today's chest."
	case errors.Is(err, storage.ErrAlreadyClaimed):
		return "💎 Today's reward was already claimed."
	case errors.Is(err, storage.ErrClaimInProgress):
		return "⏳ Your claim is already being processed."
	case errors.Is(err, storage.ErrNotClaimable):
		return "🎁 Open today's chest before claiming."
	case errors.Is(err, quest.ErrNothingToClaim):
		return "📭 Today's chest was empty. Come back tomorrow!"
	case errors.Is(err, errTipUsage), errors.Is(err, errTransferUsage):
		return html.EscapeString(err.Error())
	default:
		return "⚠️ Something went wrong. Please try again later."
	}
}

// isUserError reports whether err is caused by the request rather than by the
// system
func isUserError(err error) bool {
	switch transfer.KindOf(err) {
	case transfer.InvalidInput, transfer.InsufficientBalance, transfer.SelfTransfer:
		return true
	}
	for _, target := range []error{
		storage.ErrNotEligible, storage.ErrAlreadyOpened, storage.ErrAlreadyClaimed,
		storage.ErrClaimInProgress, storage.ErrNotClaimable, quest.ErrNothingToClaim,
		errTipUsage, errTransferUsage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
