package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/cuongpo/Aura-Farming-Core/internal/activity"
	"github.com/cuongpo/Aura-Farming-Core/internal/chain"
	"github.com/cuongpo/Aura-Farming-Core/internal/config"
	"github.com/cuongpo/Aura-Farming-Core/internal/notifier"
	"github.com/cuongpo/Aura-Farming-Core/internal/quest"
	"github.com/cuongpo/Aura-Farming-Core/internal/ranking"
	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
	"github.com/cuongpo/Aura-Farming-Core/internal/wallet"
)

const (
	leaderboardSize = 10
	tipHistorySize  = 10
	commandTimeout  = 3 * time.Minute
)

// Deps are the components the bot drives
type Deps struct {
	Store   *storage.Storage
	Wallets wallet.Directory
	Ledger  *transfer.Ledger
	Tokens  *chain.Registry
	Buffer  *activity.Buffer
	Ranking *ranking.Engine
	Quests  *quest.Engine
	Clock   clockwork.Clock
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot     *bot.Bot
	cfg     *config.Config
	deps    Deps
	notify  *notifier.Notifier
	pending *PendingStore
	limiter *Limiter
	log     *slog.Logger
}

type handlerFunc func(ctx context.Context, msg *models.Message, args string)

// New creates a new telegram bot
func New(cfg *config.Config, deps Deps, log *slog.Logger) (*Bot, error) {
	limiter, err := NewLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("create limiter: %w", err)
	}

	b := &Bot{
		cfg:     cfg,
		deps:    deps,
		pending: NewPendingStore(deps.Clock, PendingTTL),
		limiter: limiter,
		log:     log,
	}
	b.notify = notifier.New(b, cfg.ExplorerURL, log)

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
		bot.WithMiddlewares(b.track),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	b.bot = tgBot

	return b, nil
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// Notifier returns the notifier sending through this bot
func (b *Bot) Notifier() *notifier.Notifier {
	return b.notify
}

func (b *Bot) commands() map[string]handlerFunc {
	return map[string]handlerFunc{
		"start":        b.startHandler,
		"help":         b.helpHandler,
		"wallet":       b.walletHandler,
		"leaderboard":  b.leaderboardHandler,
		"ranking":      b.rankingHandler,
		"stats":        b.statsHandler,
		"tip":          b.tipHandler,
		"tiphistory":   b.tipHistoryHandler,
		"transfer":     b.transferHandler,
		"quest":        b.questHandler,
		"openchest":    b.openChestHandler,
		"claim":        b.claimHandler,
		"claimaura":    b.claimHandler,
		"questhistory": b.questHistoryHandler,
	}
}

// --- Middleware ---

type ctxKey int

const (
	userKey ctxKey = iota
	groupKey
)

// track refreshes user and group metadata on every update and binds the
// derived wallet the first time a user is seen
func (b *Bot) track(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
		var from *models.User
		var chat *models.Chat
		switch {
		case update.Message != nil:
			from, chat = update.Message.From, &update.Message.Chat
		case update.CallbackQuery != nil:
			from = &update.CallbackQuery.From
		}

		if from != nil && !from.IsBot {
			if u := b.trackUser(ctx, from); u != nil {
				ctx = context.WithValue(ctx, userKey, u)
			}
		}
		if chat != nil && isGroup(chat) {
			g, err := b.deps.Store.UpsertGroup(ctx, chatID(chat.ID), chat.Title, string(chat.Type))
			if err != nil {
				b.log.Error("upsert group", "chat_id", chat.ID, "error", err)
			} else {
				ctx = context.WithValue(ctx, groupKey, g)
			}
		}

		next(ctx, tgBot, update)
	}
}

func (b *Bot) trackUser(ctx context.Context, from *models.User) *storage.User {
	identity := identityOf(from.ID)
	u, err := b.deps.Store.UpsertUser(ctx, identity, from.Username, from.FirstName, from.LastName)
	if err != nil {
		b.log.Error("upsert user", "user_id", from.ID, "error", err)
		return nil
	}
	if u.WalletAddress != "" {
		return u
	}

	h, err := b.deps.Wallets.Resolve(ctx, identity)
	if err != nil {
		b.log.Error("resolve wallet", "user_id", from.ID, "error", err)
		return u
	}
	if err := b.deps.Store.BindWallet(ctx, identity, h.Address.Hex()); err != nil {
		b.log.Error("bind wallet", "wallet", h, "error", err)
		return u
	}
	u.WalletAddress = h.Address.Hex()
	b.log.Info("wallet bound", "wallet", h)
	return u
}

func userFrom(ctx context.Context) *storage.User {
	u, _ := ctx.Value(userKey).(*storage.User)
	return u
}

func groupFrom(ctx context.Context) *storage.Group {
	g, _ := ctx.Value(groupKey).(*storage.Group)
	return g
}

// --- Dispatch ---

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}

	if cmd, args, ok := parseCommand(msg.Text, b.cfg.BotUsername); ok {
		h, known := b.commands()[cmd]
		if !known {
			return
		}
		if !b.limiter.Allow(msg.From.ID) {
			b.log.Debug("rate limited", "user_id", msg.From.ID, "command", cmd)
			return
		}

		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		h(ctx, msg, args)
		return
	}

	if isGroup(&msg.Chat) && !msg.From.IsBot {
		b.recordActivity(ctx, msg)
	}
}

func (b *Bot) recordActivity(ctx context.Context, msg *models.Message) {
	u, g := userFrom(ctx), groupFrom(ctx)
	if u == nil || g == nil {
		return
	}

	b.deps.Buffer.Record(activity.Key{UserID: u.ID, GroupID: g.ID})

	completed, err := b.deps.Quests.RecordActivity(ctx, u.TelegramID, g.TelegramChatID)
	if err != nil {
		b.log.Warn("record quest activity", "user_id", msg.From.ID, "error", err)
		return
	}
	if completed {
		b.notify.QuestCompleted(ctx, msg.From.ID)
	}
}

// --- Commands ---

func (b *Bot) startHandler(ctx context.Context, msg *models.Message, _ string) {
	name := msg.From.FirstName
	if name == "" {
		name = msg.From.Username
	}
	text := fmt.Sprintf("<a href='tg://user?id=%d'>%s</a>, welcome!\n\n%s", msg.From.ID, html.EscapeString(name), helpText)
	b.sendMessage(ctx, msg.Chat.ID, text, MainKeyboard(b.cfg.WebAppURL))
}

func (b *Bot) helpHandler(ctx context.Context, msg *models.Message, _ string) {
	b.sendMessage(ctx, msg.Chat.ID, helpText, nil)
}

func (b *Bot) walletHandler(ctx context.Context, msg *models.Message, _ string) {
	h, err := b.deps.Wallets.Resolve(ctx, identityOf(msg.From.ID))
	if err != nil {
		b.reply(ctx, msg, "resolve wallet", err)
		return
	}

	balances := b.deps.Wallets.Balances(ctx, h.Address, b.deps.Tokens.All())
	b.sendMessage(ctx, msg.Chat.ID, formatWallet(h, balances), WalletKeyboard(b.notify.AddressURL(h.Address.Hex())))
}

func (b *Bot) leaderboardHandler(ctx context.Context, msg *models.Message, _ string) {
	if !isGroup(&msg.Chat) {
		b.sendMessage(ctx, msg.Chat.ID, "📊 Leaderboards live in groups. Add me to one!", nil)
		return
	}

	rows, err := b.deps.Ranking.Leaderboard(ctx, chatID(msg.Chat.ID), leaderboardSize)
	if err != nil {
		b.reply(ctx, msg, "leaderboard", err)
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, formatLeaderboard(msg.Chat.Title, b.deps.Ranking.CurrentWeek(), rows), nil)
}

func (b *Bot) rankingHandler(ctx context.Context, msg *models.Message, _ string) {
	if !isGroup(&msg.Chat) {
		b.sendMessage(ctx, msg.Chat.ID, "📈 Use /ranking inside a group to see your position there.", nil)
		return
	}

	r, err := b.deps.Ranking.UserRank(ctx, identityOf(msg.From.ID), chatID(msg.Chat.ID))
	if errors.Is(err, storage.ErrNotFound) {
		b.sendMessage(ctx, msg.Chat.ID, "📈 You have no messages this week yet.", nil)
		return
	}
	if err != nil {
		b.reply(ctx, msg, "user rank", err)
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, formatRank(r), nil)
}

func (b *Bot) statsHandler(ctx context.Context, msg *models.Message, _ string) {
	g := groupFrom(ctx)
	if g == nil {
		b.sendMessage(ctx, msg.Chat.ID, "📊 Statistics are available in groups only.", nil)
		return
	}

	// Commit buffered counts so the numbers include recent messages
	if err := b.deps.Buffer.Flush(ctx); err != nil {
		b.log.Warn("flush before stats", "error", err)
	}
	st, err := b.deps.Store.ChatStats(ctx, g.ID)
	if err != nil {
		b.reply(ctx, msg, "chat stats", err)
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, formatStats(msg.Chat.Title, st), nil)
}

func (b *Bot) tipHandler(ctx context.Context, msg *models.Message, args string) {
	if !b.cfg.IsAdmin(msg.From.ID) {
		b.sendMessage(ctx, msg.Chat.ID, "⛔ Only admins can send tips.", nil)
		return
	}

	replyTo := ""
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		replyTo = identityOf(msg.ReplyToMessage.From.ID)
	}
	t, err := parseTipArgs(args, replyTo)
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, userMessage(err), nil)
		return
	}
	if t.Amount.GreaterThan(decimal.NewFromFloat(b.cfg.MaxTipAmount)) {
		b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf("❌ Tips are limited to %v %s.", b.cfg.MaxTipAmount, b.cfg.TipToken), nil)
		return
	}

	recipient := t.UserID
	if t.Username != "" {
		u, err := b.deps.Store.UserByUsername(ctx, t.Username)
		if errors.Is(err, storage.ErrNotFound) {
			b.sendMessage(ctx, msg.Chat.ID, "❌ I have not seen that user yet. They need to interact with me first.", nil)
			return
		}
		if err != nil {
			b.reply(ctx, msg, "find tip recipient", err)
			return
		}
		recipient = u.TelegramID
	}

	meta := transfer.Meta{Kind: storage.KindTip, Message: t.Message}
	if g := groupFrom(ctx); g != nil {
		meta.GroupID = &g.ID
	}

	r, err := b.deps.Ledger.Send(ctx, transfer.Request{
		From:   identityOf(msg.From.ID),
		To:     recipient,
		Amount: t.Amount.String(),
		Token:  b.cfg.TipToken,
	}, meta)
	if err != nil {
		b.reply(ctx, msg, "send tip", err)
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf("🎉 Tipped %s %s!\n\n%s",
		notifier.FormatAmount(r.Amount), r.Token.Symbol, b.notify.TxLink(r.TxHash)), nil)

	if id, err := strconv.ParseInt(recipient, 10, 64); err == nil {
		from := msg.From.FirstName
		if msg.From.Username != "" {
			from = "@" + msg.From.Username
		}
		b.notify.TipReceived(ctx, id, from, r, t.Message)
	}
}

func (b *Bot) tipHistoryHandler(ctx context.Context, msg *models.Message, _ string) {
	if !b.cfg.IsAdmin(msg.From.ID) {
		b.sendMessage(ctx, msg.Chat.ID, "⛔ Only admins can view tip history.", nil)
		return
	}

	records, err := b.deps.Store.ListTransfers(ctx, storage.KindTip, tipHistorySize)
	if err != nil {
		b.reply(ctx, msg, "list tips", err)
		return
	}
	if len(records) == 0 {
		b.sendMessage(ctx, msg.Chat.ID, "📜 No tips sent yet.", nil)
		return
	}

	lines := []string{"📜 <b>Recent tips</b>", ""}
	for _, r := range records {
		status := "⏳"
		switch r.Status {
		case storage.StatusConfirmed:
			status = "✅"
		case storage.StatusFailed:
			status = "❌"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s → %s · %s",
			status, r.Amount, r.Token, notifier.ShortHash(r.ToAddress, 4), r.CreatedAt.Format("Jan 02 15:04")))
	}
	b.sendMessage(ctx, msg.Chat.ID, strings.Join(lines, "\n"), nil)
}

func (b *Bot) transferHandler(ctx context.Context, msg *models.Message, args string) {
	t, err := parseTransferArgs(args)
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, userMessage(err), nil)
		return
	}
	if _, ok := b.deps.Tokens.Lookup(t.Token); !ok {
		b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf("❌ Unsupported token %s.", t.Token), nil)
		return
	}

	identity := identityOf(msg.From.ID)
	h, err := b.deps.Wallets.Resolve(ctx, identity)
	if err != nil {
		b.reply(ctx, msg, "resolve wallet", err)
		return
	}

	p := &PendingTransfer{
		Request: transfer.Request{
			From:      identity,
			ToAddress: t.Address,
			Amount:    t.Amount.String(),
			Token:     t.Token,
		},
		ChatID: msg.Chat.ID,
	}
	b.pending.Set(msg.From.ID, p)
	b.sendMessage(ctx, msg.Chat.ID, formatTransferPrompt(p, h.Address.Hex()), ConfirmTransferKeyboard())
}

func (b *Bot) questHandler(ctx context.Context, msg *models.Message, _ string) {
	st, err := b.deps.Quests.Status(ctx, identityOf(msg.From.ID))
	if err != nil {
		b.reply(ctx, msg, "quest status", err)
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, formatQuest(st), QuestKeyboard(st.Chest))
}

func (b *Bot) openChestHandler(ctx context.Context, msg *models.Message, _ string) {
	b.sendMessage(ctx, msg.Chat.ID, b.openChest(ctx, msg.From.ID), nil)
}

func (b *Bot) claimHandler(ctx context.Context, msg *models.Message, _ string) {
	b.sendMessage(ctx, msg.Chat.ID, b.claim(ctx, msg.From.ID), nil)
}

func (b *Bot) questHistoryHandler(ctx context.Context, msg *models.Message, _ string) {
	identity := identityOf(msg.From.ID)
	history, err := b.deps.Quests.History(ctx, identity, quest.HistoryDays)
	if err != nil {
		b.reply(ctx, msg, "quest history", err)
		return
	}
	stats, err := b.deps.Quests.Stats(ctx, identity)
	if err != nil {
		b.log.Warn("quest stats", "user_id", msg.From.ID, "error", err)
	}
	b.sendMessage(ctx, msg.Chat.ID, formatHistory(history, stats), nil)
}

func (b *Bot) openChest(ctx context.Context, userID int64) string {
	reward, err := b.deps.Quests.OpenChest(ctx, identityOf(userID))
	if err != nil {
		b.logFailure("open chest", userID, err)
		return userMessage(err)
	}
	if reward == 0 {
		return "📭 The chest was empty today. Better luck tomorrow!"
	}
	return fmt.Sprintf("🎁 You found <b>%d AURA</b>! Use /claim to send it to your wallet.", reward)
}

func (b *Bot) claim(ctx context.Context, userID int64) string {
	c, err := b.deps.Quests.Claim(ctx, identityOf(userID))
	if err != nil {
		b.logFailure("claim chest", userID, err)
		return userMessage(err)
	}
	return fmt.Sprintf("💎 Claimed <b>%d AURA</b>!\n\n%s", c.Reward, b.notify.TxLink(c.TxHash))
}

// --- Callbacks ---

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	cb := update.CallbackQuery
	if cb == nil {
		return
	}

	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	if !b.limiter.Allow(cb.From.ID) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cb.Data {
	case cbTransferConfirm:
		b.handleTransferConfirm(ctx, cb)
	case cbTransferCancel:
		b.pending.Clear(cb.From.ID)
		b.editMessage(ctx, cb.Message, "❌ Transfer cancelled.", nil)
	case cbQuestOpen:
		b.editMessage(ctx, cb.Message, b.openChest(ctx, cb.From.ID), nil)
	case cbQuestClaim:
		b.editMessage(ctx, cb.Message, b.claim(ctx, cb.From.ID), nil)
	case cbQuestRefresh:
		st, err := b.deps.Quests.Status(ctx, identityOf(cb.From.ID))
		if err != nil {
			b.logFailure("quest status", cb.From.ID, err)
			return
		}
		b.editMessage(ctx, cb.Message, formatQuest(st), QuestKeyboard(st.Chest))
	default:
		b.log.Warn("unknown callback", "data", cb.Data, "user_id", cb.From.ID)
	}
}

func (b *Bot) handleTransferConfirm(ctx context.Context, cb *models.CallbackQuery) {
	p, ok := b.pending.Take(cb.From.ID)
	if !ok {
		b.editMessage(ctx, cb.Message, "⌛ This transfer expired. Send /transfer again.", nil)
		return
	}

	b.editMessage(ctx, cb.Message, "⏳ Sending transfer...", nil)

	r, err := b.deps.Ledger.Send(ctx, p.Request, transfer.Meta{Kind: storage.KindPeerTransfer})
	if err != nil {
		b.logFailure("transfer", cb.From.ID, err)
		b.editMessage(ctx, cb.Message, userMessage(err), nil)
		return
	}

	b.editMessage(ctx, cb.Message, fmt.Sprintf("✅ Sent %s %s to <code>%s</code>\n\n%s",
		notifier.FormatAmount(r.Amount), r.Token.Symbol, r.To.Hex(), b.notify.TxLink(r.TxHash)), nil)
}

// --- Helpers ---

func (b *Bot) reply(ctx context.Context, msg *models.Message, op string, err error) {
	b.logFailure(op, msg.From.ID, err)
	b.sendMessage(ctx, msg.Chat.ID, userMessage(err), nil)
}

// logFailure logs unexpected errors; user errors are logged at debug
func (b *Bot) logFailure(op string, userID int64, err error) {
	if isUserError(err) {
		b.log.Debug(op, "user_id", userID, "error", err)
		return
	}
	b.log.Error(op, "user_id", userID, "error", err)
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

// SendNotification sends a notification message to a user
func (b *Bot) SendNotification(ctx context.Context, userID int64, text string) error {
	disablePreview := true
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    userID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}

func identityOf(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func chatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func isGroup(chat *models.Chat) bool {
	switch string(chat.Type) {
	case "group", "supergroup":
		return true
	}
	return false
}
