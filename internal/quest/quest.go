package quest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cuongpo/Aura-Farming-Core/internal/ranking"
	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
)

const (
	// MaxReward is the largest chest reward
	MaxReward = 5
	// RequiredMessages completes the daily quest
	RequiredMessages = 1
	// HistoryDays is the default history window
	HistoryDays = 7
	// ClaimLeaseTTL is how long a claim lease blocks other claims
	ClaimLeaseTTL = 10 * time.Minute
)

// ErrNothingToClaim is returned when the opened chest holds no reward
var ErrNothingToClaim = errors.New("nothing to claim")

// Store is the quest persistence
type Store interface {
	RecordQuestActivity(ctx context.Context, identity, chatID, date string) error
	QuestMessageCount(ctx context.Context, identity, date string) (int, error)
	CompleteQuest(ctx context.Context, identity, date string, at time.Time) (bool, error)
	QuestState(ctx context.Context, identity, date string) (*storage.QuestState, error)
	ChestState(ctx context.Context, identity, date string) (*storage.ChestState, error)
	OpenChest(ctx context.Context, identity, date string, reward int, at time.Time) error
	BeginClaim(ctx context.Context, identity, date string, now time.Time, staleAfter time.Duration) (*storage.ChestState, error)
	FinishClaim(ctx context.Context, identity, date, txHash string, at time.Time) error
	ReleaseClaim(ctx context.Context, identity, date string) error
	QuestHistory(ctx context.Context, identity string, days int) ([]storage.QuestHistoryEntry, error)
	QuestStats(ctx context.Context, identity string) (*storage.QuestStats, error)
}

// Rewarder pays chest rewards on chain
type Rewarder interface {
	IssueChestReward(ctx context.Context, identity string, amount int, day string) (string, error)
}

// Status is an identity's quest and chest for one day
type Status struct {
	Date     string
	Quest    *storage.QuestState
	Chest    *storage.ChestState
	Messages int
}

// Claim is the outcome of a successful chest claim
type Claim struct {
	Date   string
	Reward int
	TxHash string
}

type Option func(*Engine)

// WithDraw replaces the chest RNG. The returned value is clamped to
// [0, MaxReward]
func WithDraw(draw func() int) Option {
	return func(e *Engine) { e.draw = draw }
}

// Engine drives the daily quest and chest state machine
type Engine struct {
	store    Store
	rewarder Rewarder
	clock    clockwork.Clock
	loc      *time.Location
	draw     func() int
	log      *slog.Logger
}

// New creates a new quest engine
func New(store Store, rewarder Rewarder, clock clockwork.Clock, loc *time.Location, log *slog.Logger, opts ...Option) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		store:    store,
		rewarder: rewarder,
		clock:    clock,
		loc:      loc,
		draw:     func() int { return rand.IntN(MaxReward + 1) },
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today returns the current quest date
func (e *Engine) Today() string {
	return ranking.Day(e.clock.Now().In(e.loc))
}

// RecordActivity counts one group message of identity and completes the
// daily quest when it qualifies. It reports whether this call completed it
func (e *Engine) RecordActivity(ctx context.Context, identity, chatID string) (bool, error) {
	date := e.Today()
	if err := e.store.RecordQuestActivity(ctx, identity, chatID, date); err != nil {
		return false, fmt.Errorf("record quest activity: %w", err)
	}
	return e.checkCompletion(ctx, identity, date)
}

// CheckCompletion completes today's quest if enough messages were sent
func (e *Engine) CheckCompletion(ctx context.Context, identity string) (bool, error) {
	return e.checkCompletion(ctx, identity, e.Today())
}

func (e *Engine) checkCompletion(ctx context.Context, identity, date string) (bool, error) {
	count, err := e.store.QuestMessageCount(ctx, identity, date)
	if err != nil {
		return false, fmt.Errorf("count quest messages: %w", err)
	}
	if count < RequiredMessages {
		return false, nil
	}

	completed, err := e.store.CompleteQuest(ctx, identity, date, e.clock.Now())
	if err != nil {
		return false, fmt.Errorf("complete quest: %w", err)
	}
	if completed {
		e.log.Info("daily quest completed", "identity", identity, "date", date)
	}
	return completed, nil
}

// Status returns today's quest, chest and message count. Chest is nil until
// the quest is completed
func (e *Engine) Status(ctx context.Context, identity string) (*Status, error) {
	date := e.Today()

	q, err := e.store.QuestState(ctx, identity, date)
	if err != nil {
		return nil, fmt.Errorf("quest state: %w", err)
	}
	count, err := e.store.QuestMessageCount(ctx, identity, date)
	if err != nil {
		return nil, fmt.Errorf("count quest messages: %w", err)
	}

	st := &Status{Date: date, Quest: q, Messages: count}
	c, err := e.store.ChestState(ctx, identity, date)
	switch {
	case err == nil:
		st.Chest = c
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("chest state: %w", err)
	}

	return st, nil
}

// OpenChest draws today's reward. Only the first call for a day succeeds;
// later calls return storage.ErrAlreadyOpened and leave the reward as is
func (e *Engine) OpenChest(ctx context.Context, identity string) (int, error) {
	date := e.Today()
	reward := min(max(e.draw(), 0), MaxReward)

	if err := e.store.OpenChest(ctx, identity, date, reward, e.clock.Now()); err != nil {
		return 0, err
	}

	e.log.Info("chest opened", "identity", identity, "date", date, "reward", reward)
	return reward, nil
}

// Claim pays today's opened chest to the identity's wallet. A failed payout
// leaves the chest claimable
func (e *Engine) Claim(ctx context.Context, identity string) (*Claim, error) {
	date := e.Today()

	c, err := e.store.BeginClaim(ctx, identity, date, e.clock.Now(), ClaimLeaseTTL)
	if errors.Is(err, storage.ErrNotClaimable) {
		if cur, serr := e.store.ChestState(ctx, identity, date); serr == nil && cur.Opened && cur.Reward == 0 {
			return nil, ErrNothingToClaim
		}
	}
	if err != nil {
		return nil, err
	}

	txHash, err := e.rewarder.IssueChestReward(ctx, identity, c.Reward, date)
	if err != nil {
		if rerr := e.store.ReleaseClaim(context.WithoutCancel(ctx), identity, date); rerr != nil {
			e.log.Error("release chest claim", "identity", identity, "date", date, "error", rerr)
		}
		e.log.Warn("chest reward failed", "identity", identity, "date", date, "reward", c.Reward, "error", err)
		return nil, err
	}

	if err := e.store.FinishClaim(context.WithoutCancel(ctx), identity, date, txHash, e.clock.Now()); err != nil {
		e.log.Error("record chest claim", "identity", identity, "date", date, "tx_hash", txHash, "error", err)
		return nil, fmt.Errorf("record claim %s: %w", txHash, err)
	}

	e.log.Info("chest claimed", "identity", identity, "date", date, "reward", c.Reward, "tx_hash", txHash)
	return &Claim{Date: date, Reward: c.Reward, TxHash: txHash}, nil
}

// History returns the last days of quests, newest first
func (e *Engine) History(ctx context.Context, identity string, days int) ([]storage.QuestHistoryEntry, error) {
	if days <= 0 {
		days = HistoryDays
	}
	return e.store.QuestHistory(ctx, identity, days)
}

// Stats returns lifetime quest totals
func (e *Engine) Stats(ctx context.Context, identity string) (*storage.QuestStats, error) {
	return e.store.QuestStats(ctx, identity)
}
