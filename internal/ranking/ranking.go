package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
)

// DateLayout is the calendar date format used in storage
const DateLayout = "2006-01-02"

// ErrWeekClosed is returned when recomputing a week that has already ended
var ErrWeekClosed = errors.New("week closed")

// Store is the storage used by the ranking engine
type Store interface {
	GroupByChatID(ctx context.Context, chatID string) (*storage.Group, error)
	UserByTelegramID(ctx context.Context, telegramID string) (*storage.User, error)
	WeeklyTotals(ctx context.Context, groupID int64, weekStart string) (map[int64]int, error)
	WeeklyEntries(ctx context.Context, groupID int64, weekStart string) ([]storage.WeeklyEntry, error)
	SaveWeeklyEntries(ctx context.Context, groupID int64, weekStart string, entries []storage.WeeklyEntry) error
	Leaderboard(ctx context.Context, groupID int64, weekStart string, limit int) ([]storage.LeaderboardRow, error)
	UserWeeklyRank(ctx context.Context, userID, groupID int64, weekStart string) (*storage.LeaderboardRow, int, error)
}

// Flusher commits buffered activity before reads
type Flusher interface {
	Flush(ctx context.Context) error
}

// UserRank is a user's position in a group's weekly leaderboard
type UserRank struct {
	storage.LeaderboardRow
	Participants int
	WeekStart    string
}

// Percentile returns the "top X%" figure of the rank
func (r *UserRank) Percentile() float64 {
	if r.Participants == 0 {
		return 0
	}
	return float64(r.Rank) / float64(r.Participants) * 100
}

// Engine maintains weekly aggregates and dense rank positions
type Engine struct {
	store Store
	clock clockwork.Clock
	loc   *time.Location
	log   *slog.Logger

	mu      sync.Mutex
	flusher Flusher
}

// New creates a new ranking engine computing weeks in loc
func New(store Store, clock clockwork.Clock, loc *time.Location, log *slog.Logger) *Engine {
	return &Engine{store: store, clock: clock, loc: loc, log: log}
}

// SetFlusher makes leaderboard reads flush buffered activity first
func (e *Engine) SetFlusher(f Flusher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flusher = f
}

// Now returns the current time in the engine's location
func (e *Engine) Now() time.Time {
	return e.clock.Now().In(e.loc)
}

// CurrentWeek returns the week start of the current time
func (e *Engine) CurrentWeek() string {
	return WeekStart(e.Now())
}

// Recompute resums every aggregate of (group, week) from daily activity and
// assigns dense ranks 1..N ordered by total descending, then by earliest
// update. Rows whose total did not change keep their update time, so
// recomputing twice is a no-op
func (e *Engine) Recompute(ctx context.Context, groupID int64, weekStart string) error {
	if weekStart != e.CurrentWeek() {
		return ErrWeekClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	totals, err := e.store.WeeklyTotals(ctx, groupID, weekStart)
	if err != nil {
		return fmt.Errorf("weekly totals: %w", err)
	}
	entries, err := e.store.WeeklyEntries(ctx, groupID, weekStart)
	if err != nil {
		return fmt.Errorf("weekly entries: %w", err)
	}

	now := e.clock.Now()
	seen := make(map[int64]bool, len(entries))
	for i := range entries {
		seen[entries[i].UserID] = true
		if total, ok := totals[entries[i].UserID]; ok && total != entries[i].Total {
			entries[i].Total = total
			entries[i].UpdatedAt = now
		}
	}
	for userID, total := range totals {
		if !seen[userID] {
			entries = append(entries, storage.WeeklyEntry{
				UserID:    userID,
				GroupID:   groupID,
				WeekStart: weekStart,
				Total:     total,
				UpdatedAt: now,
			})
		}
	}

	Rank(entries)

	if err := e.store.SaveWeeklyEntries(ctx, groupID, weekStart, entries); err != nil {
		return fmt.Errorf("save weekly entries: %w", err)
	}
	return nil
}

// Rank sorts entries and assigns positions 1..N
func Rank(entries []storage.WeeklyEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.UserID < b.UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// Leaderboard returns the current week's top rows of a chat
func (e *Engine) Leaderboard(ctx context.Context, chatID string, limit int) ([]storage.LeaderboardRow, error) {
	e.flush(ctx)

	group, err := e.store.GroupByChatID(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return e.store.Leaderboard(ctx, group.ID, e.CurrentWeek(), limit)
}

// UserRank returns identity's current week position in a chat. It returns
// storage.ErrNotFound when the user has no activity this week
func (e *Engine) UserRank(ctx context.Context, identity, chatID string) (*UserRank, error) {
	e.flush(ctx)

	group, err := e.store.GroupByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	user, err := e.store.UserByTelegramID(ctx, identity)
	if err != nil {
		return nil, err
	}

	week := e.CurrentWeek()
	row, total, err := e.store.UserWeeklyRank(ctx, user.ID, group.ID, week)
	if err != nil {
		return nil, err
	}

	return &UserRank{LeaderboardRow: *row, Participants: total, WeekStart: week}, nil
}

func (e *Engine) flush(ctx context.Context) {
	e.mu.Lock()
	f := e.flusher
	e.mu.Unlock()

	if f == nil {
		return
	}
	if err := f.Flush(ctx); err != nil {
		e.log.Warn("flush before leaderboard read", "error", err)
	}
}

// WeekStart returns the Monday of t's week as YYYY-MM-DD in t's location
func WeekStart(t time.Time) string {
	offset := (int(t.Weekday()) + 6) % 7
	monday := time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, t.Location())
	return monday.Format(DateLayout)
}

// Day returns t's calendar date as YYYY-MM-DD
func Day(t time.Time) string {
	return t.Format(DateLayout)
}
