package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cuongpo/Aura-Farming-Core/internal/ranking"
)

// Key identifies one (user, group) counter
type Key struct {
	UserID  int64
	GroupID int64
}

// Store persists daily activity
type Store interface {
	AddActivity(ctx context.Context, userID, groupID int64, date, weekStart string, count int, at time.Time) error
}

// Ranker recomputes a group's weekly ranking
type Ranker interface {
	Recompute(ctx context.Context, groupID int64, weekStart string) error
}

// Config tunes flushing. Interval must be positive, a zero MaxKeys disables the
// size trigger
type Config struct {
	Interval time.Duration
	MaxKeys  int
	Location *time.Location
}

type entry struct {
	count   int
	updated time.Time
}

// Buffer coalesces message counts in memory and commits them periodically or
// when MaxKeys distinct keys are pending. Unflushed counts are lost if the
// process dies
type Buffer struct {
	store  Store
	ranker Ranker
	clock  clockwork.Clock
	cfg    Config
	log    *slog.Logger

	mu      sync.Mutex
	entries map[Key]*entry

	flushMu sync.Mutex
	trigger chan struct{}

	lifeMu  sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

// New creates a new activity buffer
func New(store Store, ranker Ranker, clock clockwork.Clock, cfg Config, log *slog.Logger) *Buffer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Buffer{
		store:   store,
		ranker:  ranker,
		clock:   clock,
		cfg:     cfg,
		log:     log,
		entries: make(map[Key]*entry),
		trigger: make(chan struct{}, 1),
	}
}

// Record counts one message. It never does I/O; reaching MaxKeys wakes the
// flush loop
func (b *Buffer) Record(key Key) {
	b.mu.Lock()
	e, ok := b.entries[key]
	if !ok {
		e = &entry{}
		b.entries[key] = e
	}
	e.count++
	e.updated = b.clock.Now()
	full := b.cfg.MaxKeys > 0 && len(b.entries) >= b.cfg.MaxKeys
	b.mu.Unlock()

	if full {
		select {
		case b.trigger <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered keys
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Count returns the buffered count of key
func (b *Buffer) Count(key Key) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		return e.count
	}
	return 0
}

// Flush drains the buffer and adds every count to today's activity row, then
// recomputes the current week of each touched group. Entries that fail to
// persist are merged back for the next flush
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	drained := b.drain()
	if len(drained) == 0 {
		return nil
	}

	now := b.clock.Now().In(b.cfg.Location)
	date := ranking.Day(now)
	week := ranking.WeekStart(now)

	var errs []error
	groups := make(map[int64]bool)
	for key, e := range drained {
		if err := b.store.AddActivity(ctx, key.UserID, key.GroupID, date, week, e.count, now); err != nil {
			b.remerge(key, e)
			b.log.Warn("flush activity entry", "user_id", key.UserID, "group_id", key.GroupID, "count", e.count, "error", err)
			errs = append(errs, err)
			continue
		}
		groups[key.GroupID] = true
	}

	for groupID := range groups {
		if err := b.ranker.Recompute(ctx, groupID, week); err != nil {
			b.log.Error("recompute ranking", "group_id", groupID, "week", week, "error", err)
			errs = append(errs, fmt.Errorf("recompute group %d: %w", groupID, err))
		}
	}

	b.log.Debug("activity flushed", "entries", len(drained), "groups", len(groups), "failed", len(errs))
	return errors.Join(errs...)
}

func (b *Buffer) drain() map[Key]*entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := b.entries
	b.entries = make(map[Key]*entry, len(drained))
	return drained
}

func (b *Buffer) remerge(key Key, e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.entries[key]
	if !ok {
		b.entries[key] = e
		return
	}
	cur.count += e.count
	if e.updated.After(cur.updated) {
		cur.updated = e.updated
	}
}

// Start runs the flush loop until Stop is called or ctx is done
func (b *Buffer) Start(ctx context.Context) {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if b.stop != nil {
		return
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})

	ticker := b.clock.NewTicker(b.cfg.Interval)
	go b.run(ctx, ticker)
}

func (b *Buffer) run(ctx context.Context, ticker clockwork.Ticker) {
	defer close(b.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-ticker.Chan():
			b.flushLogged(ctx, "interval")
		case <-b.trigger:
			b.flushLogged(ctx, "size")
		}
	}
}

func (b *Buffer) flushLogged(ctx context.Context, reason string) {
	if err := b.Flush(ctx); err != nil {
		b.log.Warn("activity flush incomplete", "reason", reason, "error", err)
	}
}

// Stop ends the flush loop and commits whatever is still buffered
func (b *Buffer) Stop(ctx context.Context) error {
	b.lifeMu.Lock()
	if b.stop != nil && !b.stopped {
		b.stopped = true
		close(b.stop)
		<-b.done
	}
	b.lifeMu.Unlock()

	return b.Flush(ctx)
}
