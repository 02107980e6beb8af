package quest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
)

type mockRewarder struct {
	mock.Mock
}

func (m *mockRewarder) IssueChestReward(ctx context.Context, identity string, amount int, day string) (string, error) {
	args := m.Called(ctx, identity, amount, day)
	return args.String(0), args.Error(1)
}

type fixture struct {
	store    *storage.Storage
	clock    *clockwork.FakeClock
	rewarder *mockRewarder
	engine   *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "aura.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC))
	rewarder := &mockRewarder{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		store:    store,
		clock:    clock,
		rewarder: rewarder,
		engine:   New(store, rewarder, clock, time.UTC, log, opts...),
	}
}

func fixedDraw(n int) Option {
	return WithDraw(func() int { return n })
}

func TestFirstMessageCompletesQuest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	completed, err := f.engine.RecordActivity(ctx, "42", "g1")
	require.NoError(t, err)
	assert.True(t, completed)

	q, err := f.store.QuestState(ctx, "42", "2026-10-21")
	require.NoError(t, err)
	assert.True(t, q.Completed)
	c, err := f.store.ChestState(ctx, "42", "2026-10-21")
	require.NoError(t, err)
	assert.True(t, c.Eligible)
	assert.False(t, c.Opened)

	completed, err = f.engine.RecordActivity(ctx, "42", "g2")
	require.NoError(t, err)
	assert.False(t, completed)

	st, err := f.engine.Status(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Messages)
	assert.True(t, st.Quest.Completed)
	require.NotNil(t, st.Chest)
}

func TestStatusWithoutActivity(t *testing.T) {
	f := newFixture(t)

	st, err := f.engine.Status(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-21", st.Date)
	assert.False(t, st.Quest.Completed)
	assert.Nil(t, st.Chest)
	assert.Zero(t, st.Messages)

	completed, err := f.engine.CheckCompletion(context.Background(), "7")
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestNewDayStartsNewQuest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.RecordActivity(ctx, "42", "g1")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	st, err := f.engine.Status(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-22", st.Date)
	assert.False(t, st.Quest.Completed)
	assert.Nil(t, st.Chest)
}

func TestOpenChestOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.OpenChest(ctx, "42")
	assert.ErrorIs(t, err, storage.ErrNotEligible)

	_, err = f.engine.RecordActivity(ctx, "42", "g1")
	require.NoError(t, err)

	reward, err := f.engine.OpenChest(ctx, "42")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reward, 0)
	assert.LessOrEqual(t, reward, MaxReward)

	_, err = f.engine.OpenChest(ctx, "42")
	assert.ErrorIs(t, err, storage.ErrAlreadyOpened)

	c, err := f.store.ChestState(ctx, "42", f.engine.Today())
	require.NoError(t, err)
	assert.True(t, c.Opened)
	assert.Equal(t, reward, c.Reward)
}

func TestOpenChestClampsDraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedDraw(99))

	_, err := f.engine.RecordActivity(ctx, "42", "g1")
	require.NoError(t, err)

	reward, err := f.engine.OpenChest(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, MaxReward, reward)
}

func TestOpenChestConcurrentDrawsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.RecordActivity(ctx, "42", "g1")
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	opened, already := 0, 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.OpenChest(ctx, "42")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, storage.ErrAlreadyOpened):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.Equal(t, attempts-1, already)
}

func TestClaimRecordsReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedDraw(3))

	_, err := f.engine.RecordActivity(ctx, "42", "g1")
	require.NoError(t, err)
	_, err = f.engine.OpenChest(ctx, "42")
	require.NoError(t, err)

	f.rewarder.On("IssueChestReward", mock.Anything, "42", 3, "2026-10-21").Return("0xabc", nil).Once()

	claim, err := f.engine.Claim(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, claim.Reward)
	assert.Equal(t, "0xabc", claim.TxHash)

	c, err := f.store.ChestState(ctx, "42", "2026-10-21")
	require.NoError(t, err)
	assert.True(t, c.Claimed())
	assert.False(t, c.Claiming)

	_, err = f.engine.Claim(ctx, "42")
	assert.ErrorIs(t, err, storage.ErrAlreadyClaimed)

	f.rewarder.AssertNumberOfCalls(t, "IssueChestReward", 1)

	stats, err := f.engine.Stats(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEarned)
	assert.Equal(t, 3, stats.TotalClaimed)
}

func TestClaimFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedDraw(2))

	_, err := f.engine.RecordActivity(ctx, "42", "g1")
	require.NoError(t, err)
	_, err = f.engine.OpenChest(ctx, "42")
	require.NoError(t, err)

	boom := errors.New("execution reverted")
	f.rewarder.On("IssueChestReward", mock.Anything, "42", 2, "2026-10-21").Return("", boom).Once()
	f.rewarder.On("IssueChestReward", mock.Anything, "42", 2, "2026-10-21").Return("0xdef", nil).Once()

	_, err = f.engine.Claim(ctx, "42")
	assert.ErrorIs(t, err, boom)

	c, err := f.store.ChestState(ctx, "42", "2026-10-21")
	require.NoError(t, err)
	assert.False(t, c.Claimed())
	assert.False(t, c.Claiming)

	claim, err := f.engine.Claim(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "0xdef", claim.TxHash)
	f.rewarder.AssertExpectations(t)
}

func TestClaimRecoversAbandonedLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedDraw(4))

	_, err := f.engine.RecordActivity(ctx, "42", "g1")
	require.NoError(t, err)
	_, err = f.engine.OpenChest(ctx, "42")
	require.NoError(t, err)

	// a claimer that took the lease and never came back
	_, err = f.store.BeginClaim(ctx, "42", "2026-10-21", f.clock.Now(), ClaimLeaseTTL)
	require.NoError(t, err)

	_, err = f.engine.Claim(ctx, "42")
	assert.ErrorIs(t, err, storage.ErrClaimInProgress)

	f.clock.Advance(ClaimLeaseTTL + time.Minute)
	f.rewarder.On("IssueChestReward", mock.Anything, "42", 4, "2026-10-21").Return("0x444", nil).Once()

	claim, err := f.engine.Claim(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "0x444", claim.TxHash)
	f.rewarder.AssertExpectations(t)
}

func TestClaimEmptyChest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedDraw(0))

	_, err := f.engine.Claim(ctx, "42")
	assert.ErrorIs(t, err, storage.ErrNotClaimable)

	_, err = f.engine.RecordActivity(ctx, "42", "g1")
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, "42")
	assert.ErrorIs(t, err, storage.ErrNotClaimable)

	_, err = f.engine.OpenChest(ctx, "42")
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, "42")
	assert.ErrorIs(t, err, ErrNothingToClaim)

	f.rewarder.AssertNotCalled(t, "IssueChestReward", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHistoryDefaultsToAWeek(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedDraw(1))

	for i := 0; i < 9; i++ {
		_, err := f.engine.RecordActivity(ctx, "42", "g1")
		require.NoError(t, err)
		f.clock.Advance(24 * time.Hour)
	}

	history, err := f.engine.History(ctx, "42", 0)
	require.NoError(t, err)
	require.Len(t, history, HistoryDays)
	assert.Equal(t, "2026-10-29", history[0].Date)
	assert.True(t, history[0].Completed)
	assert.True(t, history[0].Eligible)
}
