package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "aura.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertUserRefreshesMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	u, err := s.UpsertUser(ctx, "42", "alice", "Alice", "")
	require.NoError(t, err)
	assert.Equal(t, "@alice", u.DisplayName())

	again, err := s.UpsertUser(ctx, "42", "alice_new", "Alice", "Smith")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "alice_new", again.Username)

	found, err := s.UserByUsername(ctx, "@ALICE_NEW")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	_, err = s.UserByTelegramID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBindWalletIsStable(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.UpsertUser(ctx, "42", "", "Bob", "")
	require.NoError(t, err)

	require.NoError(t, s.BindWallet(ctx, "42", "0xAbC0000000000000000000000000000000000001"))
	require.NoError(t, s.BindWallet(ctx, "42", "0xabc0000000000000000000000000000000000001"))
	assert.ErrorIs(t, s.BindWallet(ctx, "42", "0x0000000000000000000000000000000000000002"), ErrWalletMismatch)
	assert.ErrorIs(t, s.BindWallet(ctx, "nobody", "0x0000000000000000000000000000000000000002"), ErrNotFound)
}

func TestAddActivityAccumulates(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now()

	alice, err := s.UpsertUser(ctx, "42", "alice", "", "")
	require.NoError(t, err)
	bob, err := s.UpsertUser(ctx, "43", "bob", "", "")
	require.NoError(t, err)

	require.NoError(t, s.AddActivity(ctx, alice.ID, 10, "2026-10-19", "2026-10-19", 3, now))
	require.NoError(t, s.AddActivity(ctx, alice.ID, 10, "2026-10-19", "2026-10-19", 2, now))
	require.NoError(t, s.AddActivity(ctx, alice.ID, 10, "2026-10-20", "2026-10-19", 4, now))
	require.NoError(t, s.AddActivity(ctx, bob.ID, 10, "2026-10-20", "2026-10-19", 1, now))

	count, err := s.ActivityCount(ctx, alice.ID, 10, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	totals, err := s.WeeklyTotals(ctx, 10, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{alice.ID: 9, bob.ID: 1}, totals)

	st, err := s.ChatStats(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalUsers)
	assert.Equal(t, 10, st.TotalMessages)
	assert.Equal(t, 2, st.ActiveDays)
	assert.InDelta(t, 5.0, st.AvgPerUser, 0.001)
}

func TestWeeklyEntriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	alice, err := s.UpsertUser(ctx, "42", "alice", "", "")
	require.NoError(t, err)
	bob, err := s.UpsertUser(ctx, "43", "bob", "", "")
	require.NoError(t, err)

	t0 := time.Unix(1700000000, 123)
	entries := []WeeklyEntry{
		{UserID: bob.ID, Total: 5, Rank: 1, UpdatedAt: t0},
		{UserID: alice.ID, Total: 3, Rank: 2, UpdatedAt: t0.Add(time.Nanosecond)},
	}
	require.NoError(t, s.SaveWeeklyEntries(ctx, 7, "2026-10-19", entries))

	stored, err := s.WeeklyEntries(ctx, 7, "2026-10-19")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, t0.UnixNano(), stored[0].UpdatedAt.UnixNano())

	board, err := s.Leaderboard(ctx, 7, "2026-10-19", 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "43", board[0].TelegramID)
	assert.Equal(t, "42", board[1].TelegramID)

	row, total, err := s.UserWeeklyRank(ctx, alice.ID, 7, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 2, row.Rank)
	assert.Equal(t, 2, total)

	_, _, err = s.UserWeeklyRank(ctx, alice.ID, 7, "2026-10-12")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteQuestMakesChestEligible(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	at := time.Unix(1700000000, 0)

	first, err := s.CompleteQuest(ctx, "42", "2026-10-19", at)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.CompleteQuest(ctx, "42", "2026-10-19", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, second)

	q, err := s.QuestState(ctx, "42", "2026-10-19")
	require.NoError(t, err)
	assert.True(t, q.Completed)
	require.NotNil(t, q.CompletedAt)
	assert.Equal(t, at.Unix(), q.CompletedAt.Unix())

	c, err := s.ChestState(ctx, "42", "2026-10-19")
	require.NoError(t, err)
	assert.True(t, c.Eligible)
	assert.False(t, c.Opened)
}

func TestOpenChestOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	at := time.Now()

	assert.ErrorIs(t, s.OpenChest(ctx, "42", "2026-10-19", 3, at), ErrNotEligible)

	_, err := s.CompleteQuest(ctx, "42", "2026-10-19", at)
	require.NoError(t, err)

	require.NoError(t, s.OpenChest(ctx, "42", "2026-10-19", 3, at))
	assert.ErrorIs(t, s.OpenChest(ctx, "42", "2026-10-19", 5, at), ErrAlreadyOpened)

	c, err := s.ChestState(ctx, "42", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Reward)
}

func TestOpenChestConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.CompleteQuest(ctx, "42", "2026-10-19", time.Now())
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(reward int) {
			defer wg.Done()
			results <- s.OpenChest(ctx, "42", "2026-10-19", reward%6, time.Now())
		}(i)
	}
	wg.Wait()
	close(results)

	var opened, already int
	for err := range results {
		switch {
		case err == nil:
			opened++
		case assert.ErrorIs(t, err, ErrAlreadyOpened):
			already++
		}
	}
	assert.Equal(t, 1, opened)
	assert.Equal(t, workers-1, already)
}

func TestClaimLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	at := time.Now()

	_, err := s.BeginClaim(ctx, "42", "2026-10-19", at, time.Minute)
	assert.ErrorIs(t, err, ErrNotClaimable)

	_, err = s.CompleteQuest(ctx, "42", "2026-10-19", at)
	require.NoError(t, err)
	require.NoError(t, s.OpenChest(ctx, "42", "2026-10-19", 2, at))

	c, err := s.BeginClaim(ctx, "42", "2026-10-19", at, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Reward)

	_, err = s.BeginClaim(ctx, "42", "2026-10-19", at, time.Minute)
	assert.ErrorIs(t, err, ErrClaimInProgress)

	require.NoError(t, s.ReleaseClaim(ctx, "42", "2026-10-19"))
	_, err = s.BeginClaim(ctx, "42", "2026-10-19", at, time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.FinishClaim(ctx, "42", "2026-10-19", "0xhash", at))
	assert.ErrorIs(t, s.FinishClaim(ctx, "42", "2026-10-19", "0xother", at), ErrAlreadyClaimed)

	_, err = s.BeginClaim(ctx, "42", "2026-10-19", at, time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	stats, err := s.QuestStats(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CompletedQuests)
	assert.Equal(t, 2, stats.TotalEarned)
	assert.Equal(t, 2, stats.TotalClaimed)
}

func TestClaimRequiresPositiveReward(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.CompleteQuest(ctx, "42", "2026-10-19", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.OpenChest(ctx, "42", "2026-10-19", 0, time.Now()))

	_, err = s.BeginClaim(ctx, "42", "2026-10-19", time.Now(), time.Minute)
	assert.ErrorIs(t, err, ErrNotClaimable)
}

func TestStaleClaimLeaseTakenOverWhenNothingSubmitted(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	_, err := s.CompleteQuest(ctx, "42", "2026-10-19", at)
	require.NoError(t, err)
	require.NoError(t, s.OpenChest(ctx, "42", "2026-10-19", 3, at))

	_, err = s.BeginClaim(ctx, "42", "2026-10-19", at, time.Minute)
	require.NoError(t, err)

	// lease still fresh
	_, err = s.BeginClaim(ctx, "42", "2026-10-19", at.Add(30*time.Second), time.Minute)
	assert.ErrorIs(t, err, ErrClaimInProgress)

	// holder died before creating a reward record
	c, err := s.BeginClaim(ctx, "42", "2026-10-19", at.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Reward)

	failed, err := s.CreateTransfer(ctx, &TransferRecord{
		Ref: "failed", Kind: KindQuestReward, ToAddress: "0x02", Amount: "3", Token: "AURA",
		Subject: ChestSubject("42", "2026-10-19"),
	})
	require.NoError(t, err)
	require.NoError(t, s.FinalizeTransfer(ctx, failed.ID, StatusFailed, "", 0, "reverted"))

	c, err = s.BeginClaim(ctx, "42", "2026-10-19", at.Add(4*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, c.Claiming)
}

func TestStaleClaimLeaseKeptWhileRewardPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	_, err := s.CompleteQuest(ctx, "42", "2026-10-19", at)
	require.NoError(t, err)
	require.NoError(t, s.OpenChest(ctx, "42", "2026-10-19", 3, at))

	_, err = s.BeginClaim(ctx, "42", "2026-10-19", at, time.Minute)
	require.NoError(t, err)

	_, err = s.CreateTransfer(ctx, &TransferRecord{
		Ref: "pending", Kind: KindQuestReward, ToAddress: "0x02", Amount: "3", Token: "AURA",
		Subject: ChestSubject("42", "2026-10-19"),
	})
	require.NoError(t, err)

	_, err = s.BeginClaim(ctx, "42", "2026-10-19", at.Add(time.Hour), time.Minute)
	assert.ErrorIs(t, err, ErrClaimInProgress)

	_, err = s.BeginClaim(ctx, "43", "2026-10-19", at.Add(time.Hour), time.Minute)
	assert.ErrorIs(t, err, ErrNotClaimable)
}

func TestQuestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for _, d := range []string{"2026-10-17", "2026-10-18", "2026-10-19"} {
		_, err := s.CompleteQuest(ctx, "42", d, time.Now())
		require.NoError(t, err)
	}
	require.NoError(t, s.OpenChest(ctx, "42", "2026-10-18", 4, time.Now()))

	history, err := s.QuestHistory(ctx, "42", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-10-19", history[0].Date)
	assert.Equal(t, "2026-10-18", history[1].Date)
	assert.True(t, history[1].Opened)
	assert.Equal(t, 4, history[1].Reward)
}

func TestTransferFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	rec, err := s.CreateTransfer(ctx, &TransferRecord{
		Ref:         "ref-1",
		Kind:        KindTip,
		FromAddress: "0x01",
		ToAddress:   "0x02",
		Amount:      "1.5",
		Token:       "USDT",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)

	require.NoError(t, s.FinalizeTransfer(ctx, rec.ID, StatusConfirmed, "0xabc", 21000, ""))
	assert.ErrorIs(t, s.FinalizeTransfer(ctx, rec.ID, StatusFailed, "", 0, "boom"), ErrAlreadyFinal)
	assert.ErrorIs(t, s.FinalizeTransfer(ctx, 999, StatusFailed, "", 0, "boom"), ErrNotFound)
	assert.Error(t, s.FinalizeTransfer(ctx, rec.ID, StatusPending, "", 0, ""))

	got, err := s.Transfer(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, "0xabc", got.TxHash)
	assert.EqualValues(t, 21000, got.GasUsed)

	list, err := s.ListTransfers(ctx, KindTip, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListTransfers(ctx, KindPeerTransfer, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTransferHashIsUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	var ids []int64
	for _, ref := range []string{"a", "b"} {
		rec, err := s.CreateTransfer(ctx, &TransferRecord{Ref: ref, Kind: KindTip, ToAddress: "0x02", Amount: "1", Token: "USDT"})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	require.NoError(t, s.FinalizeTransfer(ctx, ids[0], StatusConfirmed, "0xsame", 1, ""))
	assert.Error(t, s.FinalizeTransfer(ctx, ids[1], StatusConfirmed, "0xsame", 1, ""))
}

func TestEraseUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	u, err := s.UpsertUser(ctx, "42", "alice", "", "")
	require.NoError(t, err)
	require.NoError(t, s.AddActivity(ctx, u.ID, 3, "2026-10-19", "2026-10-19", 2, time.Now()))
	require.NoError(t, s.SaveWeeklyEntries(ctx, 3, "2026-10-19", []WeeklyEntry{{UserID: u.ID, Total: 2, Rank: 1, UpdatedAt: time.Now()}}))
	_, err = s.CompleteQuest(ctx, "42", "2026-10-19", time.Now())
	require.NoError(t, err)
	rec, err := s.CreateTransfer(ctx, &TransferRecord{Ref: "r", Kind: KindTip, ToUserID: &u.ID, ToAddress: "0x02", Amount: "1", Token: "USDT"})
	require.NoError(t, err)

	groups, err := s.EraseUser(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, groups)

	_, err = s.UserByTelegramID(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ChestState(ctx, "42", "2026-10-19")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.Transfer(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ToUserID)
}

func TestActivityOfErasedUserIsDropped(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now()

	gone, err := s.UpsertUser(ctx, "42", "alice", "", "")
	require.NoError(t, err)
	kept, err := s.UpsertUser(ctx, "43", "bob", "", "")
	require.NoError(t, err)
	require.NoError(t, s.AddActivity(ctx, kept.ID, 3, "2026-10-19", "2026-10-19", 1, now))

	_, err = s.EraseUser(ctx, "42")
	require.NoError(t, err)

	// a late flush for the erased id must not bring its row back
	require.NoError(t, s.AddActivity(ctx, gone.ID, 3, "2026-10-19", "2026-10-19", 5, now))
	count, err := s.ActivityCount(ctx, gone.ID, 3, "2026-10-19")
	require.NoError(t, err)
	assert.Zero(t, count)

	totals, err := s.WeeklyTotals(ctx, 3, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{kept.ID: 1}, totals)
}

func TestWeeklyEntriesSkipUnknownUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	u, err := s.UpsertUser(ctx, "42", "alice", "", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveWeeklyEntries(ctx, 3, "2026-10-19", []WeeklyEntry{
		{UserID: u.ID, Total: 2, Rank: 1, UpdatedAt: time.Now()},
		{UserID: u.ID + 100, Total: 1, Rank: 2, UpdatedAt: time.Now()},
	}))

	entries, err := s.WeeklyEntries(ctx, 3, "2026-10-19")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, u.ID, entries[0].UserID)
}
