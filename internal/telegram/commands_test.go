package telegram

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongpo/Aura-Farming-Core/internal/quest"
	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text     string
		cmd      string
		args     string
		ok       bool
		username string
	}{
		{text: "/start", cmd: "start", ok: true},
		{text: "  /Leaderboard  ", cmd: "leaderboard", ok: true},
		{text: "/tip @bob 5 nice work", cmd: "tip", args: "@bob 5 nice work", ok: true},
		{text: "/ranking@AuraBot", cmd: "ranking", ok: true, username: "aurabot"},
		{text: "/ranking@OtherBot", ok: false, username: "AuraBot"},
		{text: "hello /start", ok: false},
		{text: "/", ok: false},
		{text: "/@AuraBot", ok: false, username: "AuraBot"},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			cmd, args, ok := parseCommand(tc.text, tc.username)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.cmd, cmd)
			assert.Equal(t, tc.args, args)
		})
	}
}

func TestParseTipArgs(t *testing.T) {
	tip, err := parseTipArgs("@alice 2.5 great answer", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", tip.Username)
	assert.Equal(t, "2.5", tip.Amount.String())
	assert.Equal(t, "great answer", tip.Message)

	tip, err = parseTipArgs("123456 10", "")
	require.NoError(t, err)
	assert.Equal(t, "123456", tip.UserID)
	assert.Equal(t, "10", tip.Amount.String())
	assert.Empty(t, tip.Message)

	tip, err = parseTipArgs("3 thanks", "987")
	require.NoError(t, err)
	assert.Equal(t, "987", tip.UserID)
	assert.Equal(t, "3", tip.Amount.String())
	assert.Equal(t, "thanks", tip.Message)

	tip, err = parseTipArgs("@carol 1", "987")
	require.NoError(t, err)
	assert.Equal(t, "carol", tip.Username)
	assert.Empty(t, tip.UserID)

	tip, err = parseTipArgs("500 10", "987")
	require.NoError(t, err)
	assert.Equal(t, "500", tip.UserID)
	assert.Equal(t, "10", tip.Amount.String())

	tip, err = parseTipArgs("5", "987")
	require.NoError(t, err)
	assert.Equal(t, "987", tip.UserID)
	assert.Equal(t, "5", tip.Amount.String())
}

func TestParseTipArgsRejects(t *testing.T) {
	for _, args := range []string{"", "@bob", "bob 5", "@ 5"} {
		_, err := parseTipArgs(args, "")
		assert.ErrorIs(t, err, errTipUsage, args)
	}

	_, err := parseTipArgs("@bob -1", "")
	assert.Equal(t, transfer.InvalidInput, transfer.KindOf(err))

	_, err = parseTipArgs("@bob lots", "")
	assert.Equal(t, transfer.InvalidInput, transfer.KindOf(err))
}

func TestParseTransferArgs(t *testing.T) {
	addr := "0x52908400098527886E0F7030069857D2E4169EE7"

	tr, err := parseTransferArgs("usdt " + addr + " 1.25")
	require.NoError(t, err)
	assert.Equal(t, "USDT", tr.Token)
	assert.Equal(t, addr, tr.Address)
	assert.Equal(t, "1.25", tr.Amount.String())

	_, err = parseTransferArgs("USDT " + addr)
	assert.ErrorIs(t, err, errTransferUsage)

	_, err = parseTransferArgs("USDT 0x1234 1")
	assert.Equal(t, transfer.InvalidInput, transfer.KindOf(err))

	_, err = parseTransferArgs("USDT " + addr + " 0")
	assert.Equal(t, transfer.InvalidInput, transfer.KindOf(err))
}

func TestPendingStoreExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewPendingStore(clock, PendingTTL)

	s.Set(1, &PendingTransfer{Request: transfer.Request{From: "1", Amount: "1"}})
	p, ok := s.Take(1)
	require.True(t, ok)
	assert.Equal(t, "1", p.Request.Amount)

	_, ok = s.Take(1)
	assert.False(t, ok)

	s.Set(1, &PendingTransfer{})
	clock.Advance(PendingTTL + time.Second)
	_, ok = s.Take(1)
	assert.False(t, ok)

	s.Set(2, &PendingTransfer{})
	clock.Advance(PendingTTL + time.Second)
	s.Set(3, &PendingTransfer{})
	assert.Equal(t, 1, s.Len())

	s.Clear(3)
	assert.Zero(t, s.Len())
}

func TestLimiter(t *testing.T) {
	l, err := NewLimiter(2)
	require.NoError(t, err)

	assert.True(t, l.Allow(1))
	assert.True(t, l.Allow(1))
	assert.False(t, l.Allow(1))
	assert.True(t, l.Allow(2))

	unlimited, err := NewLimiter(0)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow(1))
	}
}

func TestQuestKeyboard(t *testing.T) {
	assert.Nil(t, QuestKeyboard(nil))
	assert.Nil(t, QuestKeyboard(&storage.ChestState{}))

	kb := QuestKeyboard(&storage.ChestState{Eligible: true})
	require.NotNil(t, kb)
	assert.Equal(t, cbQuestOpen, kb.InlineKeyboard[0][0].CallbackData)

	kb = QuestKeyboard(&storage.ChestState{Eligible: true, Opened: true, Reward: 2})
	require.NotNil(t, kb)
	assert.Equal(t, cbQuestClaim, kb.InlineKeyboard[0][0].CallbackData)

	assert.Nil(t, QuestKeyboard(&storage.ChestState{Eligible: true, Opened: true, Reward: 0}))
	assert.Nil(t, QuestKeyboard(&storage.ChestState{Eligible: true, Opened: true, Reward: 2, TxHash: "0x1"}))
}

func TestFormatQuest(t *testing.T) {
	st := &quest.Status{
		Date:     "2026-10-21",
		Quest:    &storage.QuestState{Completed: true},
		Chest:    &storage.ChestState{Eligible: true, Opened: true, Reward: 4},
		Messages: 12,
	}
	text := formatQuest(st)
	assert.Contains(t, text, "✅")
	assert.Contains(t, text, "<b>12</b>")
	assert.Contains(t, text, "4 AURA waiting")
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, userMessage(storage.ErrAlreadyOpened), "already opened")
	assert.Contains(t, userMessage(quest.ErrNothingToClaim), "empty")
	assert.Contains(t, userMessage(errTransferUsage), "&lt;token&gt;")

	insufficient := &transfer.Error{Kind: transfer.InsufficientBalance, Attempted: "5", Available: "1.5"}
	assert.Contains(t, userMessage(insufficient), "available 1.5")
	assert.True(t, isUserError(insufficient))

	timeout := &transfer.Error{Kind: transfer.Timeout}
	assert.False(t, isUserError(timeout))
	assert.Contains(t, userMessage(assert.AnError), "Something went wrong")
}
