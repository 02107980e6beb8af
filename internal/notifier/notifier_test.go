package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongpo/Aura-Farming-Core/internal/chain"
	"github.com/cuongpo/Aura-Farming-Core/internal/quest"
	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
)

type sent struct {
	userID int64
	text   string
}

type fakeSender struct {
	msgs []sent
	err  error
}

func (f *fakeSender) SendNotification(_ context.Context, userID int64, text string) error {
	f.msgs = append(f.msgs, sent{userID, text})
	return f.err
}

func newNotifier(s Sender) *Notifier {
	return New(s, "https://scan.example.org/", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTipReceived(t *testing.T) {
	s := &fakeSender{}
	n := newNotifier(s)

	r := &transfer.Receipt{
		TxHash: "0x" + "ab12" + "00000000000000000000000000000000000000000000000000000000" + "cd34",
		Amount: decimal.RequireFromString("12.5"),
		Token:  chain.Token{Symbol: "USDT"},
	}
	n.TipReceived(context.Background(), 77, "@alice", r, "thanks <3")

	require.Len(t, s.msgs, 1)
	msg := s.msgs[0]
	assert.Equal(t, int64(77), msg.userID)
	assert.Contains(t, msg.text, "12.5 USDT from @alice")
	assert.Contains(t, msg.text, "thanks &lt;3")
	assert.Contains(t, msg.text, "https://scan.example.org/tx/"+r.TxHash)
	assert.Contains(t, msg.text, "0xab1200…00cd34")
}

func TestTransferSentLinksBothAddresses(t *testing.T) {
	s := &fakeSender{}
	n := newNotifier(s)

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	n.TransferSent(context.Background(), 5, &transfer.Receipt{
		TxHash: "0xdead",
		From:   from,
		To:     to,
		Amount: decimal.RequireFromString("2500"),
		Token:  chain.Token{Symbol: "CORE"},
	})

	require.Len(t, s.msgs, 1)
	assert.Contains(t, s.msgs[0].text, "-2.50K CORE")
	assert.Contains(t, s.msgs[0].text, "/address/"+from.Hex())
	assert.Contains(t, s.msgs[0].text, "/address/"+to.Hex())
}

func TestChestClaimed(t *testing.T) {
	s := &fakeSender{}
	n := newNotifier(s)

	n.ChestClaimed(context.Background(), 9, &quest.Claim{Reward: 4, TxHash: "0xbeef"}, "AURA")
	require.Len(t, s.msgs, 1)
	assert.Contains(t, s.msgs[0].text, "+4 AURA")
}

func TestSendErrorsAreSwallowed(t *testing.T) {
	s := &fakeSender{err: errors.New("Forbidden: bot can't initiate conversation with a user")}
	n := newNotifier(s)

	assert.NotPanics(t, func() { n.QuestCompleted(context.Background(), 1) })
	assert.Len(t, s.msgs, 1)
}

func TestFormatAmount(t *testing.T) {
	cases := map[string]string{
		"0.5":        "0.5",
		"999":        "999",
		"1000":       "1.00K",
		"2500000":    "2.50M",
		"3100000000": "3.10B",
		"-1500":      "-1.50K",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatAmount(decimal.RequireFromString(in)), in)
	}
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "0xabcd", ShortHash("0xabcd", 4))
	assert.Equal(t, "0x1234…cdef", ShortHash("0x1234567890abcdef", 4))
	assert.Equal(t, "1234…cdef", ShortHash("1234567890abcdef", 4))
}
