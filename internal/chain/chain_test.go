package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUnitsConversion(t *testing.T) {
	raw, err := ToUnits(decimal.RequireFromString("1.5"), 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", raw.String())

	_, err = ToUnits(decimal.RequireFromString("0.0000001"), 6)
	assert.Error(t, err)

	assert.Equal(t, "1.5", FromUnits(big.NewInt(1500000), 6).String())
	assert.Equal(t, "0", FromUnits(nil, 18).String())

	wei, _ := new(big.Int).SetString("1234500000000000000", 10)
	assert.Equal(t, "1.2345", FromUnits(wei, 18).String())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry("core")
	require.NoError(t, r.Add("usdt", "0x900101d06A7426441Ae63e9AB3B9b0F63Be145F1"))
	require.NoError(t, r.Add("AURA", ""))
	assert.Error(t, r.Add("BAD", "not-an-address"))

	native, ok := r.Lookup("Core")
	require.True(t, ok)
	assert.True(t, native.Native)
	assert.EqualValues(t, 18, native.Decimals)

	usdt, ok := r.Lookup(" USDT ")
	require.True(t, ok)
	assert.False(t, usdt.Native)
	assert.Equal(t, common.HexToAddress("0x900101d06A7426441Ae63e9AB3B9b0F63Be145F1"), usdt.Address)

	_, ok = r.Lookup("AURA")
	assert.False(t, ok)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "CORE", all[0].Symbol)
	assert.Equal(t, "USDT", all[1].Symbol)
}

type hangingBackend struct {
	Backend
}

func (hangingBackend) BalanceAt(ctx context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCallTimeout(t *testing.T) {
	c := New(hangingBackend{}, Options{Timeout: 20 * time.Millisecond}, testLogger())

	_, err := c.NativeBalance(context.Background(), common.Address{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestNativeTransferOnSimulatedChain(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	funds, _ := new(big.Int).SetString("10000000000000000000", 10)
	sim := simulated.NewBackend(types.GenesisAlloc{from: {Balance: funds}})
	defer sim.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sim.Commit()
			}
		}
	}()

	c := New(sim.Client(), Options{Timeout: 5 * time.Second, ConfirmTimeout: 30 * time.Second}, testLogger())
	native := NewRegistry("CORE").Native()

	amount, _ := new(big.Int).SetString("1000000000000000000", 10)
	receipt, err := c.Transfer(ctx, key, native, to, amount)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, receipt.TxHash)
	assert.EqualValues(t, 21000, receipt.GasUsed)
	assert.Equal(t, from, receipt.From)

	bal, err := c.Balance(ctx, native, to)
	require.NoError(t, err)
	assert.Equal(t, "1", FromUnits(bal, 18).String())

	dec, err := c.Decimals(ctx, native)
	require.NoError(t, err)
	assert.EqualValues(t, 18, dec)
}
