package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const tokenABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"mintChestReward","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"day","type":"uint256"}],"outputs":[]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"getAddress","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	tokenABI   = mustABI(tokenABIJSON)
	factoryABI = mustABI(factoryABIJSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// TokenBalance returns the raw ERC-20 balance of holder
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := tokenABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	out, err := c.callContract(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("token balance: %w", err)
	}

	res, err := tokenABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	bal, ok := res[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", res[0])
	}
	return bal, nil
}

// Decimals returns the decimals of token. Native tokens report their own
// decimals without an RPC; ERC-20 values are cached
func (c *Client) Decimals(ctx context.Context, token Token) (uint8, error) {
	if token.Native {
		return token.Decimals, nil
	}
	if v, ok := c.decimals.Get(token.Address); ok {
		return v.(uint8), nil
	}

	data, err := tokenABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}

	out, err := c.callContract(ctx, token.Address, data)
	if err != nil {
		return 0, fmt.Errorf("token decimals: %w", err)
	}

	res, err := tokenABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	dec, ok := res[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result %T", res[0])
	}

	c.decimals.Add(token.Address, dec)
	return dec, nil
}

// Balance returns the raw balance of holder in token
func (c *Client) Balance(ctx context.Context, token Token, holder common.Address) (*big.Int, error) {
	if token.Native {
		return c.NativeBalance(ctx, holder)
	}
	return c.TokenBalance(ctx, token.Address, holder)
}

// Transfer moves amount raw units of token from the key's address to to
func (c *Client) Transfer(ctx context.Context, key *ecdsa.PrivateKey, token Token, to common.Address, amount *big.Int) (*Receipt, error) {
	if token.Native {
		return c.send(ctx, key, to, amount, nil)
	}

	data, err := tokenABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}

	r, err := c.send(ctx, key, token.Address, big.NewInt(0), data)
	if err != nil {
		return nil, err
	}
	r.To = to
	return r, nil
}

// MintChestReward calls the reward contract's chest mint entry point. The key
// must belong to the authorised minter
func (c *Client) MintChestReward(ctx context.Context, key *ecdsa.PrivateKey, token Token, to common.Address, amount, day *big.Int) (*Receipt, error) {
	if token.Native {
		return nil, fmt.Errorf("mint on native token %s", token.Symbol)
	}

	data, err := tokenABI.Pack("mintChestReward", to, amount, day)
	if err != nil {
		return nil, fmt.Errorf("pack mintChestReward: %w", err)
	}

	r, err := c.send(ctx, key, token.Address, big.NewInt(0), data)
	if err != nil {
		return nil, err
	}
	r.To = to
	return r, nil
}

// PredictAccount asks an account factory for the counterfactual address of
// (owner, salt)
func (c *Client) PredictAccount(ctx context.Context, factory, owner common.Address, salt *big.Int) (common.Address, error) {
	data, err := factoryABI.Pack("getAddress", owner, salt)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getAddress: %w", err)
	}

	out, err := c.callContract(ctx, factory, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("predict account: %w", err)
	}

	res, err := factoryABI.Unpack("getAddress", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack getAddress: %w", err)
	}
	addr, ok := res[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getAddress result %T", res[0])
	}
	return addr, nil
}
