package chain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const nativeDecimals = 18

// Token identifies the native coin or an ERC-20 contract
type Token struct {
	Symbol   string
	Address  common.Address
	Native   bool
	Decimals uint8
}

// Registry maps token symbols to tokens
type Registry struct {
	native Token
	tokens map[string]Token
}

// NewRegistry creates a registry holding only the native coin
func NewRegistry(nativeSymbol string) *Registry {
	native := Token{Symbol: strings.ToUpper(nativeSymbol), Native: true, Decimals: nativeDecimals}
	return &Registry{
		native: native,
		tokens: map[string]Token{native.Symbol: native},
	}
}

// Add registers an ERC-20 token. Empty addresses are skipped
func (r *Registry) Add(symbol, address string) error {
	if address == "" {
		return nil
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid %s contract address %q", symbol, address)
	}
	symbol = strings.ToUpper(symbol)
	r.tokens[symbol] = Token{Symbol: symbol, Address: common.HexToAddress(address)}
	return nil
}

// Lookup finds a token by symbol, case-insensitively
func (r *Registry) Lookup(symbol string) (Token, bool) {
	t, ok := r.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return t, ok
}

// Native returns the native coin
func (r *Registry) Native() Token {
	return r.native
}

// All returns the native coin followed by ERC-20 tokens sorted by symbol
func (r *Registry) All() []Token {
	out := []Token{r.native}
	var symbols []string
	for s, t := range r.tokens {
		if !t.Native {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		out = append(out, r.tokens[s])
	}
	return out
}

// ToUnits converts a human amount into raw token units. Amounts with more
// fractional digits than decimals are rejected
func ToUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	shifted := amount.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FromUnits converts raw token units into a human amount
func FromUnits(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
