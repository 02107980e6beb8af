package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"

	"github.com/cuongpo/Aura-Farming-Core/internal/chain"
	"github.com/cuongpo/Aura-Farming-Core/internal/keys"
)

const cacheSize = 4096

// ChainReader is the read side of the chain client
type ChainReader interface {
	Balance(ctx context.Context, token chain.Token, holder common.Address) (*big.Int, error)
	Decimals(ctx context.Context, token chain.Token) (uint8, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	PredictAccount(ctx context.Context, factory, owner common.Address, salt *big.Int) (common.Address, error)
}

// Handle is a resolved wallet. Transfers are always signed by Signer from
// Address; contract wallet fields are informational
type Handle struct {
	Identity         string
	Address          common.Address
	Signer           *ecdsa.PrivateKey
	Salt             *big.Int
	IsContractWallet bool
	IsDeployed       bool
	PredictedAddress *common.Address
}

// LogValue keeps key material out of logs
func (h *Handle) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("identity", h.Identity),
		slog.String("address", h.Address.Hex()),
	)
}

// Type returns the wallet type shown to users
func (h *Handle) Type() string {
	if h.IsContractWallet {
		return "smart_contract"
	}
	return "eoa"
}

// Balance is the human-scaled balance of one token
type Balance struct {
	Token  chain.Token
	Amount string
	Err    error
}

// Directory resolves identities to wallets and reads balances
type Directory interface {
	Resolve(ctx context.Context, identity string) (*Handle, error)
	BalanceOf(ctx context.Context, addr common.Address, token chain.Token) (string, error)
	Balances(ctx context.Context, addr common.Address, tokens []chain.Token) []Balance
	SupportsContractWallets() bool
}

// New returns the plain keypair directory, or the contract wallet directory
// when a factory address is configured
func New(deriver *keys.Deriver, reader ChainReader, factory string, log *slog.Logger) (Directory, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}

	plain := &plainDirectory{deriver: deriver, chain: reader, cache: cache, log: log}
	if factory == "" {
		return plain, nil
	}
	if !common.IsHexAddress(factory) {
		return nil, fmt.Errorf("invalid factory address %q", factory)
	}

	predicted, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &contractDirectory{
		plainDirectory: plain,
		factory:        common.HexToAddress(factory),
		predicted:      predicted,
	}, nil
}

type plainDirectory struct {
	deriver *keys.Deriver
	chain   ChainReader
	cache   *lru.Cache
	log     *slog.Logger
}

func (d *plainDirectory) SupportsContractWallets() bool {
	return false
}

func (d *plainDirectory) Resolve(_ context.Context, identity string) (*Handle, error) {
	derived, err := d.derive(identity)
	if err != nil {
		return nil, err
	}
	return &Handle{
		Identity: derived.Identity,
		Address:  derived.Address,
		Signer:   derived.Key,
		Salt:     derived.Salt,
	}, nil
}

func (d *plainDirectory) derive(identity string) (*keys.Derived, error) {
	if v, ok := d.cache.Get(identity); ok {
		return v.(*keys.Derived), nil
	}

	derived, err := d.deriver.Derive(identity)
	if err != nil {
		return nil, fmt.Errorf("derive wallet: %w", err)
	}
	d.cache.Add(identity, derived)
	return derived, nil
}

func (d *plainDirectory) BalanceOf(ctx context.Context, addr common.Address, token chain.Token) (string, error) {
	dec, err := d.chain.Decimals(ctx, token)
	if err != nil {
		return "", err
	}
	raw, err := d.chain.Balance(ctx, token, addr)
	if err != nil {
		return "", err
	}
	return chain.FromUnits(raw, dec).String(), nil
}

func (d *plainDirectory) Balances(ctx context.Context, addr common.Address, tokens []chain.Token) []Balance {
	out := make([]Balance, len(tokens))

	var g errgroup.Group
	g.SetLimit(4)
	for i, token := range tokens {
		g.Go(func() error {
			amount, err := d.BalanceOf(ctx, addr, token)
			if err != nil {
				d.log.Warn("balance lookup", "token", token.Symbol, "address", addr.Hex(), "error", err)
			}
			out[i] = Balance{Token: token, Amount: amount, Err: err}
			return nil
		})
	}
	g.Wait()

	return out
}

type contractDirectory struct {
	*plainDirectory
	factory   common.Address
	predicted *lru.Cache
}

func (d *contractDirectory) SupportsContractWallets() bool {
	return true
}

// Resolve adds the predicted account address and its deployment status. A
// failing factory leaves the handle as a plain keypair wallet
func (d *contractDirectory) Resolve(ctx context.Context, identity string) (*Handle, error) {
	h, err := d.plainDirectory.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}

	predicted, err := d.predict(ctx, h)
	if err != nil {
		d.log.Warn("predict contract wallet", "wallet", h, "error", err)
		return h, nil
	}
	h.IsContractWallet = true
	h.PredictedAddress = &predicted

	code, err := d.chain.CodeAt(ctx, predicted)
	if err != nil {
		d.log.Warn("check contract wallet deployment", "wallet", h, "error", err)
		return h, nil
	}
	h.IsDeployed = len(code) > 0

	return h, nil
}

func (d *contractDirectory) predict(ctx context.Context, h *Handle) (common.Address, error) {
	if v, ok := d.predicted.Get(h.Identity); ok {
		return v.(common.Address), nil
	}

	addr, err := d.chain.PredictAccount(ctx, d.factory, h.Address, h.Salt)
	if err != nil {
		return common.Address{}, err
	}
	d.predicted.Add(h.Identity, addr)
	return addr, nil
}
