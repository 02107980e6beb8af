package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

var (
	ErrTimeout      = errors.New("rpc timeout")
	ErrSubmission   = errors.New("submit transaction")
	ErrConfirmation = errors.New("confirm transaction")
)

// Backend is the subset of an ethclient the chain client needs
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Options bounds every RPC call
type Options struct {
	Timeout        time.Duration
	ConfirmTimeout time.Duration
	MinInterval    time.Duration
}

// Receipt is the confirmed outcome of a submitted transaction
type Receipt struct {
	TxHash      common.Hash
	GasUsed     uint64
	BlockNumber uint64
	From        common.Address
	To          common.Address
}

// Client is a throttled JSON-RPC client with bounded calls
type Client struct {
	backend Backend
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger

	decimals *lru.Cache

	chainMu sync.Mutex
	chainID *big.Int
}

// Dial connects to a JSON-RPC endpoint
func Dial(ctx context.Context, url string, opts Options, log *slog.Logger) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ec, err := ethclient.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return New(ec, opts, log), nil
}

// New wraps an existing backend
func New(backend Backend, opts Options, log *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	cache, _ := lru.New(64)
	return &Client{
		backend:  backend,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log,
		decimals: cache,
	}
}

// Close releases the underlying connection when the backend owns one
func (c *Client) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// call runs fn under the throttle with a bounded context. Deadline errors are
// reported as ErrTimeout
func (c *Client) call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classify(ctx, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := fn(callCtx); err != nil {
		return classify(callCtx, err)
	}
	return nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// NativeBalance returns the raw native balance of addr
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var bal *big.Int
	err := c.call(ctx, c.opts.Timeout, func(ctx context.Context) error {
		var err error
		bal, err = c.backend.BalanceAt(ctx, addr, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("native balance: %w", err)
	}
	return bal, nil
}

// CodeAt returns the deployed bytecode at addr
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	err := c.call(ctx, c.opts.Timeout, func(ctx context.Context) error {
		var err error
		code, err = c.backend.CodeAt(ctx, addr, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("code at: %w", err)
	}
	return code, nil
}

func (c *Client) callContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := c.call(ctx, c.opts.Timeout, func(ctx context.Context) error {
		var err error
		out, err = c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	return out, err
}

func (c *Client) chain(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()

	if c.chainID != nil {
		return c.chainID, nil
	}

	err := c.call(ctx, c.opts.Timeout, func(ctx context.Context) error {
		id, err := c.backend.ChainID(ctx)
		if err != nil {
			return err
		}
		c.chainID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return c.chainID, nil
}

// send signs and submits a legacy transaction, then waits for one confirmation.
// Callers serialize sends per key
func (c *Client) send(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte) (*Receipt, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	chainID, err := c.chain(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	var signed *types.Transaction
	err = c.call(ctx, c.opts.Timeout, func(ctx context.Context) error {
		nonce, err := c.backend.PendingNonceAt(ctx, from)
		if err != nil {
			return fmt.Errorf("nonce: %w", err)
		}
		gasPrice, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("gas price: %w", err)
		}
		gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		if err != nil {
			return fmt.Errorf("estimate gas: %w", err)
		}

		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     data,
		})
		signed, err = types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
		if err != nil {
			return fmt.Errorf("sign: %w", err)
		}

		return c.backend.SendTransaction(ctx, signed)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	c.log.Info("transaction submitted", "hash", signed.Hash().Hex(), "from", from.Hex(), "to", to.Hex())

	var receipt *types.Receipt
	err = c.call(ctx, c.opts.ConfirmTimeout, func(ctx context.Context) error {
		var err error
		receipt, err = bind.WaitMined(ctx, c.backend, signed)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfirmation, signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s reverted", ErrConfirmation, signed.Hash().Hex())
	}

	r := &Receipt{
		TxHash:  receipt.TxHash,
		GasUsed: receipt.GasUsed,
		From:    from,
		To:      to,
	}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return r, nil
}
