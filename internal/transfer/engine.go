package transfer

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/cuongpo/Aura-Farming-Core/internal/chain"
	"github.com/cuongpo/Aura-Farming-Core/internal/wallet"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Chain is the write side of the chain client
type Chain interface {
	Decimals(ctx context.Context, token chain.Token) (uint8, error)
	Transfer(ctx context.Context, key *ecdsa.PrivateKey, token chain.Token, to common.Address, amount *big.Int) (*chain.Receipt, error)
	MintChestReward(ctx context.Context, key *ecdsa.PrivateKey, token chain.Token, to common.Address, amount, day *big.Int) (*chain.Receipt, error)
}

// Wallets resolves identities and reads balances
type Wallets interface {
	Resolve(ctx context.Context, identity string) (*wallet.Handle, error)
	BalanceOf(ctx context.Context, addr common.Address, token chain.Token) (string, error)
}

// Request describes a transfer from an identity to another identity or to a
// raw address. ToAddress wins when both are set
type Request struct {
	From      string
	To        string
	ToAddress string
	Amount    string
	Token     string
}

// Plan is a validated request with both parties resolved
type Plan struct {
	Sender            *wallet.Handle
	Recipient         common.Address
	RecipientIdentity string
	Token             chain.Token
	Amount            decimal.Decimal
}

// Receipt is a confirmed transfer
type Receipt struct {
	TxHash  string
	GasUsed uint64
	From    common.Address
	To      common.Address
	Token   chain.Token
	Amount  decimal.Decimal
}

// RewardConfig describes how chest rewards are paid out
type RewardConfig struct {
	Token  chain.Token
	Minter *ecdsa.PrivateKey
	Mint   bool
}

// Engine executes transfers between derived wallets. Submissions from the
// same address are serialized so nonces never collide
type Engine struct {
	wallets Wallets
	chain   Chain
	tokens  *chain.Registry
	reward  *RewardConfig
	log     *slog.Logger

	mu    sync.Mutex
	locks map[common.Address]*senderLock
}

// senderLock is dropped from the map once nobody holds or waits on it
type senderLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine creates a transfer engine. reward may be nil when chest rewards
// are not configured
func NewEngine(wallets Wallets, c Chain, tokens *chain.Registry, reward *RewardConfig, log *slog.Logger) *Engine {
	return &Engine{
		wallets: wallets,
		chain:   c,
		tokens:  tokens,
		reward:  reward,
		log:     log,
		locks:   make(map[common.Address]*senderLock),
	}
}

// Transfer validates, resolves and executes req
func (e *Engine) Transfer(ctx context.Context, req Request) (*Receipt, error) {
	plan, err := e.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan)
}

// Prepare validates req and resolves both parties. Malformed input is
// rejected before any wallet or chain access
func (e *Engine) Prepare(ctx context.Context, req Request) (*Plan, error) {
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	token, ok := e.tokens.Lookup(req.Token)
	if !ok {
		return nil, invalid("unsupported token %q", req.Token)
	}

	if req.From == "" {
		return nil, invalid("sender is required")
	}

	toAddress := strings.TrimSpace(req.ToAddress)
	switch {
	case toAddress != "":
		if !addressPattern.MatchString(toAddress) {
			return nil, invalid("invalid address %q", toAddress)
		}
		if common.HexToAddress(toAddress) == (common.Address{}) {
			return nil, invalid("cannot send to the zero address")
		}
	case req.To == "":
		return nil, invalid("recipient is required")
	case req.To == req.From:
		return nil, &Error{Kind: SelfTransfer, Message: "sender and recipient are the same identity"}
	}

	sender, err := e.wallets.Resolve(ctx, req.From)
	if err != nil {
		return nil, &Error{Kind: InvalidInput, Message: "cannot resolve sender", Err: err}
	}

	plan := &Plan{Sender: sender, Token: token, Amount: amount}
	if toAddress != "" {
		plan.Recipient = common.HexToAddress(toAddress)
	} else {
		recipient, err := e.wallets.Resolve(ctx, req.To)
		if err != nil {
			return nil, &Error{Kind: InvalidInput, Message: "cannot resolve recipient", Err: err}
		}
		plan.Recipient = recipient.Address
		plan.RecipientIdentity = req.To
	}

	if plan.Recipient == sender.Address {
		return nil, &Error{Kind: SelfTransfer, Message: "sender and recipient are the same address"}
	}

	return plan, nil
}

// Execute checks the sender balance and submits exactly one transaction
func (e *Engine) Execute(ctx context.Context, plan *Plan) (*Receipt, error) {
	unlock := e.lock(plan.Sender.Address)
	defer unlock()

	decimals, err := e.chain.Decimals(ctx, plan.Token)
	if err != nil {
		return nil, chainError("read token decimals", err)
	}
	raw, err := chain.ToUnits(plan.Amount, decimals)
	if err != nil {
		return nil, &Error{Kind: InvalidInput, Message: "too many decimal places", Err: err}
	}

	available, err := e.wallets.BalanceOf(ctx, plan.Sender.Address, plan.Token)
	if err != nil {
		return nil, chainError("read balance", err)
	}
	bal, err := decimal.NewFromString(available)
	if err != nil {
		return nil, chainError("read balance", err)
	}
	if bal.LessThan(plan.Amount) {
		return nil, &Error{
			Kind:      InsufficientBalance,
			Message:   "insufficient " + plan.Token.Symbol + " balance",
			Attempted: plan.Amount.String(),
			Available: available,
		}
	}

	r, err := e.chain.Transfer(ctx, plan.Sender.Signer, plan.Token, plan.Recipient, raw)
	if err != nil {
		e.log.Warn("transfer failed", "wallet", plan.Sender, "to", plan.Recipient.Hex(), "token", plan.Token.Symbol, "error", err)
		return nil, chainError("transfer "+plan.Token.Symbol, err)
	}

	e.log.Info("transfer confirmed", "wallet", plan.Sender, "to", plan.Recipient.Hex(),
		"token", plan.Token.Symbol, "amount", plan.Amount.String(), "hash", r.TxHash.Hex())

	return &Receipt{
		TxHash:  r.TxHash.Hex(),
		GasUsed: r.GasUsed,
		From:    plan.Sender.Address,
		To:      plan.Recipient,
		Token:   plan.Token,
		Amount:  plan.Amount,
	}, nil
}

// RewardToken returns the token chest rewards are paid in
func (e *Engine) RewardToken() (chain.Token, bool) {
	if e.reward == nil || e.reward.Minter == nil {
		return chain.Token{}, false
	}
	return e.reward.Token, true
}

// MinterAddress returns the address paying chest rewards
func (e *Engine) MinterAddress() common.Address {
	if e.reward == nil || e.reward.Minter == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(e.reward.Minter.PublicKey)
}

// IssueReward pays amount reward tokens to to, either by minting through the
// reward contract or by a transfer from the minter wallet
func (e *Engine) IssueReward(ctx context.Context, to common.Address, amount decimal.Decimal, day *big.Int) (*Receipt, error) {
	token, ok := e.RewardToken()
	if !ok {
		return nil, invalid("rewards are not configured")
	}
	if !amount.IsPositive() {
		return nil, invalid("reward must be positive")
	}

	minter := e.MinterAddress()
	unlock := e.lock(minter)
	defer unlock()

	decimals, err := e.chain.Decimals(ctx, token)
	if err != nil {
		return nil, chainError("read reward decimals", err)
	}
	raw, err := chain.ToUnits(amount, decimals)
	if err != nil {
		return nil, &Error{Kind: InvalidInput, Message: "invalid reward amount", Err: err}
	}

	var r *chain.Receipt
	if e.reward.Mint {
		r, err = e.chain.MintChestReward(ctx, e.reward.Minter, token, to, raw, day)
	} else {
		r, err = e.chain.Transfer(ctx, e.reward.Minter, token, to, raw)
	}
	if err != nil {
		e.log.Warn("reward failed", "to", to.Hex(), "amount", amount.String(), "error", err)
		return nil, chainError("issue reward", err)
	}

	return &Receipt{
		TxHash:  r.TxHash.Hex(),
		GasUsed: r.GasUsed,
		From:    minter,
		To:      to,
		Token:   token,
		Amount:  amount,
	}, nil
}

func (e *Engine) lock(addr common.Address) func() {
	e.mu.Lock()
	l, ok := e.locks[addr]
	if !ok {
		l = &senderLock{}
		e.locks[addr] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, addr)
		}
		e.mu.Unlock()
	}
}

// ParseAmount parses a positive decimal amount
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, invalid("invalid amount %q", s)
	}
	if !amount.IsPositive() {
		return decimal.Zero, invalid("amount must be greater than zero")
	}
	return amount, nil
}

// IsAddress reports whether s is a 0x-prefixed 20 byte hex address
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}
