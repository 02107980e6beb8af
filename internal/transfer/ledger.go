package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
)

// Store persists transfer records
type Store interface {
	CreateTransfer(ctx context.Context, rec *storage.TransferRecord) (*storage.TransferRecord, error)
	FinalizeTransfer(ctx context.Context, id int64, status, txHash string, gasUsed uint64, errMsg string) error
	UserByTelegramID(ctx context.Context, telegramID string) (*storage.User, error)
}

// Meta is the bookkeeping attached to a transfer record
type Meta struct {
	Kind    string
	GroupID *int64
	Message string
}

// Ledger wraps the engine with a transfer record per submission: the record is
// created pending before anything is sent and finalized exactly once
type Ledger struct {
	engine *Engine
	store  Store
	log    *slog.Logger
}

// NewLedger creates a new ledger recording every transfer of engine in store
func NewLedger(engine *Engine, store Store, log *slog.Logger) *Ledger {
	return &Ledger{engine: engine, store: store, log: log}
}

// Engine returns the underlying engine
func (l *Ledger) Engine() *Engine {
	return l.engine
}

// Send validates req, records it and executes it
func (l *Ledger) Send(ctx context.Context, req Request, meta Meta) (*Receipt, error) {
	plan, err := l.engine.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	rec := &storage.TransferRecord{
		Ref:          uuid.NewString(),
		Kind:         meta.Kind,
		FromUserID:   l.userID(ctx, req.From),
		FromAddress:  plan.Sender.Address.Hex(),
		ToAddress:    plan.Recipient.Hex(),
		Amount:       plan.Amount.String(),
		Token:        plan.Token.Symbol,
		TokenAddress: tokenAddress(plan),
		Message:      meta.Message,
		GroupID:      meta.GroupID,
	}
	if plan.RecipientIdentity != "" {
		rec.ToUserID = l.userID(ctx, plan.RecipientIdentity)
	}

	created, err := l.store.CreateTransfer(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create transfer record: %w", err)
	}

	receipt, err := l.engine.Execute(ctx, plan)
	l.finalize(ctx, created.ID, receipt, err)
	return receipt, err
}

// IssueChestReward pays a chest reward to identity and returns the transaction
// hash. day is the chest date as YYYY-MM-DD
func (l *Ledger) IssueChestReward(ctx context.Context, identity string, amount int, day string) (string, error) {
	if amount <= 0 {
		return "", invalid("reward must be positive")
	}
	token, ok := l.engine.RewardToken()
	if !ok {
		return "", invalid("rewards are not configured")
	}

	dayNum, ok := new(big.Int).SetString(strings.ReplaceAll(day, "-", ""), 10)
	if !ok {
		return "", invalid("invalid reward day %q", day)
	}

	h, err := l.engine.wallets.Resolve(ctx, identity)
	if err != nil {
		return "", &Error{Kind: InvalidInput, Message: "cannot resolve recipient", Err: err}
	}

	value := decimal.NewFromInt(int64(amount))
	rec := &storage.TransferRecord{
		Ref:          uuid.NewString(),
		Kind:         storage.KindQuestReward,
		ToUserID:     l.userID(ctx, identity),
		FromAddress:  l.engine.MinterAddress().Hex(),
		ToAddress:    h.Address.Hex(),
		Amount:       value.String(),
		Token:        token.Symbol,
		TokenAddress: token.Address.Hex(),
		Message:      "chest " + day,
		Subject:      storage.ChestSubject(identity, day),
	}
	created, err := l.store.CreateTransfer(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("create reward record: %w", err)
	}

	receipt, err := l.engine.IssueReward(ctx, h.Address, value, dayNum)
	l.finalize(ctx, created.ID, receipt, err)
	if err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}

func (l *Ledger) finalize(ctx context.Context, id int64, receipt *Receipt, txErr error) {
	ctx = context.WithoutCancel(ctx)

	var err error
	if txErr != nil {
		err = l.store.FinalizeTransfer(ctx, id, storage.StatusFailed, "", 0, txErr.Error())
	} else {
		err = l.store.FinalizeTransfer(ctx, id, storage.StatusConfirmed, receipt.TxHash, receipt.GasUsed, "")
	}
	if err != nil {
		l.log.Error("finalize transfer record", "id", id, "error", err)
	}
}

func (l *Ledger) userID(ctx context.Context, identity string) *int64 {
	u, err := l.store.UserByTelegramID(ctx, identity)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.log.Warn("lookup user for transfer", "identity", identity, "error", err)
		}
		return nil
	}
	return &u.ID
}

func tokenAddress(plan *Plan) string {
	if plan.Token.Native {
		return ""
	}
	return plan.Token.Address.Hex()
}
