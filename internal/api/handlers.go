package api

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cuongpo/Aura-Farming-Core/internal/chain"
	"github.com/cuongpo/Aura-Farming-Core/internal/quest"
	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
)

type transferRequest struct {
	Identity  string `json:"identity"`
	Token     string `json:"token"`
	ToAddress string `json:"toAddress"`
	Amount    string `json:"amount"`
	Message   string `json:"message"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.SendString("OK")
}

func (s *Server) handleWallet(c *fiber.Ctx) error {
	identity := c.Params("identity")
	if err := s.authorize(c, identity); err != nil {
		return err
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	h, err := s.deps.Wallets.Resolve(ctx, identity)
	if err != nil {
		return err
	}

	balances := fiber.Map{}
	for _, b := range s.deps.Wallets.Balances(ctx, h.Address, s.deps.Tokens.All()) {
		if b.Err != nil {
			s.log.Warn("read balance", "wallet", h, "token", b.Token.Symbol, "error", b.Err)
			balances[strings.ToLower(b.Token.Symbol)] = nil
			continue
		}
		balances[strings.ToLower(b.Token.Symbol)] = b.Amount
	}

	body := fiber.Map{
		"success":                 true,
		"address":                 h.Address.Hex(),
		"walletType":              h.Type(),
		"isDeployed":              h.IsDeployed,
		"supportsContractWallets": s.deps.Wallets.SupportsContractWallets(),
		"balances":                balances,
	}
	if h.PredictedAddress != nil {
		body["predictedAddress"] = h.PredictedAddress.Hex()
	}
	return c.JSON(body)
}

// handleRewardBalance reads only the reward token balance of a wallet
func (s *Server) handleRewardBalance(c *fiber.Ctx) error {
	identity := c.Params("identity")
	if err := s.authorize(c, identity); err != nil {
		return err
	}
	token, ok := s.deps.Tokens.Lookup(s.opts.RewardSymbol)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "reward token not configured")
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	h, err := s.deps.Wallets.Resolve(ctx, identity)
	if err != nil {
		return err
	}

	b := s.deps.Wallets.Balances(ctx, h.Address, []chain.Token{token})[0]
	if b.Err != nil {
		s.log.Warn("read balance", "wallet", h, "token", token.Symbol, "error", b.Err)
		return fiber.NewError(fiber.StatusBadGateway, "balance unavailable")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"address": h.Address.Hex(),
		"balance": b.Amount,
		"token":   token.Symbol,
	})
}

func (s *Server) handleTransfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if req.Identity == "" {
		return fiber.NewError(fiber.StatusBadRequest, "identity is required")
	}
	if err := s.authorize(c, req.Identity); err != nil {
		return err
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	r, err := s.deps.Transfers.Send(ctx, transfer.Request{
		From:      req.Identity,
		ToAddress: req.ToAddress,
		Amount:    req.Amount,
		Token:     req.Token,
	}, transfer.Meta{Kind: storage.KindPeerTransfer, Message: req.Message})
	if err != nil {
		return err
	}

	if s.deps.Notify != nil {
		if id, perr := strconv.ParseInt(req.Identity, 10, 64); perr == nil {
			s.deps.Notify.TransferSent(ctx, id, r)
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"txHash":  r.TxHash,
		"gasUsed": r.GasUsed,
		"amount":  r.Amount.String(),
		"token":   r.Token.Symbol,
		"to":      r.To.Hex(),
	})
}

func (s *Server) handleQuest(c *fiber.Ctx) error {
	identity := c.Params("identity")
	if err := s.authorize(c, identity); err != nil {
		return err
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	st, err := s.deps.Quests.Status(ctx, identity)
	if err != nil {
		return err
	}

	q := fiber.Map{
		"type":      st.Quest.QuestType,
		"completed": st.Quest.Completed,
	}
	if st.Quest.CompletedAt != nil {
		q["completedAt"] = st.Quest.CompletedAt.UTC()
	}

	var chest fiber.Map
	if ch := st.Chest; ch != nil {
		chest = fiber.Map{
			"eligible": ch.Eligible,
			"opened":   ch.Opened,
			"reward":   ch.Reward,
			"claimed":  ch.Claimed(),
			"claiming": ch.Claiming,
		}
		if ch.TxHash != "" {
			chest["txHash"] = ch.TxHash
		}
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"date":         st.Date,
		"quest":        q,
		"chest":        chest,
		"messageCount": st.Messages,
	})
}

func (s *Server) handleOpenChest(c *fiber.Ctx) error {
	identity := c.Params("identity")
	if err := s.authorize(c, identity); err != nil {
		return err
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	reward, err := s.deps.Quests.OpenChest(ctx, identity)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "reward": reward})
}

func (s *Server) handleClaim(c *fiber.Ctx) error {
	identity := c.Params("identity")
	if err := s.authorize(c, identity); err != nil {
		return err
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	claim, err := s.deps.Quests.Claim(ctx, identity)
	if err != nil {
		return err
	}

	if s.deps.Notify != nil {
		if id, perr := strconv.ParseInt(identity, 10, 64); perr == nil {
			s.deps.Notify.ChestClaimed(ctx, id, claim, s.opts.RewardSymbol)
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"date":    claim.Date,
		"reward":  claim.Reward,
		"txHash":  claim.TxHash,
	})
}

func (s *Server) handleQuestHistory(c *fiber.Ctx) error {
	identity := c.Params("identity")
	if err := s.authorize(c, identity); err != nil {
		return err
	}
	days := c.QueryInt("days", quest.HistoryDays)
	if days <= 0 || days > 90 {
		return fiber.NewError(fiber.StatusBadRequest, "days must be between 1 and 90")
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	history, err := s.deps.Quests.History(ctx, identity, days)
	if err != nil {
		return err
	}
	stats, err := s.deps.Quests.Stats(ctx, identity)
	if err != nil {
		return err
	}

	entries := make([]fiber.Map, 0, len(history))
	for _, h := range history {
		entries = append(entries, fiber.Map{
			"date":      h.Date,
			"completed": h.Completed,
			"eligible":  h.Eligible,
			"opened":    h.Opened,
			"reward":    h.Reward,
			"txHash":    h.TxHash,
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"history": entries,
		"stats": fiber.Map{
			"totalQuests":     stats.TotalQuests,
			"completedQuests": stats.CompletedQuests,
			"totalEarned":     stats.TotalEarned,
			"totalClaimed":    stats.TotalClaimed,
		},
	})
}
