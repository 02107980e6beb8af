package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"

	"github.com/cuongpo/Aura-Farming-Core/internal/chain"
	"github.com/cuongpo/Aura-Farming-Core/internal/quest"
	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
	"github.com/cuongpo/Aura-Farming-Core/internal/wallet"
)

const localIdentity = "identity"

// Wallets resolves identities and reads balances
type Wallets interface {
	Resolve(ctx context.Context, identity string) (*wallet.Handle, error)
	Balances(ctx context.Context, addr common.Address, tokens []chain.Token) []wallet.Balance
	SupportsContractWallets() bool
}

// Transfers records and executes transfers
type Transfers interface {
	Send(ctx context.Context, req transfer.Request, meta transfer.Meta) (*transfer.Receipt, error)
}

// Quests is the daily quest engine
type Quests interface {
	Status(ctx context.Context, identity string) (*quest.Status, error)
	OpenChest(ctx context.Context, identity string) (int, error)
	Claim(ctx context.Context, identity string) (*quest.Claim, error)
	History(ctx context.Context, identity string, days int) ([]storage.QuestHistoryEntry, error)
	Stats(ctx context.Context, identity string) (*storage.QuestStats, error)
}

// Notifier confirms API actions in the user's chat
type Notifier interface {
	TransferSent(ctx context.Context, userID int64, r *transfer.Receipt)
	ChestClaimed(ctx context.Context, userID int64, c *quest.Claim, symbol string)
}

type Deps struct {
	Wallets   Wallets
	Transfers Transfers
	Quests    Quests
	Tokens    *chain.Registry
	// Notify is optional
	Notify Notifier
}

type Options struct {
	BotToken       string
	Auth           bool
	AllowedOrigins string
	RewardSymbol   string
	RequestTimeout time.Duration
}

// Server is the Mini-App HTTP API
type Server struct {
	app   *fiber.App
	deps  Deps
	opts  Options
	clock clockwork.Clock
	log   *slog.Logger
}

// NewServer creates the API and registers its routes
func NewServer(deps Deps, opts Options, clock clockwork.Clock, log *slog.Logger) *Server {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 3 * time.Minute
	}
	if opts.AllowedOrigins == "" {
		opts.AllowedOrigins = "*"
	}

	s := &Server{deps: deps, opts: opts, clock: clock, log: log}
	s.app = fiber.New(fiber.Config{
		AppName:               "aura-farming",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: opts.AllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, " + InitDataHeader,
	}))

	s.app.Get("/health", s.handleHealth)

	api := s.app.Group("/api", s.authenticate)
	api.Get("/wallet/:identity", s.handleWallet)
	api.Get("/aura-balance/:identity", s.handleRewardBalance)
	api.Post("/transfer", s.handleTransfer)
	api.Get("/quest/:identity", s.handleQuest)
	api.Post("/open-chest/:identity", s.handleOpenChest)
	api.Post("/claim-aura/:identity", s.handleClaim)
	api.Get("/quest-history/:identity", s.handleQuestHistory)

	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start serves on port until ctx is done
func (s *Server) Start(ctx context.Context, port int) error {
	s.log.Info("starting api server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			s.log.Error("shutdown api server", "error", err)
		}
	}()

	if err := s.app.Listen(fmt.Sprintf(":%d", port)); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"success": false, "error": fe.Message})
	}

	status, body := errorResponse(err)
	if status >= fiber.StatusInternalServerError {
		s.log.Error("api request failed", "method", c.Method(), "path", c.Path(), "error", err)
	} else {
		s.log.Debug("api request rejected", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(body)
}

func (s *Server) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.opts.RequestTimeout)
}
