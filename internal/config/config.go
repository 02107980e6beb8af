package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Telegram
	BotToken    string
	BotUsername string
	AdminIDs    map[int64]bool
	WebAppURL   string

	// Chain
	RPCURL         string
	RPCTimeout     time.Duration
	ConfirmTimeout time.Duration
	RPCMinInterval time.Duration
	ExplorerURL    string

	// Wallets
	WalletPepper   string
	FactoryAddress string

	// Tokens
	NativeSymbol     string
	USDTAddress      string
	AuraTokenAddress string
	MinterPrivateKey string
	RewardMode       string
	TipToken         string
	MaxTipAmount     float64

	// Activity
	FlushInterval time.Duration
	MaxBufferSize int
	Timezone      string

	// API
	APIPort        int
	WebAppAuth     bool
	AllowedOrigins string
	RateLimit      int

	// Database
	DBPath string

	LogLevel string
}

// Load reads configuration from the environment and an optional CONFIG_FILE
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		// Telegram
		BotToken:    v.GetString("TELEGRAM_BOT_TOKEN"),
		BotUsername: v.GetString("BOT_USERNAME"),
		AdminIDs:    parseIDs(v.GetString("ADMIN_USER_IDS")),
		WebAppURL:   v.GetString("WEB_APP_URL"),

		// Chain
		RPCURL:         firstNonEmpty(v.GetString("RPC_URL"), v.GetString("CORE_TESTNET_RPC_URL")),
		RPCTimeout:     v.GetDuration("RPC_TIMEOUT"),
		ConfirmTimeout: v.GetDuration("CONFIRM_TIMEOUT"),
		RPCMinInterval: v.GetDuration("RPC_MIN_INTERVAL"),
		ExplorerURL:    strings.TrimSuffix(v.GetString("EXPLORER_URL"), "/"),

		// Wallets
		WalletPepper:   v.GetString("WALLET_PEPPER"),
		FactoryAddress: v.GetString("SIMPLE_ACCOUNT_FACTORY_ADDRESS"),

		// Tokens
		NativeSymbol:     strings.ToUpper(v.GetString("NATIVE_SYMBOL")),
		USDTAddress:      v.GetString("USDT_CONTRACT_ADDRESS"),
		AuraTokenAddress: v.GetString("AURA_TOKEN_CONTRACT_ADDRESS"),
		MinterPrivateKey: firstNonEmpty(v.GetString("MINTER_PRIVATE_KEY"), v.GetString("PRIVATE_KEY")),
		RewardMode:       strings.ToLower(v.GetString("REWARD_MODE")),
		TipToken:         strings.ToUpper(v.GetString("TIP_TOKEN")),
		MaxTipAmount:     v.GetFloat64("MAX_TIP_AMOUNT"),

		// Activity
		FlushInterval: v.GetDuration("FLUSH_INTERVAL"),
		MaxBufferSize: v.GetInt("MAX_BUFFER_SIZE"),
		Timezone:      v.GetString("TIMEZONE"),

		// API
		APIPort:        apiPort(v),
		WebAppAuth:     v.GetBool("WEBAPP_AUTH"),
		AllowedOrigins: v.GetString("ALLOWED_ORIGINS"),
		RateLimit:      v.GetInt("RATE_LIMIT_PER_MINUTE"),

		// Database
		DBPath: v.GetString("DATABASE_PATH"),

		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
	}

	if cfg.RewardMode != "mint" && cfg.RewardMode != "transfer" {
		return nil, fmt.Errorf("invalid REWARD_MODE %q", cfg.RewardMode)
	}
	if cfg.MaxBufferSize <= 0 {
		return nil, errors.New("MAX_BUFFER_SIZE must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return nil, errors.New("FLUSH_INTERVAL must be positive")
	}

	return cfg, nil
}

// Location returns the time zone used for day and week boundaries
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// IsAdmin reports whether the telegram user id is listed in ADMIN_USER_IDS
func (c *Config) IsAdmin(userID int64) bool {
	return c.AdminIDs[userID]
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BOT_USERNAME", "aura_farming_bot")
	v.SetDefault("RPC_URL", "")
	v.SetDefault("CORE_TESTNET_RPC_URL", "https://rpc.test2.btcs.network")
	v.SetDefault("RPC_TIMEOUT", 15*time.Second)
	v.SetDefault("CONFIRM_TIMEOUT", 2*time.Minute)
	v.SetDefault("RPC_MIN_INTERVAL", 50*time.Millisecond)
	v.SetDefault("EXPLORER_URL", "https://scan.test2.btcs.network")
	v.SetDefault("NATIVE_SYMBOL", "CORE")
	v.SetDefault("REWARD_MODE", "mint")
	v.SetDefault("TIP_TOKEN", "USDT")
	v.SetDefault("MAX_TIP_AMOUNT", 1000)
	v.SetDefault("FLUSH_INTERVAL", 30*time.Second)
	v.SetDefault("MAX_BUFFER_SIZE", 100)
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("WEBAPP_AUTH", true)
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 20)
	v.SetDefault("DATABASE_PATH", "./aura.db")
	v.SetDefault("LOG_LEVEL", "info")
}

func apiPort(v *viper.Viper) int {
	if v.IsSet("API_PORT") {
		return v.GetInt("API_PORT")
	}
	if v.IsSet("PORT") {
		return v.GetInt("PORT")
	}
	return 3000
}

func parseIDs(raw string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, idStr := range strings.Split(raw, ",") {
		idStr = strings.TrimSpace(idStr)
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			ids[id] = true
		}
	}
	return ids
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
