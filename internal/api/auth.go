package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// InitDataHeader carries the Mini-App launch parameters
const InitDataHeader = "X-Telegram-Init-Data"

// MaxInitDataAge bounds how old auth_date may be
const MaxInitDataAge = 24 * time.Hour

var (
	ErrMissingInitData = errors.New("missing init data")
	ErrBadSignature    = errors.New("init data signature mismatch")
	ErrInitDataExpired = errors.New("init data expired")
	ErrNoUser          = errors.New("init data has no user")
)

// WebAppUser is the user embedded in initData
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// ValidateInitData checks the initData signature against botToken and returns
// the embedded user
func ValidateInitData(initData, botToken string, now time.Time) (*WebAppUser, error) {
	if initData == "" {
		return nil, ErrMissingInitData
	}
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("parse init data: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrBadSignature
	}
	values.Del("hash")

	expected := signInitData(values, botToken)
	got, err := hex.DecodeString(hash)
	if err != nil || !hmac.Equal(got, expected) {
		return nil, ErrBadSignature
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse auth_date: %w", err)
	}
	if now.Sub(time.Unix(authDate, 0)) > MaxInitDataAge {
		return nil, ErrInitDataExpired
	}

	raw := values.Get("user")
	if raw == "" {
		return nil, ErrNoUser
	}
	var u WebAppUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("parse user: %w", err)
	}
	if u.ID == 0 {
		return nil, ErrNoUser
	}

	return &u, nil
}

// signInitData computes HMAC-SHA256 over the sorted key=value lines with the
// secret HMAC-SHA256("WebAppData", botToken)
func signInitData(values url.Values, botToken string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}

// authenticate resolves the caller from initData and stores the identity in
// locals. With auth disabled every request is trusted
func (s *Server) authenticate(c *fiber.Ctx) error {
	if !s.opts.Auth {
		return c.Next()
	}

	u, err := ValidateInitData(c.Get(InitDataHeader), s.opts.BotToken, s.clock.Now())
	if err != nil {
		s.log.Debug("reject init data", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "invalid or missing Telegram init data",
		})
	}

	c.Locals(localIdentity, strconv.FormatInt(u.ID, 10))
	return c.Next()
}

// authorize fails unless the authenticated caller is identity
func (s *Server) authorize(c *fiber.Ctx, identity string) error {
	if !s.opts.Auth {
		return nil
	}
	caller, _ := c.Locals(localIdentity).(string)
	if caller == "" || caller != identity {
		return fiber.NewError(fiber.StatusForbidden, "you can only act on your own account")
	}
	return nil
}
