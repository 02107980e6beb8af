package telegram

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
)

var (
	errTipUsage      = errors.New("usage: /tip @username|user_id amount [message]")
	errTransferUsage = errors.New("usage: /transfer <token> <0xaddress> <amount>")
)

// parseCommand splits "/cmd@bot args" into "cmd" and "args". Commands
// addressed to another bot are ignored
func parseCommand(text, botUsername string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}

	head, rest, _ := strings.Cut(text[1:], " ")
	name, target, addressed := strings.Cut(head, "@")
	if addressed && botUsername != "" && !strings.EqualFold(target, botUsername) {
		return "", "", false
	}
	if name == "" {
		return "", "", false
	}

	return strings.ToLower(name), strings.TrimSpace(rest), true
}

type tipArgs struct {
	// Username without @, or empty when UserID is set
	Username string
	UserID   string
	Amount   decimal.Decimal
	Message  string
}

// parseTipArgs parses "@user 10 thanks" or "12345 10". When replyTo is set the
// target may be omitted: "10 thanks". An explicit target always wins over the
// reply
func parseTipArgs(args, replyTo string) (*tipArgs, error) {
	fields := strings.Fields(args)

	var t tipArgs
	switch {
	case len(fields) > 0 && strings.HasPrefix(fields[0], "@"):
		t.Username = strings.TrimPrefix(fields[0], "@")
		fields = fields[1:]
	case len(fields) > 1 && isNumeric(fields[0]) && isAmount(fields[1]):
		t.UserID = fields[0]
		fields = fields[1:]
	case replyTo != "":
		t.UserID = replyTo
	case len(fields) > 0 && isNumeric(fields[0]):
		t.UserID = fields[0]
		fields = fields[1:]
	}
	if t.Username == "" && t.UserID == "" || len(fields) == 0 {
		return nil, errTipUsage
	}

	amount, err := transfer.ParseAmount(fields[0])
	if err != nil {
		return nil, err
	}
	t.Amount = amount
	t.Message = strings.Join(fields[1:], " ")
	return &t, nil
}

type transferArgs struct {
	Token   string
	Address string
	Amount  decimal.Decimal
}

// parseTransferArgs parses "<token> <0xaddress> <amount>"
func parseTransferArgs(args string) (*transferArgs, error) {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		return nil, errTransferUsage
	}
	if !transfer.IsAddress(fields[1]) {
		return nil, &transfer.Error{Kind: transfer.InvalidInput, Message: "invalid address, expected 0x followed by 40 hex characters"}
	}
	amount, err := transfer.ParseAmount(fields[2])
	if err != nil {
		return nil, err
	}
	return &transferArgs{Token: strings.ToUpper(fields[0]), Address: fields[1], Amount: amount}, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

func isAmount(s string) bool {
	_, err := decimal.NewFromString(s)
	return err == nil
}
