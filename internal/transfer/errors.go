package transfer

import (
	"errors"
	"fmt"

	"github.com/cuongpo/Aura-Farming-Core/internal/chain"
)

// ErrorKind classifies transfer failures
type ErrorKind string

const (
	InvalidInput             ErrorKind = "InvalidInput"
	InsufficientBalance      ErrorKind = "InsufficientBalance"
	SelfTransfer             ErrorKind = "SelfTransfer"
	ChainSubmissionFailure   ErrorKind = "ChainSubmissionFailure"
	ChainConfirmationFailure ErrorKind = "ChainConfirmationFailure"
	Timeout                  ErrorKind = "Timeout"
)

// Error is the typed failure returned by the engine
type Error struct {
	Kind      ErrorKind
	Message   string
	Attempted string
	Available string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage renders the failure for chat replies and API responses
func (e *Error) UserMessage() string {
	switch e.Kind {
	case InvalidInput:
		return e.Message
	case InsufficientBalance:
		return fmt.Sprintf("Insufficient balance: tried to send %s, available %s", e.Attempted, e.Available)
	case SelfTransfer:
		return "You cannot send tokens to yourself"
	case Timeout:
		return "The network did not respond in time. Check your wallet before retrying"
	case ChainConfirmationFailure:
		return "The transaction was submitted but not confirmed"
	default:
		return "The transaction could not be submitted"
	}
}

// KindOf returns the kind of a transfer error, or "" for other errors
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func invalid(format string, args ...any) *Error {
	return &Error{Kind: InvalidInput, Message: fmt.Sprintf(format, args...)}
}

// chainError maps chain client errors onto transfer kinds
func chainError(msg string, err error) *Error {
	kind := ChainSubmissionFailure
	switch {
	case errors.Is(err, chain.ErrTimeout):
		kind = Timeout
	case errors.Is(err, chain.ErrConfirmation):
		kind = ChainConfirmationFailure
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}
