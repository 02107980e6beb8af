package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/cuongpo/Aura-Farming-Core/internal/quest"
	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
)

// errorResponse maps domain errors to a status and a JSON body. Raw provider
// errors never reach the body
func errorResponse(err error) (int, fiber.Map) {
	var te *transfer.Error
	if errors.As(err, &te) {
		body := fiber.Map{"success": false, "error": te.UserMessage(), "kind": string(te.Kind)}
		switch te.Kind {
		case transfer.InvalidInput, transfer.SelfTransfer:
			return fiber.StatusBadRequest, body
		case transfer.InsufficientBalance:
			body["attempted"] = te.Attempted
			body["available"] = te.Available
			return fiber.StatusUnprocessableEntity, body
		case transfer.Timeout:
			return fiber.StatusGatewayTimeout, body
		default:
			return fiber.StatusBadGateway, body
		}
	}

	type mapping struct {
		target error
		status int
		msg    string
	}
	for _, m := range []mapping{
		{storage.ErrNotEligible, fiber.StatusForbidden, "complete today's quest first"},
		{storage.ErrAlreadyOpened, fiber.StatusConflict, "chest already opened today"},
		{storage.ErrAlreadyClaimed, fiber.StatusConflict, "reward already claimed"},
		{storage.ErrClaimInProgress, fiber.StatusConflict, "claim already in progress"},
		{storage.ErrNotClaimable, fiber.StatusBadRequest, "open today's chest before claiming"},
		{quest.ErrNothingToClaim, fiber.StatusBadRequest, "today's chest was empty"},
		{storage.ErrNotFound, fiber.StatusNotFound, "not found"},
	} {
		if errors.Is(err, m.target) {
			return m.status, fiber.Map{"success": false, "error": m.msg}
		}
	}

	return fiber.StatusInternalServerError, fiber.Map{"success": false, "error": "internal error"}
}
