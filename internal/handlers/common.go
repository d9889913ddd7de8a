package handlers

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/fulfillment/internal/models"
	"github.com/example/fulfillment/internal/services"
)

var validate = validator.New()

// ok wraps a payload in the standard success envelope.
func ok(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{"success": true, "data": data})
}

func created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": data})
}

// paged wraps a list payload with its total count.
func paged(c *fiber.Ctx, data any, total int64) error {
	return c.JSON(fiber.Map{"success": true, "data": data, "total": total})
}

// domainError maps service-layer errors onto HTTP statuses. Conflicts carry
// the id of the blocking resource so clients can recover.
func domainError(c *fiber.Ctx, err error) error {
	var validationErr *models.ValidationError
	var transitionErr *models.InvalidTransitionError
	var conflictErr *models.ConflictError
	var gatewayErr *models.GatewayError

	switch {
	case errors.Is(err, models.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "not found")
	case errors.Is(err, models.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, "forbidden")
	case errors.Is(err, models.ErrInsufficientStock):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, models.ErrOTPInvalid), errors.Is(err, models.ErrOTPExpired):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &validationErr):
		return fiber.NewError(fiber.StatusBadRequest, validationErr.Reason)
	case errors.As(err, &transitionErr):
		return fiber.NewError(fiber.StatusConflict, transitionErr.Error())
	case errors.As(err, &conflictErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success":     false,
			"error":       conflictErr.Reason,
			"existing_id": conflictErr.ExistingID,
		})
	case errors.As(err, &gatewayErr):
		return fiber.NewError(fiber.StatusBadGateway, gatewayErr.Error())
	}
	return err
}

func parseID(c *fiber.Ctx, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(param))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// dispatch pushes domain events through the notifier without blocking the
// response on delivery.
func dispatch(ctx context.Context, notifier *services.NotificationService, events []services.Event) {
	if notifier == nil || len(events) == 0 {
		return
	}
	notifier.DispatchEvents(ctx, events)
}
