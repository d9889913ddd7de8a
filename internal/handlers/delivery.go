package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/fulfillment/internal/middleware"
	"github.com/example/fulfillment/internal/services"
	"github.com/example/fulfillment/internal/utils"
)

// DeliveryHandler covers the delivery agent surface: assignments, handoff
// codes and pickup collection for the post-sale workflow.
type DeliveryHandler struct {
	delivery *services.DeliveryService
	returns  *services.ReturnsService
	notifier *services.NotificationService
}

// NewDeliveryHandler constructs DeliveryHandler.
func NewDeliveryHandler(delivery *services.DeliveryService, returns *services.ReturnsService, notifier *services.NotificationService) *DeliveryHandler {
	return &DeliveryHandler{delivery: delivery, returns: returns, notifier: notifier}
}

type assignOrdersRequest struct {
	DeliveryManID uuid.UUID `json:"delivery_man_id" validate:"required"`
	OrderNumbers  []string  `json:"order_numbers" validate:"required,min=1"`
}

// AssignOrders assigns a batch of orders to an agent. Partial success is the
// normal case: skipped orders come back with their reasons.
func (h *DeliveryHandler) AssignOrders(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req assignOrdersRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.delivery.AssignOrders(c.Context(), actor, req.DeliveryManID, req.OrderNumbers)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, result)
}

// ListAssigned returns the agent's assigned orders.
func (h *DeliveryHandler) ListAssigned(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	p := utils.ParsePagination(c)
	orders, total, err := h.delivery.ListAssignedOrders(c.Context(), actor, p.Limit, p.Offset)
	if err != nil {
		return domainError(c, err)
	}
	return paged(c, orders, total)
}

// RequestHandoffOTP issues a handoff code for an out-for-delivery item.
func (h *DeliveryHandler) RequestHandoffOTP(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	itemID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	row, err := h.delivery.RequestHandoffOTP(c.Context(), actor, itemID)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, fiber.Map{
		"event":      row.Event,
		"expires_at": row.OTPExpiresAt,
	})
}

type otpRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// CompleteDelivery verifies the handoff code and delivers the item.
func (h *DeliveryHandler) CompleteDelivery(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	itemID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req otpRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	item, events, err := h.delivery.CompleteDelivery(c.Context(), actor, itemID, req.Code)
	if err != nil {
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)
	return ok(c, item)
}

// CollectReturnPickup records the OTP-verified collection of a return.
func (h *DeliveryHandler) CollectReturnPickup(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	requestID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req otpRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	request, err := h.returns.CollectReturnPickup(c.Context(), actor, requestID, req.Code)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, request)
}

// CollectReplacementPickup records the OTP-verified collection of a
// replacement's old unit.
func (h *DeliveryHandler) CollectReplacementPickup(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	requestID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req otpRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	request, err := h.returns.CollectReplacementPickup(c.Context(), actor, requestID, req.Code)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, request)
}
