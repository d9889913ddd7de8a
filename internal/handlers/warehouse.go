package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/fulfillment/internal/middleware"
	"github.com/example/fulfillment/internal/models"
	"github.com/example/fulfillment/internal/services"
)

// WarehouseHandler covers the staff pipeline endpoints: pick, pack, ship and
// the inspection of collected returns and replacements.
type WarehouseHandler struct {
	fulfillment *services.FulfillmentService
	returns     *services.ReturnsService
	notifier    *services.NotificationService
}

// NewWarehouseHandler constructs WarehouseHandler.
func NewWarehouseHandler(fulfillment *services.FulfillmentService, returns *services.ReturnsService, notifier *services.NotificationService) *WarehouseHandler {
	return &WarehouseHandler{fulfillment: fulfillment, returns: returns, notifier: notifier}
}

type transitionRequest struct {
	Comment string `json:"comment"`
}

// PickItem moves a pending item to picked.
func (h *WarehouseHandler) PickItem(c *fiber.Ctx) error {
	return h.transition(c, models.ItemPending, models.ItemPicked)
}

// PackItem moves a picked item to packed.
func (h *WarehouseHandler) PackItem(c *fiber.Ctx) error {
	return h.transition(c, models.ItemPicked, models.ItemPacked)
}

// ShipItem moves a packed item to shipped.
func (h *WarehouseHandler) ShipItem(c *fiber.Ctx) error {
	return h.transition(c, models.ItemPacked, models.ItemShipped)
}

func (h *WarehouseHandler) transition(c *fiber.Ctx, expected, next string) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	itemID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req transitionRequest
	_ = c.BodyParser(&req) // comment is optional

	item, events, err := h.fulfillment.Transition(c.Context(), itemID, expected, next, actor, req.Comment)
	if err != nil {
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)
	return ok(c, item)
}

type failItemRequest struct {
	Comment string `json:"comment" validate:"required"`
}

// FailItem branches an undelivered item to failed.
func (h *WarehouseHandler) FailItem(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	itemID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req failItemRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	item, err := h.fulfillment.MarkFailed(c.Context(), itemID, actor, req.Comment)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, item)
}

type inspectionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string `json:"comment"`
}

// InspectReturn records the warehouse verdict on a collected return.
func (h *WarehouseHandler) InspectReturn(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	requestID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req inspectionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	request, err := h.returns.InspectReturn(c.Context(), actor, requestID, req.Decision, req.Comment)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, request)
}

// InspectReplacement records the warehouse verdict on a collected
// replacement.
func (h *WarehouseHandler) InspectReplacement(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	requestID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req inspectionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	request, err := h.returns.InspectReplacement(c.Context(), actor, requestID, req.Decision, req.Comment)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, request)
}
