package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/fulfillment/internal/middleware"
	"github.com/example/fulfillment/internal/services"
	"github.com/example/fulfillment/internal/utils"
)

// ReturnsHandler covers the customer side of the post-sale workflow.
type ReturnsHandler struct {
	returns  *services.ReturnsService
	notifier *services.NotificationService
}

// NewReturnsHandler constructs ReturnsHandler.
func NewReturnsHandler(returns *services.ReturnsService, notifier *services.NotificationService) *ReturnsHandler {
	return &ReturnsHandler{returns: returns, notifier: notifier}
}

type createReturnRequest struct {
	OrderItemID uuid.UUID `json:"order_item_id" validate:"required"`
	Reason      string    `json:"reason" validate:"required"`
	PayeeUPI    string    `json:"payee_upi"`
}

// CreateReturn opens a return request for a delivered item.
func (h *ReturnsHandler) CreateReturn(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createReturnRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	request, events, err := h.returns.CreateReturn(c.Context(), actor, req.OrderItemID, req.Reason, req.PayeeUPI)
	if err != nil {
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)
	return created(c, request)
}

type createReplacementRequest struct {
	OrderItemID uuid.UUID `json:"order_item_id" validate:"required"`
	Reason      string    `json:"reason" validate:"required"`
}

// CreateReplacement opens a replacement request for a delivered item.
func (h *ReturnsHandler) CreateReplacement(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createReplacementRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	request, events, err := h.returns.CreateReplacement(c.Context(), actor, req.OrderItemID, req.Reason)
	if err != nil {
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)
	return created(c, request)
}

// GetReturn returns one return request.
func (h *ReturnsHandler) GetReturn(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	request, err := h.returns.GetReturn(c.Context(), actor, id)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, request)
}

// ListReturns lists return requests visible to the caller.
func (h *ReturnsHandler) ListReturns(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	p := utils.ParsePagination(c)
	requests, total, err := h.returns.ListReturns(c.Context(), actor, c.Query("status"), p.Limit, p.Offset)
	if err != nil {
		return domainError(c, err)
	}
	return paged(c, requests, total)
}

// GetReplacement returns one replacement request.
func (h *ReturnsHandler) GetReplacement(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	request, err := h.returns.GetReplacement(c.Context(), actor, id)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, request)
}

// ListReplacements lists replacement requests visible to the caller.
func (h *ReturnsHandler) ListReplacements(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	p := utils.ParsePagination(c)
	requests, total, err := h.returns.ListReplacements(c.Context(), actor, c.Query("status"), p.Limit, p.Offset)
	if err != nil {
		return domainError(c, err)
	}
	return paged(c, requests, total)
}
