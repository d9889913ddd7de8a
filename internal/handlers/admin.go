package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/fulfillment/internal/middleware"
	"github.com/example/fulfillment/internal/services"
)

// AdminHandler covers resolution and refund administration.
type AdminHandler struct {
	returns  *services.ReturnsService
	refunds  *services.RefundService
	notifier *services.NotificationService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(returns *services.ReturnsService, refunds *services.RefundService, notifier *services.NotificationService) *AdminHandler {
	return &AdminHandler{returns: returns, refunds: refunds, notifier: notifier}
}

type resolutionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
}

// ResolveReturn records the admin verdict on an inspected return.
func (h *AdminHandler) ResolveReturn(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	requestID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req resolutionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	request, events, err := h.returns.ResolveReturn(c.Context(), actor, requestID, req.Decision)
	if err != nil {
		dispatch(c.Context(), h.notifier, events)
		if request != nil {
			// Approval recorded, refund initiation failed.
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"success": true,
				"data":    request,
				"warning": "resolution recorded, refund initiation failed and can be retried",
			})
		}
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)
	return ok(c, request)
}

// ResolveReplacement records the admin verdict on an inspected replacement.
func (h *AdminHandler) ResolveReplacement(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	requestID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req resolutionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	request, events, err := h.returns.ResolveReplacement(c.Context(), actor, requestID, req.Decision)
	if err != nil {
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)
	return ok(c, request)
}

// CheckOrderRefund reconciles an order's refund status with the gateway.
func (h *AdminHandler) CheckOrderRefund(c *fiber.Ctx) error {
	orderID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	status, err := h.refunds.CheckOrderRefund(c.Context(), orderID)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, fiber.Map{"refund_status": status})
}

// CheckReturnRefund reconciles a return's refund status with the gateway.
func (h *AdminHandler) CheckReturnRefund(c *fiber.Ctx) error {
	requestID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	status, err := h.refunds.CheckReturnRefund(c.Context(), requestID)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, fiber.Map{"refund_status": status})
}

// ConfirmOrderRefund records the manual payout of a COD order refund.
func (h *AdminHandler) ConfirmOrderRefund(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	orderID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.refunds.ConfirmOrderRefund(c.Context(), orderID, actor); err != nil {
		return domainError(c, err)
	}
	return ok(c, fiber.Map{"refund_status": "processed"})
}

// ConfirmReturnRefund records the manual payout of a COD return refund.
func (h *AdminHandler) ConfirmReturnRefund(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	requestID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	events, err := h.refunds.ConfirmReturnRefund(c.Context(), requestID, actor)
	if err != nil {
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)
	return ok(c, fiber.Map{"refund_status": "processed"})
}
