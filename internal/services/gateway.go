package services

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeIntent is the gateway-side order created before an online payment.
type ChargeIntent struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
}

// GatewayRefund statuses reported by the payment rail.
const (
	GatewayRefundPending   = "pending"
	GatewayRefundProcessed = "processed"
	GatewayRefundFailed    = "failed"
)

// GatewayRefund is the gateway's view of a refund.
type GatewayRefund struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentGateway is the narrow typed contract the engine consumes. Refund and
// charge fields are never accessed by untyped key lookup.
type PaymentGateway interface {
	CreateChargeIntent(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*ChargeIntent, error)
	VerifySignature(orderID, paymentID, signature string) bool
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (*GatewayRefund, error)
	FetchRefund(ctx context.Context, refundID string) (*GatewayRefund, error)
}

// NotificationChannel delivers one notification row to a user. Multi-channel
// fan-out is the caller's concern; the engine only records the outcome.
type NotificationChannel interface {
	Send(ctx context.Context, email, phone, text string) error
}
