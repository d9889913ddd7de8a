package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/fulfillment/internal/models"
)

// RazorpayService talks to the Razorpay REST API. Amounts cross the wire in
// minor currency units.
type RazorpayService struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// NewRazorpayService creates a gateway client with the merchant credentials.
func NewRazorpayService(keyID, keySecret, baseURL string) *RazorpayService {
	return &RazorpayService{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type razorpayOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type razorpayRefundRequest struct {
	Amount int64 `json:"amount"`
}

type razorpayRefundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateChargeIntent registers a gateway order for the given amount.
func (s *RazorpayService) CreateChargeIntent(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*ChargeIntent, error) {
	payload := razorpayOrderRequest{
		Amount:   toMinorUnits(amount),
		Currency: currency,
		Receipt:  receipt,
	}

	var result razorpayOrderResponse
	if err := s.post(ctx, "/orders", payload, &result); err != nil {
		return nil, &models.GatewayError{Op: "create_charge_intent", Err: err}
	}

	return &ChargeIntent{
		ID:       result.ID,
		Amount:   fromMinorUnits(result.Amount),
		Currency: result.Currency,
		Receipt:  result.Receipt,
	}, nil
}

// VerifySignature checks the checkout callback signature:
// HMAC-SHA256(order_id + "|" + payment_id) with the key secret.
func (s *RazorpayService) VerifySignature(orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.keySecret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Refund initiates a refund against a captured payment.
func (s *RazorpayService) Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (*GatewayRefund, error) {
	payload := razorpayRefundRequest{Amount: toMinorUnits(amount)}

	var result razorpayRefundResponse
	path := fmt.Sprintf("/payments/%s/refund", paymentID)
	if err := s.post(ctx, path, payload, &result); err != nil {
		return nil, &models.GatewayError{Op: "refund", Err: err}
	}

	return &GatewayRefund{
		ID:     result.ID,
		Status: result.Status,
		Amount: fromMinorUnits(result.Amount),
	}, nil
}

// FetchRefund polls the gateway for the current refund status.
func (s *RazorpayService) FetchRefund(ctx context.Context, refundID string) (*GatewayRefund, error) {
	var result razorpayRefundResponse
	path := fmt.Sprintf("/refunds/%s", refundID)
	if err := s.get(ctx, path, &result); err != nil {
		return nil, &models.GatewayError{Op: "fetch_refund", Err: err}
	}

	return &GatewayRefund{
		ID:     result.ID,
		Status: result.Status,
		Amount: fromMinorUnits(result.Amount),
	}, nil
}

func (s *RazorpayService) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return s.do(req, out)
}

func (s *RazorpayService) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}

	return s.do(req, out)
}

func (s *RazorpayService) do(req *http.Request, out any) error {
	req.SetBasicAuth(s.keyID, s.keySecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr razorpayErrorResponse
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("razorpay %s: %s", apiErr.Error.Code, apiErr.Error.Description)
		}
		log.Printf("[Razorpay] Unexpected status %d for %s", resp.StatusCode, req.URL.Path)
		return fmt.Errorf("razorpay returned status %d", resp.StatusCode)
	}

	return json.Unmarshal(raw, out)
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100))
}
