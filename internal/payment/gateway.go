package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GatewayError is a business failure reported by the payment provider. It is
// an expected error class and carries enough detail for operational
// diagnosis; it is never retried at this layer.
type GatewayError struct {
	Method  string
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: code=%s message=%s", e.Method, e.Code, e.Message)
}

// GatewayConfig configures the provider adapter.
type GatewayConfig struct {
	BaseURL     string
	TerminalKey string
	SecretKey   string
	// PublicURL is this deployment's externally reachable base URL, used to
	// build webhook and success/fail callback URLs.
	PublicURL     string
	Timeout       time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

// Gateway wraps the provider's Init and Cancel operations. Transport errors
// and HTTP statuses >= 400 are retried with a linear backoff; an explicit
// failure flag in the provider envelope surfaces as *GatewayError.
type Gateway struct {
	cfg    GatewayConfig
	http   *http.Client
	logger *zap.Logger
}

// NewGateway creates a new payment gateway adapter
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	return &Gateway{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: util.GetLogger(),
	}
}

// InitResult is the outcome of a successful payment initialization.
type InitResult struct {
	Amount     int64
	PaymentURL string
	PaymentID  string
}

// CancelResult is the outcome of a successful payment cancellation.
type CancelResult struct {
	OrderID int64
}

type receiptItem struct {
	Name     string `json:"Name"`
	Quantity int64  `json:"Quantity"`
	Price    int64  `json:"Price"`
	Amount   int64  `json:"Amount"`
	Tax      string `json:"Tax"`
}

type receipt struct {
	Phone    string        `json:"Phone,omitempty"`
	Email    string        `json:"Email,omitempty"`
	Taxation string        `json:"Taxation"`
	Items    []receiptItem `json:"Items"`
}

type providerResponse struct {
	Success    bool        `json:"Success"`
	ErrorCode  string      `json:"ErrorCode"`
	Message    string      `json:"Message"`
	Status     string      `json:"Status"`
	Amount     int64       `json:"Amount"`
	OrderID    json.Number `json:"OrderId"`
	PaymentID  json.Number `json:"PaymentId"`
	PaymentURL string      `json:"PaymentURL"`
}

// Init registers a payment for the order with the provider and returns the
// redirect URL. The total is the sum of the frozen line amounts, never a
// recomputation from the order header, so it always matches what was
// persisted.
func (g *Gateway) Init(ctx context.Context, order *models.Order, items []models.OrderItem) (*InitResult, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.Init")
	defer span.End()

	util.PaymentInitTotal.Inc()

	receiptItems := make([]receiptItem, 0, len(items))
	var total int64
	for _, item := range items {
		amount := minorUnits(item.Amount)
		receiptItems = append(receiptItems, receiptItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    minorUnits(item.DiscountedPrice),
			Amount:   amount,
			Tax:      taxCode(item.TaxClass),
		})
		total += amount
	}

	orderID := strconv.FormatInt(order.ID, 10)
	scalars := map[string]string{
		"TerminalKey":     g.cfg.TerminalKey,
		"Amount":          strconv.FormatInt(total, 10),
		"OrderId":         orderID,
		"Description":     order.Title,
		"NotificationURL": g.cfg.PublicURL + "/hook/payment/tbank/update",
		"SuccessURL":      g.cfg.PublicURL + "/payment/success",
		"FailURL":         g.cfg.PublicURL + "/payment/fail",
	}

	payload := map[string]interface{}{
		"Token": signToken(scalars, g.cfg.SecretKey),
		"Receipt": receipt{
			Phone:    order.Phone,
			Email:    order.Email,
			Taxation: "usn_income",
			Items:    receiptItems,
		},
	}
	for k, v := range scalars {
		payload[k] = v
	}

	resp, err := g.post(ctx, "Init", payload)
	if err != nil {
		return nil, err
	}

	g.logger.Info("Payment initialized",
		zap.Int64("order_id", order.ID),
		zap.String("payment_id", resp.PaymentID.String()),
		zap.Int64("amount", resp.Amount))

	return &InitResult{
		Amount:     resp.Amount,
		PaymentURL: resp.PaymentURL,
		PaymentID:  resp.PaymentID.String(),
	}, nil
}

// Cancel voids or refunds a registered payment by the provider's payment id.
func (g *Gateway) Cancel(ctx context.Context, paymentID string) (*CancelResult, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.Cancel")
	defer span.End()

	util.PaymentCancelTotal.Inc()

	scalars := map[string]string{
		"TerminalKey": g.cfg.TerminalKey,
		"PaymentId":   paymentID,
	}
	payload := map[string]interface{}{
		"Token": signToken(scalars, g.cfg.SecretKey),
	}
	for k, v := range scalars {
		payload[k] = v
	}

	resp, err := g.post(ctx, "Cancel", payload)
	if err != nil {
		return nil, err
	}

	orderID, err := resp.OrderID.Int64()
	if err != nil {
		return nil, fmt.Errorf("payment gateway Cancel: bad order id %q: %w", resp.OrderID.String(), err)
	}

	g.logger.Info("Payment cancelled",
		zap.String("payment_id", paymentID),
		zap.Int64("order_id", orderID))

	return &CancelResult{OrderID: orderID}, nil
}

// post sends one provider API call with bounded linear-backoff retries on
// transport errors and HTTP statuses >= 400.
func (g *Gateway) post(ctx context.Context, method string, payload interface{}) (*providerResponse, error) {
	start := time.Now()
	defer func() {
		util.PaymentRequestLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payment gateway %s: %w", method, err)
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * g.cfg.RetryInterval):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/"+method, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("payment gateway %s: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.http.Do(req)
		if err != nil {
			lastErr = err
			g.logger.Warn("Payment gateway request failed",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, raw)
			g.logger.Warn("Payment gateway returned error status",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Int("status", resp.StatusCode))
			continue
		}

		var parsed providerResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("payment gateway %s: bad response: %w", method, err)
		}

		if !parsed.Success {
			util.PaymentGatewayErrors.WithLabelValues(method).Inc()
			return nil, &GatewayError{Method: method, Code: parsed.ErrorCode, Message: parsed.Message}
		}
		return &parsed, nil
	}

	return nil, fmt.Errorf("payment gateway %s: all %d attempts failed: %w", method, g.cfg.MaxAttempts, lastErr)
}

// signToken computes the provider's request signature: SHA-256 hex over the
// values of all scalar parameters plus the secret key, concatenated in key
// order.
func signToken(scalars map[string]string, secretKey string) string {
	params := make(map[string]string, len(scalars)+1)
	for k, v := range scalars {
		params[k] = v
	}
	params["Password"] = secretKey

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var concatenated bytes.Buffer
	for _, k := range keys {
		concatenated.WriteString(params[k])
	}

	sum := sha256.Sum256(concatenated.Bytes())
	return hex.EncodeToString(sum[:])
}

// taxCode maps an internal tax class to the provider's receipt code.
func taxCode(class string) string {
	switch class {
	case models.TaxClassVat10:
		return "van10"
	case models.TaxClassVat20:
		return "van20"
	default:
		return "none"
	}
}

// minorUnits converts a decimal currency amount to integer minor units.
func minorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
