package payment

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification is the provider's asynchronous payment status callback.
type Notification struct {
	TerminalKey string `json:"TerminalKey"`
	Amount      int64  `json:"Amount"`
	OrderID     int64  `json:"OrderId"`
	Success     bool   `json:"Success"`
	Status      string `json:"Status"`
	PaymentID   int64  `json:"PaymentId"`
	CardID      int64  `json:"CardId"`
	Token       string `json:"Token"`
}

// Provider payment statuses that matter to reconciliation.
const (
	StatusConfirmed       = "CONFIRMED"
	StatusRejected        = "REJECTED"
	StatusReversed        = "REVERSED"
	StatusPartialReversed = "PARTIAL_REVERSED"
	StatusRefunded        = "REFUNDED"
	StatusPartialRefunded = "PARTIAL_REFUNDED"
	StatusDeadlineExpired = "DEADLINE_EXPIRED"
)

// defaultProviderNets is the provider's published notification source ranges.
var defaultProviderNets = []string{
	"91.194.226.0/23",
	"212.233.80.0/24",
	"212.233.81.0/24",
	"212.233.82.0/24",
	"212.233.83.0/24",
}

// OrderTransitioner applies a forward-only order status transition.
type OrderTransitioner interface {
	TransitionOrderStatus(ctx context.Context, orderID int64, status string) (bool, error)
}

// StatusPublisher delivers status-changed events to the Notifier boundary.
type StatusPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// ReconcilerConfig configures webhook validation.
type ReconcilerConfig struct {
	TerminalKey string
	SecretKey   string
	// VerifyToken disables the signature check for provider sandboxes that
	// do not sign notifications.
	VerifyToken bool
	// AllowedNets overrides the built-in provider CIDR list when non-empty.
	AllowedNets []string
}

// Reconciler validates inbound payment notifications and reconciles them
// against order state. Notifications are treated as adversarial until the
// terminal key, source network and signature all check out.
type Reconciler struct {
	cfg       ReconcilerConfig
	allowed   []netip.Prefix
	store     OrderTransitioner
	publisher StatusPublisher
	logger    *zap.Logger
}

// NewReconciler creates a webhook reconciler. Malformed CIDR entries in the
// configured allow-list are rejected up front.
func NewReconciler(cfg ReconcilerConfig, store OrderTransitioner, publisher StatusPublisher) (*Reconciler, error) {
	nets := cfg.AllowedNets
	if len(nets) == 0 {
		nets = defaultProviderNets
	}

	allowed := make([]netip.Prefix, 0, len(nets))
	for _, raw := range nets {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("bad provider network %q: %w", raw, err)
		}
		allowed = append(allowed, prefix)
	}

	return &Reconciler{
		cfg:       cfg,
		allowed:   allowed,
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
	}, nil
}

// Handle validates a notification and applies the status transition it maps
// to. Returns whether order state changed. models.ErrUnauthorized means the
// notification failed validation and must not be acknowledged; any other
// error is a persistence failure the provider should retry. A validated
// notification that maps to no transition (unknown status, stale regression)
// changes nothing and returns nil so the HTTP layer acks 200.
func (r *Reconciler) Handle(ctx context.Context, notif *Notification, sourceIP netip.Addr) (bool, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Handle")
	defer span.End()

	if notif.TerminalKey != r.cfg.TerminalKey {
		util.WebhookRejectedTotal.WithLabelValues("terminal").Inc()
		r.logger.Warn("Notification for foreign terminal",
			zap.String("terminal_key", notif.TerminalKey),
			zap.Int64("order_id", notif.OrderID))
		return false, models.ErrUnauthorized
	}

	if !r.allowedSource(sourceIP) {
		util.WebhookRejectedTotal.WithLabelValues("origin").Inc()
		r.logger.Warn("Notification from outside provider networks",
			zap.String("source_ip", sourceIP.String()),
			zap.Int64("order_id", notif.OrderID))
		return false, models.ErrUnauthorized
	}

	if r.cfg.VerifyToken && !r.tokenValid(notif) {
		util.WebhookRejectedTotal.WithLabelValues("token").Inc()
		r.logger.Warn("Notification with invalid token",
			zap.Int64("order_id", notif.OrderID),
			zap.String("status", notif.Status))
		return false, models.ErrUnauthorized
	}

	target, ok := orderStatusFor(notif.Status, notif.Success)
	if !ok {
		util.WebhookAcceptedTotal.WithLabelValues("ignored").Inc()
		r.logger.Info("Notification status ignored",
			zap.Int64("order_id", notif.OrderID),
			zap.String("status", notif.Status))
		return false, nil
	}

	applied, err := r.store.TransitionOrderStatus(ctx, notif.OrderID, target)
	if err != nil {
		return false, fmt.Errorf("failed to transition order %d: %w", notif.OrderID, err)
	}
	if !applied {
		util.WebhookAcceptedTotal.WithLabelValues("stale").Inc()
		r.logger.Info("Stale notification, transition not applied",
			zap.Int64("order_id", notif.OrderID),
			zap.String("status", notif.Status),
			zap.String("target", target))
		return false, nil
	}

	util.WebhookAcceptedTotal.WithLabelValues("applied").Inc()
	r.logger.Info("Order status reconciled",
		zap.Int64("order_id", notif.OrderID),
		zap.String("provider_status", notif.Status),
		zap.String("order_status", target))

	raw, _ := json.Marshal(notif)
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:         notif.OrderID,
		Status:          target,
		ProviderPayload: raw,
	}
	if err := r.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderStatusChanged event",
			zap.Int64("order_id", notif.OrderID),
			zap.Error(err))
	}

	return true, nil
}

func (r *Reconciler) allowedSource(ip netip.Addr) bool {
	for _, prefix := range r.allowed {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

func (r *Reconciler) tokenValid(notif *Notification) bool {
	expected := signToken(map[string]string{
		"TerminalKey": notif.TerminalKey,
		"Amount":      strconv.FormatInt(notif.Amount, 10),
		"OrderId":     strconv.FormatInt(notif.OrderID, 10),
		"Success":     strconv.FormatBool(notif.Success),
		"Status":      notif.Status,
		"PaymentId":   strconv.FormatInt(notif.PaymentID, 10),
		"CardId":      strconv.FormatInt(notif.CardID, 10),
	}, r.cfg.SecretKey)

	return subtle.ConstantTimeCompare([]byte(expected), []byte(notif.Token)) == 1
}

// orderStatusFor maps a provider status to an internal order status. The
// mapping is one-directional: nothing ever maps back from CANCELLED to PAID.
func orderStatusFor(status string, success bool) (string, bool) {
	switch status {
	case StatusConfirmed:
		if !success {
			return "", false
		}
		return models.OrderStatusPaid, true
	case StatusRejected, StatusReversed, StatusPartialReversed,
		StatusRefunded, StatusPartialRefunded, StatusDeadlineExpired:
		return models.OrderStatusCancelled, true
	default:
		return "", false
	}
}
