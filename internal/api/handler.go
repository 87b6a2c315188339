package api

import (
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/payment"
	"storefront-service/internal/service"
	"storefront-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// deliveryValues maps storefront wire values to canonical delivery methods.
var deliveryValues = map[string]string{
	"курьером":  models.DeliveryMethodCourier,
	"самовывоз": models.DeliveryMethodPickup,
}

// payByValues maps storefront wire values to canonical payment methods.
var payByValues = map[string]string{
	"наличными": models.PaymentMethodCash,
	"счет":      models.PaymentMethodInvoice,
	"картой":    models.PaymentMethodCard,
}

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	gateway      *payment.Gateway
	reconciler   *payment.Reconciler
	authn        *Authenticator
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, gateway *payment.Gateway, reconciler *payment.Reconciler, authn *Authenticator) *Handler {
	return &Handler{
		orderService: orderService,
		gateway:      gateway,
		reconciler:   reconciler,
		authn:        authn,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	// Never trust forwarded headers: the webhook origin check keys off the
	// peer address, and a trusted X-Forwarded-For would let any caller
	// forge a provider source IP.
	_ = router.SetTrustedProxies(nil)

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The provider notification endpoint is authenticated by the
	// reconciler itself (terminal key, source net, token), never by
	// client auth.
	router.POST("/hook/payment/tbank/update", h.paymentWebhook)

	api := router.Group("/api")
	api.Use(h.authn.Middleware())
	{
		api.POST("/order", h.createOrder)
		api.GET("/order/:id", h.getOrder)
		api.POST("/payment/tbank/init", h.initPayment)
		api.POST("/payment/tbank/cancel", h.cancelPayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request"})
		return
	}

	if req.Name == "" || req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request"})
		return
	}

	delivery, ok := deliveryValues[req.Delivery]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request"})
		return
	}
	payBy, ok := payByValues[req.PayBy]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request"})
		return
	}
	req.Delivery = delivery
	req.PayBy = payBy
	req.ClientID = clientID(c)

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	body := gin.H{
		"status":  "ok",
		"orderID": resp.OrderID,
	}
	if len(resp.SkippedProducts) > 0 {
		body["skippedProducts"] = resp.SkippedProducts
	}
	c.JSON(http.StatusOK, body)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	idStr := c.Param("id")
	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request"})
		return
	}

	order, items, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if order.ClientID != clientID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

type initPaymentRequest struct {
	OrderID int64 `json:"orderID"`
}

// initPayment registers an order with the acquiring provider and returns
// the hosted payment page URL.
func (h *Handler) initPayment(c *gin.Context) {
	var req initPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "reason": "Bad Request"})
		return
	}

	order, items, err := h.orderService.GetOrder(c.Request.Context(), req.OrderID)
	if err != nil {
		h.writePaymentError(c, err)
		return
	}
	if order.ClientID != clientID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": true, "reason": "Not Found"})
		return
	}

	res, err := h.gateway.Init(c.Request.Context(), order, items)
	if err != nil {
		h.writePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"error":     false,
		"amount":    res.Amount,
		"url":       res.PaymentURL,
		"paymentID": res.PaymentID,
	})
}

type cancelPaymentRequest struct {
	PaymentID string `json:"paymentID"`
}

// cancelPayment voids or refunds a payment at the provider.
func (h *Handler) cancelPayment(c *gin.Context) {
	var req cancelPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PaymentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "reason": "Bad Request"})
		return
	}

	res, err := h.gateway.Cancel(c.Request.Context(), req.PaymentID)
	if err != nil {
		h.writePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"error":   false,
		"orderID": res.OrderID,
	})
}

// paymentWebhook receives acquiring status notifications. The provider
// expects a bare "OK" body and retries on anything else.
func (h *Handler) paymentWebhook(c *gin.Context) {
	var notif payment.Notification
	if err := c.ShouldBindJSON(&notif); err != nil {
		c.String(http.StatusBadRequest, "invalid payload")
		return
	}

	sourceIP, err := netip.ParseAddr(c.ClientIP())
	if err != nil {
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	applied, err := h.reconciler.Handle(c.Request.Context(), &notif, sourceIP)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			c.String(http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logger.Error("webhook processing failed",
			zap.Int64("order_id", notif.OrderID),
			zap.Error(err))
		c.String(http.StatusInternalServerError, "error")
		return
	}

	if !applied {
		h.logger.Info("webhook acknowledged without transition",
			zap.Int64("order_id", notif.OrderID),
			zap.String("provider_status", notif.Status))
	}
	c.String(http.StatusOK, "OK")
}

// writeError maps service errors onto the storefront error contract.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request"})
	case errors.Is(err, models.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}

// writePaymentError maps errors onto the provider-facing {error, reason} shape.
func (h *Handler) writePaymentError(c *gin.Context, err error) {
	var gwErr *payment.GatewayError
	switch {
	case errors.As(err, &gwErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": true, "reason": gwErr.Code})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": true, "reason": "Not Found"})
	default:
		h.logger.Error("payment request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": true, "reason": "Internal Server Error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
