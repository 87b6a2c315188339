package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order submissions",
	}, []string{"reason"})

	OrderProductsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_products_skipped_total",
		Help: "Total number of cart products dropped because the catalog could not resolve them",
	})

	OrderCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_create_latency_seconds",
		Help:    "Latency of order assembly",
		Buckets: prometheus.DefBuckets,
	})

	PaymentInitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_init_total",
		Help: "Total number of payment init attempts",
	})

	PaymentCancelTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_cancel_total",
		Help: "Total number of payment cancel attempts",
	})

	PaymentGatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_errors_total",
		Help: "Total number of gateway business errors by method",
	}, []string{"method"})

	PaymentRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_request_latency_seconds",
		Help:    "Latency of payment gateway requests",
		Buckets: prometheus.DefBuckets,
	})

	WebhookAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_accepted_total",
		Help: "Total number of accepted payment notifications by outcome",
	}, []string{"outcome"})

	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_rejected_total",
		Help: "Total number of rejected payment notifications",
	}, []string{"reason"})

	NotifyEnrichRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_enrich_retries_total",
		Help: "Total number of CRM enrichment retries in the notification worker",
	})

	NotifyDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_dropped_total",
		Help: "Total number of order notifications dropped after retry exhaustion",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
