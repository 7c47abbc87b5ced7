package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_initiated_total",
		Help: "Total number of checkouts that created a pending payment",
	})

	CheckoutsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_rejected_total",
		Help: "Total number of checkouts rejected before any payment was created",
	}, []string{"reason"})

	PaymentsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Total number of payments verified and completed",
	}, []string{"gateway"})

	PaymentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of payments that failed verification",
	}, []string{"gateway"})

	PaymentsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_cancelled_total",
		Help: "Total number of pending payments cancelled",
	})

	RefundsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_processed_total",
		Help: "Total number of refund decisions by outcome",
	}, []string{"outcome"})

	FulfillmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillments_total",
		Help: "Total number of fulfillment runs by outcome",
	}, []string{"outcome"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of outbound payment-gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "operation"})

	GatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Total number of failed outbound payment-gateway calls",
	}, []string{"gateway", "operation"})
)
