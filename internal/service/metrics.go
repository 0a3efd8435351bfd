package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	distributionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faktor_distributions_total",
		Help: "Distribution attempts, labeled by outcome (succeeded, failed, rejected)",
	}, []string{"outcome"})

	feesSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faktor_fees_settled_total",
		Help: "Fee units moved out of payment reserves, labeled by recipient",
	}, []string{"recipient"})

	paymentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faktor_payments_created_total",
		Help: "Payments created",
	})

	distributionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "faktor_distribution_duration_seconds",
		Help:    "Latency of the distribution transaction",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
)
