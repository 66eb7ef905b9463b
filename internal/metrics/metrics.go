// Package metrics declares the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facescan_logins_total",
		Help: "Login attempts by role and result.",
	}, []string{"role", "result"})

	Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facescan_detections_total",
		Help: "Completed detections by status.",
	}, []string{"status"})

	StudentsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facescan_students_added_total",
		Help: "Students added through the roster.",
	})

	GateRedirects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facescan_gate_redirects_total",
		Help: "Navigation gate redirects by requested page and target.",
	}, []string{"page", "target"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facescan_rate_limited_total",
		Help: "Requests rejected by a rate limiter, by limiter scope.",
	}, []string{"scope"})
)
