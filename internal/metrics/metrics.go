package metrics

import (
	"errors"
	"time"

	"hostinv/internal/apperr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IPAM
	IPAMOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostinv",
		Subsystem: "ipam",
		Name:      "operations_total",
		Help:      "IPAM operations by name and outcome",
	}, []string{"op", "result"})

	IPAMOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hostinv",
		Subsystem: "ipam",
		Name:      "operation_duration_seconds",
		Help:      "IPAM operation duration including the transaction",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op"})

	AddressesPopulated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hostinv",
		Subsystem: "ipam",
		Name:      "addresses_populated_total",
		Help:      "Address records inserted by pool population",
	})

	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hostinv",
		Subsystem: "ipam",
		Name:      "reservations_expired_total",
		Help:      "Reservations cleared by the lazy expiry sweep",
	})

	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostinv",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route template and status code",
	}, []string{"method", "route", "code"})

	HTTPRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostinv",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"route"})
)

// Result classifies an operation error into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, apperr.ErrReservedByOther):
		return "reserved_by_other"
	case errors.Is(err, apperr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperr.ErrOutOfRange), errors.Is(err, apperr.ErrInvalidNetwork), errors.Is(err, apperr.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, apperr.ErrDuplicateName):
		return "duplicate"
	default:
		return "error"
	}
}

// ObserveIPAM records one IPAM operation started at start.
func ObserveIPAM(op string, start time.Time, err error) {
	IPAMOperations.WithLabelValues(op, Result(err)).Inc()
	IPAMOperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
