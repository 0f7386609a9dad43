package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/trustledger/pkg/db"
)

const (
	TxReasonDeadlineExceeded     = "deadline_exceeded"
	TxReasonLockTimeout          = "lock_timeout"
	TxReasonSerializationFailure = "serialization_failure"
	TxReasonUniqueViolation      = "unique_violation"
	TxReasonVersionConflict      = "version_conflict"
	TxReasonUnknown              = "unknown"
)

// CoordinatorMetrics captures transaction health of the retainer coordinator.
type CoordinatorMetrics struct {
	txDuration *prometheus.HistogramVec
	lockWait   *prometheus.HistogramVec
	txErrors   *prometheus.CounterVec
	replays    *prometheus.CounterVec
}

var (
	coordinatorMetricsOnce sync.Once
	coordinatorMetrics     *CoordinatorMetrics
)

// Coordinator returns the process-wide coordinator metrics registered on the default registry.
func Coordinator(cfg Config) *CoordinatorMetrics {
	coordinatorMetricsOnce.Do(func() {
		coordinatorMetrics = NewCoordinatorMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return coordinatorMetrics
}

func NewCoordinatorMetrics(registerer prometheus.Registerer, cfg Config) *CoordinatorMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "trustledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	txDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "trustledger_coordinator_tx_duration_seconds",
		Help:        "Retainer transaction latency from begin to commit or rollback.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"operation"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "trustledger_coordinator_lock_wait_seconds",
		Help:        "Time spent acquiring the retainer row lock.",
		Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"operation"})
	txErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "trustledger_coordinator_tx_errors_total",
		Help:        "Rolled back retainer transactions by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "trustledger_coordinator_replays_total",
		Help:        "Operations answered from an existing idempotency key.",
		ConstLabels: constLabels,
	}, []string{"operation"})

	registerer.MustRegister(txDuration, lockWait, txErrors, replays)

	return &CoordinatorMetrics{
		txDuration: txDuration,
		lockWait:   lockWait,
		txErrors:   txErrors,
		replays:    replays,
	}
}

func (m *CoordinatorMetrics) ObserveTxDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *CoordinatorMetrics) ObserveLockWait(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(operation).Observe(max(d, 0).Seconds())
}

// IncTxError counts a rolled back transaction. Business rejections are not counted.
func (m *CoordinatorMetrics) IncTxError(operation, reason string) {
	if m == nil || reason == "" {
		return
	}
	m.txErrors.WithLabelValues(operation, reason).Inc()
}

func (m *CoordinatorMetrics) IncReplay(operation string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(operation).Inc()
}

// ClassifyTxReason maps storage failures to a reason label. It returns ""
// for errors that are not storage failures.
func ClassifyTxReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return TxReasonDeadlineExceeded
	case db.IsSerializationFailure(err):
		return TxReasonSerializationFailure
	case db.IsLockTimeout(err):
		return TxReasonLockTimeout
	case db.IsDuplicateKeyErr(err):
		return TxReasonUniqueViolation
	default:
		return ""
	}
}
