package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	"gorm.io/gorm"
)

const (
	OperationCollect = "collect"
	OperationCancel  = "cancel"
	OperationAssign  = "assign"
)

const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

const (
	LedgerReasonDeadlineExceeded     = "deadline_exceeded"
	LedgerReasonDBLockTimeout        = "db_lock_timeout"
	LedgerReasonSerializationFailure = "serialization_failure"
	LedgerReasonDeadlock             = "deadlock"
	LedgerReasonUniqueViolation      = "unique_violation"
	LedgerReasonVersionConflict      = "version_conflict"
	LedgerReasonUnknown              = "unknown"
)

const (
	LockResourceObligation = "obligation"
	LockResourceStudent    = "student"
)

// LedgerMetrics captures write-path health of the fee ledger.
type LedgerMetrics struct {
	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	lockWait       *prometheus.HistogramVec
	assignmentRows *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	reconciled     *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	return LedgerWithConfig(Config{})
}

// LedgerWithConfig returns the singleton ledger metrics registry using config labels.
func LedgerWithConfig(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = newLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

// NewLedgerMetricsForTest builds ledger metrics on an isolated registry.
func NewLedgerMetricsForTest(registerer prometheus.Registerer) *LedgerMetrics {
	return newLedgerMetrics(registerer, Config{ServiceName: "bursar", Environment: "test"})
}

func newLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "bursar"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bursar_ledger_operations_total",
		Help:        "Ledger write operations by outcome.",
		ConstLabels: constLabels,
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "bursar_ledger_operation_duration_seconds",
		Help:        "Ledger write latency including retries.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"operation"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bursar_ledger_retries_total",
		Help:        "Ledger transaction replays by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "bursar_ledger_lock_wait_seconds",
		Help:        "Time spent waiting for a keyed ledger lock.",
		Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"resource"})
	assignmentRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bursar_fee_assignment_rows_total",
		Help:        "Fee assignment rows processed by result.",
		ConstLabels: constLabels,
	}, []string{"result"})

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bursar_job_runs_total",
		Help:        "Background job runs by outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "bursar_job_duration_seconds",
		Help:        "Background job wall time.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bursar_reconciled_obligations_total",
		Help:        "Obligations replayed against their transaction log, by result.",
		ConstLabels: constLabels,
	}, []string{"result"})

	registerer.MustRegister(operations, duration, retries, lockWait, assignmentRows, jobRuns, jobDuration, reconciled)

	return &LedgerMetrics{
		operations:     operations,
		duration:       duration,
		retries:        retries,
		lockWait:       lockWait,
		assignmentRows: assignmentRows,
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		reconciled:     reconciled,
	}
}

// ObserveOperation records the outcome and latency of one ledger write.
func (m *LedgerMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *LedgerMetrics) IncRetry(operation string, err error) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation, ClassifyLedgerReason(err)).Inc()
}

func (m *LedgerMetrics) ObserveLockWait(resource string, wait time.Duration) {
	if m == nil {
		return
	}
	if wait < 0 {
		wait = 0
	}
	m.lockWait.WithLabelValues(resource).Observe(wait.Seconds())
}

// AddAssignmentRows adds processed bulk rows for one result bucket.
func (m *LedgerMetrics) AddAssignmentRows(result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.assignmentRows.WithLabelValues(result).Add(float64(count))
}

func (m *LedgerMetrics) ObserveJob(job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// AddReconciled counts obligations checked by a sweep, split into consistent and drifted.
func (m *LedgerMetrics) AddReconciled(consistent, drifted int) {
	if m == nil {
		return
	}
	if consistent > 0 {
		m.reconciled.WithLabelValues("consistent").Add(float64(consistent))
	}
	if drifted > 0 {
		m.reconciled.WithLabelValues("drifted").Add(float64(drifted))
	}
}

// ClassifyLedgerReason maps a write failure to a bounded label.
func ClassifyLedgerReason(err error) string {
	if err == nil {
		return LedgerReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return LedgerReasonDeadlineExceeded
	}
	if errors.Is(err, ledgerdomain.ErrVersionConflict) {
		return LedgerReasonVersionConflict
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return LedgerReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return LedgerReasonDBLockTimeout
		case "40001":
			return LedgerReasonSerializationFailure
		case "40P01":
			return LedgerReasonDeadlock
		case "23505":
			return LedgerReasonUniqueViolation
		}
	}
	return LedgerReasonUnknown
}
