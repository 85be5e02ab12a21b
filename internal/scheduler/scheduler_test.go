package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/bursar/internal/clock"
	collectiondomain "github.com/smallbiznis/bursar/internal/collection/domain"
	collectionservice "github.com/smallbiznis/bursar/internal/collection/service"
	"github.com/smallbiznis/bursar/internal/config"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/bursar/internal/ledger/repository"
	"github.com/smallbiznis/bursar/internal/ledgertest"
	"github.com/smallbiznis/bursar/internal/lock"
	obscontext "github.com/smallbiznis/bursar/internal/observability/context"
	obsmetrics "github.com/smallbiznis/bursar/internal/observability/metrics"
	rosterrepo "github.com/smallbiznis/bursar/internal/roster/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	f          *ledgertest.Fixture
	sched      *Scheduler
	collection collectiondomain.Service
	registry   *prometheus.Registry
	clock      *clock.FakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	f := ledgertest.New(t)
	clk := clock.NewFakeClock(f.Now)
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewLedgerMetricsForTest(registry)
	repo := ledgerrepo.Provide()

	collection := collectionservice.New(collectionservice.Params{
		DB:            f.DB,
		Log:           zap.NewNop(),
		GenID:         f.Node,
		Clock:         clk,
		Cfg:           config.Config{},
		Locker:        lock.NewKeyedMutex(),
		LedgerRepo:    repo,
		RosterRepo:    rosterrepo.Provide(),
		LedgerMetrics: metrics,
	})
	sched, err := New(Params{
		DB:            f.DB,
		Log:           zap.NewNop(),
		GenID:         f.Node,
		Clock:         clk,
		LedgerRepo:    repo,
		CollectionSvc: collection,
		LedgerMetrics: metrics,
		Config:        cfg,
	})
	require.NoError(t, err)

	return &harness{f: f, sched: sched, collection: collection, registry: registry, clock: clk}
}

func (h *harness) seedObligations(t *testing.T, count int) []ledgerdomain.Obligation {
	t.Helper()
	grade := h.f.Grade("Grade 6", "middle")
	entry := h.f.Catalog(grade.ID, 1, 500000, 0)
	obligations := make([]ledgerdomain.Obligation, 0, count)
	for i := 0; i < count; i++ {
		student := h.f.Student("Student", "ADM-"+string(rune('A'+i)), grade.ID, nil)
		obligations = append(obligations, h.f.Obligation(student.ID, entry))
	}
	return obligations
}

func (h *harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := true
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					matched = false
				}
			}
			if matched {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, 200, cfg.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)

	provided := ProvideConfig(config.Config{Reconcile: config.ReconcileConfig{Enabled: true, IntervalMinutes: 5, BatchSize: 10}})
	assert.True(t, provided.Enabled)
	assert.Equal(t, 5*time.Minute, provided.RunInterval)
	assert.Equal(t, 10, provided.BatchSize)
}

func TestSweepPagesAllObligations(t *testing.T) {
	h := newHarness(t, Config{Enabled: true, BatchSize: 2})
	obligations := h.seedObligations(t, 5)

	ctx := obscontext.WithActorID(context.Background(), "clerk-1")
	_, err := h.collection.Collect(ctx, collectiondomain.CollectRequest{
		StudentID:      obligations[0].StudentID,
		Term:           1,
		Amount:         200000,
		ReceiptNumber:  "R-100",
		PaymentChannel: ledgerdomain.ChannelCash,
	})
	require.NoError(t, err)

	report, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Checked)
	assert.Equal(t, 5, report.Consistent)
	assert.Empty(t, report.Drifted)
	assert.Zero(t, report.Failed)
	assert.Equal(t, float64(5), h.counter(t, "bursar_reconciled_obligations_total", map[string]string{"result": "consistent"}))
}

func TestSweepReportsDriftWithoutRewriting(t *testing.T) {
	h := newHarness(t, Config{Enabled: true, BatchSize: 10})
	obligations := h.seedObligations(t, 3)
	tampered := obligations[1]

	require.NoError(t, h.f.DB.Model(&ledgerdomain.Obligation{}).
		Where("id = ?", tampered.ID).
		Update("cumulative_paid_amount", 12345).Error)

	report, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Consistent)
	require.Len(t, report.Drifted, 1)
	assert.Equal(t, tampered.ID, report.Drifted[0])
	assert.Equal(t, float64(1), h.counter(t, "bursar_reconciled_obligations_total", map[string]string{"result": "drifted"}))

	var stored ledgerdomain.Obligation
	require.NoError(t, h.f.DB.First(&stored, "id = ?", tampered.ID).Error)
	assert.Equal(t, int64(12345), stored.CumulativePaidAmount)
}

func TestRunOnceRecordsJobOutcome(t *testing.T) {
	h := newHarness(t, Config{Enabled: true, BatchSize: 10})
	h.seedObligations(t, 1)

	require.NoError(t, h.sched.RunOnce(context.Background()))
	assert.Equal(t, float64(1), h.counter(t, "bursar_job_runs_total", map[string]string{
		"job":     JobReconcileObligations,
		"outcome": obsmetrics.OutcomeSuccess,
	}))
}

func TestRunOnceSkipsWhenDisabled(t *testing.T) {
	h := newHarness(t, Config{Enabled: false})
	h.seedObligations(t, 1)

	require.NoError(t, h.sched.RunOnce(context.Background()))
	assert.Zero(t, h.counter(t, "bursar_job_runs_total", map[string]string{"job": JobReconcileObligations}))
}

func TestRunOnceTreatsCancellationAsSoftTimeout(t *testing.T) {
	h := newHarness(t, Config{Enabled: true, BatchSize: 10})
	h.seedObligations(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Equal(t, float64(1), h.counter(t, "bursar_job_runs_total", map[string]string{
		"job":     JobReconcileObligations,
		"outcome": "timeout",
	}))
}

func TestJobRunLogging(t *testing.T) {
	h := newHarness(t, Config{Enabled: true})
	ctx, run := h.sched.startJobRun(context.Background(), "reconcile_check", 5)
	assert.Equal(t, systemActor, obscontext.ActorIDFromContext(ctx))
	assert.Equal(t, run.runID, obscontext.RequestIDFromContext(ctx))

	again, same := h.sched.startJobRun(ctx, "other", 1)
	assert.Same(t, run, same)
	assert.Equal(t, ctx, again)

	run.AddProcessed(3)
	run.AddProcessed(-1)
	run.AddDrifted(1)
	assert.Equal(t, 3, run.processedCount)
	assert.Equal(t, 1, run.driftedCount)
	assert.Empty(t, idString(0))
}
