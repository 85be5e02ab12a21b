package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	auditdomain "github.com/smallbiznis/bursar/internal/audit/domain"
	auditrepo "github.com/smallbiznis/bursar/internal/audit/repository"
	auditservice "github.com/smallbiznis/bursar/internal/audit/service"
	"github.com/smallbiznis/bursar/internal/clock"
	"github.com/smallbiznis/bursar/internal/collection/domain"
	"github.com/smallbiznis/bursar/internal/config"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/bursar/internal/ledger/repository"
	"github.com/smallbiznis/bursar/internal/ledgertest"
	"github.com/smallbiznis/bursar/internal/lock"
	obscontext "github.com/smallbiznis/bursar/internal/observability/context"
	feesummarydomain "github.com/smallbiznis/bursar/internal/feesummary/domain"
	feesummaryservice "github.com/smallbiznis/bursar/internal/feesummary/service"
	obsmetrics "github.com/smallbiznis/bursar/internal/observability/metrics"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	rosterrepo "github.com/smallbiznis/bursar/internal/roster/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	f       *ledgertest.Fixture
	svc     domain.Service
	grade   rosterdomain.Grade
	student rosterdomain.Student
	term1   ledgerdomain.Obligation
	term2   ledgerdomain.Obligation
}

func newHarness(t *testing.T, repo ledgerdomain.Repository, retries int) *harness {
	f := ledgertest.New(t)
	clk := clock.NewFakeClock(f.Now)
	if repo == nil {
		repo = ledgerrepo.Provide()
	}
	audit := auditservice.NewService(auditservice.Params{
		DB:    f.DB,
		Log:   zap.NewNop(),
		GenID: f.Node,
		Clock: clk,
		Repo:  auditrepo.Provide(),
	})
	svc := New(Params{
		DB:            f.DB,
		Log:           zap.NewNop(),
		GenID:         f.Node,
		Clock:         clk,
		Cfg:           config.Config{Ledger: config.LedgerConfig{CollectionMaxRetries: retries}},
		Locker:        lock.NewKeyedMutex(),
		LedgerRepo:    repo,
		RosterRepo:    rosterrepo.Provide(),
		AuditSvc:      audit,
		LedgerMetrics: obsmetrics.NewLedgerMetricsForTest(prometheus.NewRegistry()),
	})

	grade := f.Grade("Grade 4", "primary")
	entry1 := f.Catalog(grade.ID, 1, 500000, 0)
	entry2 := f.Catalog(grade.ID, 2, 400000, 100000)
	student := f.Student("Asha Rao", "ADM-001", grade.ID, nil)
	return &harness{
		f:       f,
		svc:     svc,
		grade:   grade,
		student: student,
		term1:   f.Obligation(student.ID, entry1),
		term2:   f.Obligation(student.ID, entry2),
	}
}

func (h *harness) pay(term int, amount int64, receipt string) domain.CollectRequest {
	return domain.CollectRequest{
		StudentID:      h.student.ID,
		Term:           term,
		Amount:         amount,
		ReceiptNumber:  receipt,
		PaymentChannel: ledgerdomain.ChannelCash,
	}
}

func (h *harness) records(t *testing.T, obligationID snowflake.ID) []ledgerdomain.TransactionRecord {
	t.Helper()
	var records []ledgerdomain.TransactionRecord
	require.NoError(t, h.f.DB.Where("obligation_id = ?", obligationID).Order("id asc").Find(&records).Error)
	return records
}

func (h *harness) obligation(t *testing.T, id snowflake.ID) ledgerdomain.Obligation {
	t.Helper()
	var obligation ledgerdomain.Obligation
	require.NoError(t, h.f.DB.First(&obligation, "id = ?", id).Error)
	return obligation
}

func TestCollectTwoInstallmentsSettlesTerm(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := obscontext.WithActorID(context.Background(), "clerk-7")

	first, err := h.svc.Collect(ctx, h.pay(1, 300000, "R-001"))
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatePartiallyPaid, first.State)
	assert.Equal(t, int64(200000), first.DueAmount)
	assert.Equal(t, int64(300000), first.Obligation.CumulativePaidAmount)
	require.NotNil(t, first.Transaction.ActorID)
	assert.Equal(t, "clerk-7", *first.Transaction.ActorID)

	second, err := h.svc.Collect(ctx, h.pay(1, 200000, "R-002"))
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StateFullyPaid, second.State)
	assert.Zero(t, second.DueAmount)
	require.NotNil(t, second.Obligation.LastReceiptNumber)
	assert.Equal(t, "R-002", *second.Obligation.LastReceiptNumber)
	assert.Equal(t, int64(2), second.Obligation.Version)

	assert.Len(t, h.records(t, h.term1.ID), 2)
	report, err := h.svc.Reconcile(ctx, h.term1.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(500000), report.Folded.Paid)

	var audits int64
	require.NoError(t, h.f.DB.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionFeeCollected).Count(&audits).Error)
	assert.Equal(t, int64(2), audits)
}

func TestCollectRejectsOverpaymentWithoutWriting(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := context.Background()

	_, err := h.svc.Collect(ctx, h.pay(1, 600000, "R-001"))
	assert.ErrorIs(t, err, domain.ErrOverpayment)

	obligation := h.obligation(t, h.term1.ID)
	assert.Zero(t, obligation.CumulativePaidAmount)
	assert.Zero(t, obligation.Version)
	assert.Empty(t, h.records(t, h.term1.ID))

	req := h.pay(1, 450000, "R-002")
	req.DiscountAmount = 60000
	_, err = h.svc.Collect(ctx, req)
	assert.ErrorIs(t, err, domain.ErrOverpayment)
}

func TestCollectLeviesFineBeforeCheckingDue(t *testing.T) {
	h := newHarness(t, nil, 3)
	req := h.pay(1, 510000, "R-001")
	req.FineAmount = 10000

	res, err := h.svc.Collect(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StateFullyPaid, res.State)
	assert.Equal(t, int64(10000), res.Obligation.CumulativeFineAmount)
	assert.Zero(t, res.DueAmount)
}

func TestCollectRejectsAmountsAboveCeiling(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := context.Background()

	req := h.pay(1, 5_000_000_000_000_000_000, "R-001")
	req.DiscountAmount = 5_000_000_000_000_000_000
	_, err := h.svc.Collect(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	req = h.pay(1, ledgerdomain.MaxAmount, "R-002")
	req.DiscountAmount = ledgerdomain.MaxAmount
	_, err = h.svc.Collect(ctx, req)
	assert.ErrorIs(t, err, domain.ErrOverpayment)

	obligation := h.obligation(t, h.term1.ID)
	assert.True(t, obligation.Totals().IsZero())
	assert.Empty(t, h.records(t, h.term1.ID))
}

func TestCheckPaymentDoesNotWrap(t *testing.T) {
	balance := ledgerdomain.ObligationBalance{TuitionAmount: 500000}
	err := checkPayment(balance, ledgerdomain.Totals{Paid: math.MaxInt64, Discount: math.MaxInt64})
	assert.ErrorIs(t, err, domain.ErrOverpayment)

	err = checkPayment(balance, ledgerdomain.Totals{Paid: 400000, Discount: 100000})
	assert.NoError(t, err)
}

func TestCollectFineMustBeSettledByTheSameInstruction(t *testing.T) {
	h := newHarness(t, nil, 3)
	req := h.pay(1, 100, "R-001")
	req.FineAmount = 100000

	_, err := h.svc.Collect(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrUnsettledFine)
	assert.Empty(t, h.records(t, h.term1.ID))
}

func TestCollectNeverLowersStatusRank(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := context.Background()
	summary := feesummaryservice.New(feesummaryservice.Params{
		DB:         h.f.DB,
		Log:        zap.NewNop(),
		LedgerRepo: ledgerrepo.Provide(),
		RosterRepo: rosterrepo.Provide(),
	})

	rank := func() (string, int) {
		snap, err := summary.Summarize(ctx, h.student.ID)
		require.NoError(t, err)
		return snap.Status, snap.StatusRank
	}

	withFine := func(req domain.CollectRequest, fine int64) domain.CollectRequest {
		req.FineAmount = fine
		return req
	}
	withSupplementary := func(req domain.CollectRequest, amount int64) domain.CollectRequest {
		req.SupplementaryAmount = amount
		return req
	}
	steps := []domain.CollectRequest{
		h.pay(1, 200000, "R-001"),
		withFine(h.pay(1, 310000, "R-002"), 10000),
		withSupplementary(h.pay(2, 400000, "R-003"), 100000),
		withFine(h.pay(1, 100, "R-004"), 100),
		withFine(h.pay(2, 1000, "R-005"), 1000),
	}

	_, prev := rank()
	for _, step := range steps {
		_, err := h.svc.Collect(ctx, step)
		require.NoError(t, err, step.ReceiptNumber)
		_, current := rank()
		assert.GreaterOrEqual(t, current, prev, step.ReceiptNumber)
		prev = current
	}

	_, err := h.svc.Collect(ctx, withFine(h.pay(1, 100, "R-006"), 100000))
	assert.ErrorIs(t, err, domain.ErrUnsettledFine)

	status, final := rank()
	assert.Equal(t, feesummarydomain.StatusFullyPaid, status)
	assert.Equal(t, prev, final)
}

func TestCollectSupplementaryCannotExceedSupplementaryFee(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := context.Background()

	req := h.pay(2, 0, "R-001")
	req.SupplementaryAmount = 150000
	_, err := h.svc.Collect(ctx, req)
	assert.ErrorIs(t, err, domain.ErrOverpayment)

	req.SupplementaryAmount = 100000
	req.Amount = 400000
	res, err := h.svc.Collect(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StateFullyPaid, res.State)
	assert.Equal(t, int64(100000), res.Obligation.CumulativeSupplementaryPaidAmount)
}

func TestCollectDuplicateReceiptIsConflict(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := context.Background()

	_, err := h.svc.Collect(ctx, h.pay(1, 500000, "R-001"))
	require.NoError(t, err)
	_, err = h.svc.Collect(ctx, h.pay(1, 500000, "R-001"))
	assert.ErrorIs(t, err, domain.ErrDuplicateReceipt)
	assert.Len(t, h.records(t, h.term1.ID), 1)

	_, err = h.svc.Collect(ctx, h.pay(2, 100000, "R-001"))
	require.NoError(t, err)
}

func TestCollectValidatesInstruction(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.CollectRequest)
		want   error
	}{
		{"negative amount", func(r *domain.CollectRequest) { r.Amount = -1 }, domain.ErrInvalidAmount},
		{"nothing to collect", func(r *domain.CollectRequest) { r.Amount = 0; r.FineAmount = 500 }, domain.ErrInvalidPayment},
		{"amount above ceiling", func(r *domain.CollectRequest) { r.Amount = ledgerdomain.MaxAmount + 1 }, domain.ErrInvalidAmount},
		{"fine larger than payment", func(r *domain.CollectRequest) { r.FineAmount = 1001 }, domain.ErrUnsettledFine},
		{"blank receipt", func(r *domain.CollectRequest) { r.ReceiptNumber = "  " }, domain.ErrInvalidReceiptNumber},
		{"cancelled channel", func(r *domain.CollectRequest) { r.PaymentChannel = ledgerdomain.ChannelCancelled }, domain.ErrInvalidChannel},
		{"unknown channel", func(r *domain.CollectRequest) { r.PaymentChannel = "barter" }, domain.ErrInvalidChannel},
		{"term zero", func(r *domain.CollectRequest) { r.Term = 0 }, domain.ErrInvalidTerm},
		{"unassigned term", func(r *domain.CollectRequest) { r.Term = 3 }, domain.ErrUnknownTerm},
		{"unknown student", func(r *domain.CollectRequest) { r.StudentID = h.f.Node.Generate() }, rosterdomain.ErrStudentNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := h.pay(1, 1000, "R-X")
			tc.mutate(&req)
			_, err := h.svc.Collect(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, h.records(t, h.term1.ID))
}

func TestCollectDefaultsReceiptDateToToday(t *testing.T) {
	h := newHarness(t, nil, 3)
	req := h.pay(1, 1000, "R-001")
	req.PaymentChannel = " UPI "

	res, err := h.svc.Collect(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.ChannelUPI, res.Transaction.PaymentChannel)
	assert.True(t, res.Transaction.ReceiptDate.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)))
}

func TestCollectAfterPromotionIsUnknownTerm(t *testing.T) {
	h := newHarness(t, nil, 3)
	next := h.f.Grade("Grade 5", "primary")
	h.f.Promote(h.student.ID, next.ID)

	_, err := h.svc.Collect(context.Background(), h.pay(1, 1000, "R-001"))
	assert.ErrorIs(t, err, domain.ErrUnknownTerm)
}

func TestCancelResetsObligation(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := context.Background()

	req := h.pay(1, 200000, "R-001")
	req.DiscountAmount = 50000
	req.FineAmount = 5000
	_, err := h.svc.Collect(ctx, req)
	require.NoError(t, err)

	res, err := h.svc.Cancel(ctx, domain.CancelRequest{StudentID: h.student.ID, Term: 1, Remarks: "wrong student"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StateCancelled, res.State)
	assert.True(t, res.Obligation.Totals().IsZero())
	assert.Equal(t, int64(500000), res.DueAmount)
	assert.Equal(t, ledgerdomain.ChannelCancelled, res.Transaction.PaymentChannel)
	assert.Equal(t, int64(-200000), res.Transaction.Amount)
	assert.Equal(t, int64(-50000), res.Transaction.DiscountAmount)
	assert.Equal(t, int64(-5000), res.Transaction.FineAmount)
	assert.Contains(t, res.Transaction.ReceiptNumber, "CXL-")

	report, err := h.svc.Reconcile(ctx, h.term1.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 2, report.RecordCount)

	_, err = h.svc.Cancel(ctx, domain.CancelRequest{StudentID: h.student.ID, Term: 1})
	assert.ErrorIs(t, err, domain.ErrNothingToCancel)
	assert.Len(t, h.records(t, h.term1.ID), 2)

	again, err := h.svc.Collect(ctx, h.pay(1, 100000, "R-002"))
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatePartiallyPaid, again.State)
}

func TestCancelUntouchedObligation(t *testing.T) {
	h := newHarness(t, nil, 3)
	_, err := h.svc.Cancel(context.Background(), domain.CancelRequest{StudentID: h.student.ID, Term: 2})
	assert.ErrorIs(t, err, domain.ErrNothingToCancel)
	assert.Empty(t, h.records(t, h.term2.ID))
}

func TestConcurrentCollectionsNeverOvercollect(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded, rejected atomic.Int32
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.Collect(ctx, h.pay(1, 50000, fmt.Sprintf("R-%03d", i)))
			switch {
			case err == nil:
				succeeded.Add(1)
			case assert.ErrorIs(t, err, domain.ErrOverpayment):
				rejected.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, int32(2), rejected.Load())
	obligation := h.obligation(t, h.term1.ID)
	assert.Equal(t, int64(500000), obligation.CumulativePaidAmount)
	assert.Equal(t, int64(10), obligation.Version)
}

// flakyRepo fails UpdateTotals with a version conflict a fixed number of times.
type flakyRepo struct {
	ledgerdomain.Repository
	failures atomic.Int32
}

func (r *flakyRepo) UpdateTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, totals ledgerdomain.Totals, receipt ledgerdomain.ReceiptUpdate, now time.Time) error {
	if r.failures.Add(-1) >= 0 {
		return ledgerdomain.ErrVersionConflict
	}
	return r.Repository.UpdateTotals(ctx, db, id, expectedVersion, totals, receipt, now)
}

func TestCollectRetriesVersionConflicts(t *testing.T) {
	repo := &flakyRepo{Repository: ledgerrepo.Provide()}
	repo.failures.Store(2)
	h := newHarness(t, repo, 3)

	res, err := h.svc.Collect(context.Background(), h.pay(1, 100000, "R-001"))
	require.NoError(t, err)
	assert.Equal(t, int64(100000), res.Obligation.CumulativePaidAmount)
	assert.Len(t, h.records(t, h.term1.ID), 1)
}

func TestCollectSurfacesConflictAfterRetries(t *testing.T) {
	repo := &flakyRepo{Repository: ledgerrepo.Provide()}
	repo.failures.Store(10)
	h := newHarness(t, repo, 2)

	_, err := h.svc.Collect(context.Background(), h.pay(1, 100000, "R-001"))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, h.records(t, h.term1.ID))
	assert.Zero(t, h.obligation(t, h.term1.ID).CumulativePaidAmount)
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	h := newHarness(t, nil, 3)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := h.svc.Collect(ctx, h.pay(1, 10000, fmt.Sprintf("R-%03d", i)))
		require.NoError(t, err)
	}

	req := domain.HistoryRequest{StudentID: h.student.ID}
	req.PageSize = 2
	page, err := h.svc.History(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, "R-003", page.Transactions[0].ReceiptNumber)
	require.True(t, page.PageInfo.HasMore)

	req.PageToken = page.PageInfo.NextPageToken
	rest, err := h.svc.History(ctx, req)
	require.NoError(t, err)
	require.Len(t, rest.Transactions, 1)
	assert.Equal(t, "R-001", rest.Transactions[0].ReceiptNumber)
	assert.False(t, rest.PageInfo.HasMore)

	req.PageToken = "%%%"
	_, err = h.svc.History(ctx, req)
	assert.Error(t, err)
}

func TestReconcileUnknownObligation(t *testing.T) {
	h := newHarness(t, nil, 3)
	_, err := h.svc.Reconcile(context.Background(), h.f.Node.Generate())
	assert.ErrorIs(t, err, ledgerdomain.ErrObligationNotFound)
}

func TestWrappedRejectionsAreClassified(t *testing.T) {
	assert.True(t, isRejection(fmt.Errorf("collect fee: %w", domain.ErrInvalidChannel)))
	assert.True(t, isRejection(fmt.Errorf("collect fee: %w", domain.ErrUnsettledFine)))
	assert.True(t, isRejection(fmt.Errorf("resolve: %w", rosterdomain.ErrStudentNotFound)))
	assert.False(t, isRejection(fmt.Errorf("invalid_amount")))
	assert.False(t, isRejection(domain.ErrConflict))
}
