package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/bursar/internal/config"
	feesummaryservice "github.com/smallbiznis/bursar/internal/feesummary/service"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/bursar/internal/ledger/repository"
	"github.com/smallbiznis/bursar/internal/ledgertest"
	"github.com/smallbiznis/bursar/internal/reporting/domain"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	rosterrepo "github.com/smallbiznis/bursar/internal/roster/repository"
	"github.com/smallbiznis/bursar/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type reportFixture struct {
	*ledgertest.Fixture
	svc   domain.Service
	grade rosterdomain.Grade
	seq   int
}

func newReportFixture(t *testing.T) *reportFixture {
	f := ledgertest.New(t)
	tiers, err := config.NewStaticFeeTierHolder(config.DefaultFeeTierConfig())
	require.NoError(t, err)
	summary := feesummaryservice.New(feesummaryservice.Params{
		DB:         f.DB,
		Log:        zap.NewNop(),
		Tiers:      tiers,
		LedgerRepo: ledgerrepo.Provide(),
		RosterRepo: rosterrepo.Provide(),
	})
	svc := New(Params{
		DB:         f.DB,
		Log:        zap.NewNop(),
		Summary:    summary,
		LedgerRepo: ledgerrepo.Provide(),
	})
	return &reportFixture{Fixture: f, svc: svc, grade: f.Grade("Grade 6", "primary")}
}

// receipt writes a transaction and applies it to the obligation totals.
func (r *reportFixture) receipt(t *testing.T, obligation ledgerdomain.Obligation, amount int64, channel ledgerdomain.PaymentChannel, day time.Time) {
	t.Helper()
	r.seq++
	record := ledgerdomain.TransactionRecord{
		ID:             r.Node.Generate(),
		StudentID:      obligation.StudentID,
		ObligationID:   obligation.ID,
		AcademicYear:   obligation.AcademicYear,
		Term:           obligation.Term,
		Amount:         amount,
		ReceiptNumber:  fmt.Sprintf("R-%04d", r.seq),
		ReceiptDate:    day,
		PaymentChannel: channel,
		CreatedAt:      r.Now,
	}
	require.NoError(t, r.DB.Create(&record).Error)
	require.NoError(t, r.DB.Exec(
		`UPDATE fee_obligations SET cumulative_paid_amount = cumulative_paid_amount + ? WHERE id = ?`,
		amount, obligation.ID,
	).Error)
}

func day(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestBalancesFilterSortAndPage(t *testing.T) {
	r := newReportFixture(t)
	ctx := context.Background()
	entry := r.Catalog(r.grade.ID, 1, 500000, 0)

	names := []string{"Devi", "Arjun", "Chetan", "Bina"}
	paid := []int64{500000, 0, 200000, 100000}
	for i, name := range names {
		student := r.Student(name, fmt.Sprintf("ADM-%02d", i), r.grade.ID, nil)
		obligation := r.Obligation(student.ID, entry)
		if paid[i] > 0 {
			r.receipt(t, obligation, paid[i], ledgerdomain.ChannelCash, day(3))
		}
	}

	res, err := r.svc.Balances(ctx, domain.BalancesRequest{GradeID: r.grade.ID})
	require.NoError(t, err)
	require.Len(t, res.Students, 4)
	assert.Equal(t, "Arjun", res.Students[0].StudentName)
	assert.Equal(t, int64(4), res.Page.TotalItems)

	res, err = r.svc.Balances(ctx, domain.BalancesRequest{Sort: domain.SortDueAmount, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, "Arjun", res.Students[0].StudentName)
	assert.Equal(t, "Devi", res.Students[3].StudentName)

	res, err = r.svc.Balances(ctx, domain.BalancesRequest{Status: domain.StatusFilterPartial, Sort: domain.SortPaidAmount})
	require.NoError(t, err)
	require.Len(t, res.Students, 2)
	assert.Equal(t, "Bina", res.Students[0].StudentName)
	assert.Equal(t, "Chetan", res.Students[1].StudentName)

	res, err = r.svc.Balances(ctx, domain.BalancesRequest{Status: "Fully Paid"})
	require.NoError(t, err)
	require.Len(t, res.Students, 1)
	assert.Equal(t, "Devi", res.Students[0].StudentName)

	res, err = r.svc.Balances(ctx, domain.BalancesRequest{Page: pagination.Page{Page: 2, PageSize: 3}})
	require.NoError(t, err)
	require.Len(t, res.Students, 1)
	assert.Equal(t, "Devi", res.Students[0].StudentName)
	assert.Equal(t, 2, res.Page.TotalPages)

	res, err = r.svc.Balances(ctx, domain.BalancesRequest{Page: pagination.Page{Page: 9}})
	require.NoError(t, err)
	assert.Empty(t, res.Students)

	_, err = r.svc.Balances(ctx, domain.BalancesRequest{Sort: "shoe_size"})
	assert.ErrorIs(t, err, domain.ErrInvalidSort)
	_, err = r.svc.Balances(ctx, domain.BalancesRequest{Status: "overdue"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestCollectionsAndCancellationsAreSeparate(t *testing.T) {
	r := newReportFixture(t)
	ctx := context.Background()
	student := r.Student("Arjun", "ADM-01", r.grade.ID, nil)
	obligation := r.Obligation(student.ID, r.Catalog(r.grade.ID, 1, 500000, 0))
	r.receipt(t, obligation, 100000, ledgerdomain.ChannelCash, day(2))
	r.receipt(t, obligation, 50000, ledgerdomain.ChannelUPI, day(3))
	r.receipt(t, obligation, -150000, ledgerdomain.ChannelCancelled, day(4))

	collections, err := r.svc.Collections(ctx, domain.TransactionsRequest{})
	require.NoError(t, err)
	assert.Len(t, collections.Transactions, 2)
	assert.False(t, collections.PageInfo.HasMore)

	upi, err := r.svc.Collections(ctx, domain.TransactionsRequest{Channel: ledgerdomain.ChannelUPI})
	require.NoError(t, err)
	require.Len(t, upi.Transactions, 1)
	assert.Equal(t, int64(50000), upi.Transactions[0].Amount)

	cancellations, err := r.svc.Cancellations(ctx, domain.TransactionsRequest{})
	require.NoError(t, err)
	require.Len(t, cancellations.Transactions, 1)
	assert.Equal(t, ledgerdomain.ChannelCancelled, cancellations.Transactions[0].PaymentChannel)

	from, to := day(3), day(2)
	_, err = r.svc.Collections(ctx, domain.TransactionsRequest{From: &from, To: &to})
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
	_, err = r.svc.Collections(ctx, domain.TransactionsRequest{Channel: ledgerdomain.ChannelCancelled})
	assert.ErrorIs(t, err, domain.ErrInvalidChannel)
}

func TestCollectionsPagination(t *testing.T) {
	r := newReportFixture(t)
	ctx := context.Background()
	student := r.Student("Arjun", "ADM-01", r.grade.ID, nil)
	obligation := r.Obligation(student.ID, r.Catalog(r.grade.ID, 1, 500000, 0))
	for i := 0; i < 5; i++ {
		r.receipt(t, obligation, 10000, ledgerdomain.ChannelCash, day(2))
	}

	req := domain.TransactionsRequest{}
	req.PageSize = 2
	seen := 0
	for pages := 0; pages < 5; pages++ {
		res, err := r.svc.Collections(ctx, req)
		require.NoError(t, err)
		seen += len(res.Transactions)
		if !res.PageInfo.HasMore {
			break
		}
		req.PageToken = res.PageInfo.NextPageToken
	}
	assert.Equal(t, 5, seen)
}

func TestDailyCollectionGroupsByDayAndChannel(t *testing.T) {
	r := newReportFixture(t)
	ctx := context.Background()
	student := r.Student("Arjun", "ADM-01", r.grade.ID, nil)
	obligation := r.Obligation(student.ID, r.Catalog(r.grade.ID, 1, 900000, 0))
	r.receipt(t, obligation, 100000, ledgerdomain.ChannelCash, day(2))
	r.receipt(t, obligation, 20000, ledgerdomain.ChannelCash, day(2).Add(15*time.Hour))
	r.receipt(t, obligation, 30000, ledgerdomain.ChannelUPI, day(2))
	r.receipt(t, obligation, 40000, ledgerdomain.ChannelCash, day(5))
	r.receipt(t, obligation, -190000, ledgerdomain.ChannelCancelled, day(5))
	r.receipt(t, obligation, 70000, ledgerdomain.ChannelCash, day(9))

	res, err := r.svc.DailyCollection(ctx, domain.DailyCollectionRequest{From: day(2), To: day(5)})
	require.NoError(t, err)
	require.Len(t, res.Days, 3)
	assert.Equal(t, domain.DailyCollection{Date: "2025-06-02", Channel: ledgerdomain.ChannelCash, Count: 2, Amount: 120000}, res.Days[0])
	assert.Equal(t, ledgerdomain.ChannelUPI, res.Days[1].Channel)
	assert.Equal(t, "2025-06-05", res.Days[2].Date)
	assert.Equal(t, int64(190000), res.Totals.Paid)

	_, err = r.svc.DailyCollection(ctx, domain.DailyCollectionRequest{From: day(5), To: day(2)})
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
	_, err = r.svc.DailyCollection(ctx, domain.DailyCollectionRequest{From: day(2)})
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
}

func TestStudentStatement(t *testing.T) {
	r := newReportFixture(t)
	ctx := context.Background()
	student := r.Student("Arjun", "ADM-01", r.grade.ID, nil)
	obligation := r.Obligation(student.ID, r.Catalog(r.grade.ID, 1, 500000, 0))
	r.receipt(t, obligation, 100000, ledgerdomain.ChannelCash, day(2))
	r.receipt(t, obligation, 400000, ledgerdomain.ChannelCheque, day(6))

	statement, err := r.svc.StudentStatement(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fully Paid", statement.Summary.Status)
	require.Len(t, statement.Transactions, 2)
	assert.Equal(t, int64(100000), statement.Transactions[0].Amount)

	_, err = r.svc.StudentStatement(ctx, r.Node.Generate())
	assert.ErrorIs(t, err, rosterdomain.ErrStudentNotFound)
}
