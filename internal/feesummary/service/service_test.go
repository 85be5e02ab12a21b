package service

import (
	"context"
	"testing"

	"github.com/smallbiznis/bursar/internal/config"
	"github.com/smallbiznis/bursar/internal/feesummary/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/bursar/internal/ledger/repository"
	"github.com/smallbiznis/bursar/internal/ledgertest"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	rosterrepo "github.com/smallbiznis/bursar/internal/roster/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*ledgertest.Fixture, domain.Service) {
	f := ledgertest.New(t)
	tiers, err := config.NewStaticFeeTierHolder(config.DefaultFeeTierConfig())
	require.NoError(t, err)
	return f, New(Params{
		DB:         f.DB,
		Log:        zap.NewNop(),
		Tiers:      tiers,
		LedgerRepo: ledgerrepo.Provide(),
		RosterRepo: rosterrepo.Provide(),
	})
}

func pay(t *testing.T, f *ledgertest.Fixture, obligation ledgerdomain.Obligation, amount int64) {
	t.Helper()
	require.NoError(t, f.DB.Model(&ledgerdomain.Obligation{}).
		Where("id = ?", obligation.ID).
		Update("cumulative_paid_amount", amount).Error)
}

func TestSummarizeUsesCurrentGradeOnly(t *testing.T) {
	f, svc := newTestService(t)
	ctx := context.Background()
	grade := f.Grade("Grade 2", "primary")
	next := f.Grade("Grade 3", "primary")
	class := f.Class(grade.ID, "2-A")
	student := f.Student("Asha Rao", "ADM-001", grade.ID, &class.ID)

	term1 := f.Obligation(student.ID, f.Catalog(grade.ID, 1, 500000, 0))
	f.Obligation(student.ID, f.Catalog(grade.ID, 2, 500000, 0))
	pay(t, f, term1, 500000)

	snap, err := svc.Summarize(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, "1 Term Paid", snap.Status)
	assert.Equal(t, int64(500000), snap.DueAmount)
	assert.Equal(t, "2-A", snap.ClassName)
	assert.Equal(t, "Grade 2", snap.GradeName)
	require.Len(t, snap.Terms, 2)
	assert.Equal(t, 1, snap.Terms[0].Term)

	f.Promote(student.ID, next.ID)
	snap, err = svc.Summarize(ctx, student.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Terms)
	assert.Equal(t, domain.StatusNotPaid, snap.Status)
}

func TestSummarizeAppliesTierTermCount(t *testing.T) {
	f, svc := newTestService(t)
	grade := f.Grade("Nursery", "Pre Primary")
	student := f.Student("Kabir Shah", "ADM-010", grade.ID, nil)
	for term := 1; term <= 3; term++ {
		f.Obligation(student.ID, f.Catalog(grade.ID, term, 200000, 0))
	}

	snap, err := svc.Summarize(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TermCount)
	assert.Equal(t, 3, len(snap.Terms))
}

func TestSummarizeUnknownStudent(t *testing.T) {
	f, svc := newTestService(t)
	_, err := svc.Summarize(context.Background(), f.Node.Generate())
	assert.ErrorIs(t, err, rosterdomain.ErrStudentNotFound)

	_, err = svc.Summarize(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidStudent)
}

func TestSummarizeAllFiltersByGrade(t *testing.T) {
	f, svc := newTestService(t)
	grade := f.Grade("Grade 2", "primary")
	other := f.Grade("Grade 7", "secondary")
	entry := f.Catalog(grade.ID, 1, 500000, 0)
	paid := f.Student("Asha Rao", "ADM-001", grade.ID, nil)
	unpaid := f.Student("Bala Iyer", "ADM-002", grade.ID, nil)
	f.Student("Chitra Nair", "ADM-003", other.ID, nil)
	pay(t, f, f.Obligation(paid.ID, entry), 500000)
	f.Obligation(unpaid.ID, entry)

	all, err := svc.SummarizeAll(context.Background(), domain.Filter{GradeID: grade.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Asha Rao", all[0].StudentName)
	assert.Equal(t, domain.StatusFullyPaid, all[0].Status)
	assert.Equal(t, "Bala Iyer", all[1].StudentName)
	assert.Equal(t, domain.StatusNotPaid, all[1].Status)

	everyone, err := svc.SummarizeAll(context.Background(), domain.Filter{})
	require.NoError(t, err)
	assert.Len(t, everyone, 3)
}
