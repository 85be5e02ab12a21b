package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	auditdomain "github.com/smallbiznis/bursar/internal/audit/domain"
	auditrepo "github.com/smallbiznis/bursar/internal/audit/repository"
	auditservice "github.com/smallbiznis/bursar/internal/audit/service"
	"github.com/smallbiznis/bursar/internal/clock"
	"github.com/smallbiznis/bursar/internal/config"
	"github.com/smallbiznis/bursar/internal/feeassignment/domain"
	feecatalogrepo "github.com/smallbiznis/bursar/internal/feecatalog/repository"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/bursar/internal/ledger/repository"
	"github.com/smallbiznis/bursar/internal/ledgertest"
	"github.com/smallbiznis/bursar/internal/lock"
	obsmetrics "github.com/smallbiznis/bursar/internal/observability/metrics"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	rosterrepo "github.com/smallbiznis/bursar/internal/roster/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*ledgertest.Fixture, domain.Service) {
	f := ledgertest.New(t)
	clk := clock.NewFakeClock(f.Now)
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
		Cfg:           config.Config{Ledger: config.LedgerConfig{AssignmentConcurrency: 4}},
		Locker:        lock.NewKeyedMutex(),
		CatalogRepo:   feecatalogrepo.Provide(),
		LedgerRepo:    ledgerrepo.Provide(),
		RosterRepo:    rosterrepo.Provide(),
		AuditSvc:      audit,
		LedgerMetrics: obsmetrics.NewLedgerMetricsForTest(prometheus.NewRegistry()),
	})
	return f, svc
}

func countObligations(t *testing.T, f *ledgertest.Fixture, studentID snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.DB.Model(&ledgerdomain.Obligation{}).Where("student_id = ?", studentID).Count(&n).Error)
	return n
}

func TestAssignFeesCreatesOneObligationPerTerm(t *testing.T) {
	f, svc := newTestService(t)
	ctx := context.Background()
	grade := f.Grade("Grade 5", "primary")
	f.Catalog(grade.ID, 1, 500000, 0)
	f.Catalog(grade.ID, 2, 500000, 25000)
	f.Catalog(grade.ID, 3, 500000, 0)
	student := f.Student("Asha Rao", "ADM-001", grade.ID, nil)

	res, err := svc.AssignFees(ctx, domain.AssignRequest{StudentID: student.ID, GradeID: grade.ID, AcademicYear: ledgertest.AcademicYear})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(3), countObligations(t, f, student.ID))

	var obligation ledgerdomain.Obligation
	require.NoError(t, f.DB.Where("student_id = ? AND term = ?", student.ID, 2).First(&obligation).Error)
	assert.Zero(t, obligation.CumulativePaidAmount)
	assert.Zero(t, obligation.CumulativeFineAmount)
	assert.Equal(t, grade.ID, obligation.GradeID)

	var audits int64
	require.NoError(t, f.DB.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionFeesAssigned).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestAssignFeesIsIdempotent(t *testing.T) {
	f, svc := newTestService(t)
	ctx := context.Background()
	grade := f.Grade("Grade 5", "primary")
	f.Catalog(grade.ID, 1, 500000, 0)
	f.Catalog(grade.ID, 2, 500000, 0)
	student := f.Student("Asha Rao", "ADM-001", grade.ID, nil)
	req := domain.AssignRequest{StudentID: student.ID, GradeID: grade.ID, AcademicYear: ledgertest.AcademicYear}

	_, err := svc.AssignFees(ctx, req)
	require.NoError(t, err)
	res, err := svc.AssignFees(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, int64(2), countObligations(t, f, student.ID))
}

func TestAssignFeesPicksUpNewCatalogTerms(t *testing.T) {
	f, svc := newTestService(t)
	ctx := context.Background()
	grade := f.Grade("Grade 5", "primary")
	f.Catalog(grade.ID, 1, 500000, 0)
	student := f.Student("Asha Rao", "ADM-001", grade.ID, nil)
	req := domain.AssignRequest{StudentID: student.ID, GradeID: grade.ID, AcademicYear: ledgertest.AcademicYear}

	_, err := svc.AssignFees(ctx, req)
	require.NoError(t, err)
	f.Catalog(grade.ID, 2, 500000, 0)

	res, err := svc.AssignFees(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
}

func TestAssignFeesWithoutCatalogReportsSoftError(t *testing.T) {
	f, svc := newTestService(t)
	grade := f.Grade("Grade 9", "secondary")
	student := f.Student("Ravi Kumar", "ADM-002", grade.ID, nil)

	res, err := svc.AssignFees(context.Background(), domain.AssignRequest{StudentID: student.ID, GradeID: grade.ID, AcademicYear: ledgertest.AcademicYear})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.CodeNoFeeStructure, res.Errors[0].Code)
	assert.Equal(t, "no fee structure for grade Grade 9 / year 2025-2026", res.Errors[0].Message)
	assert.Zero(t, countObligations(t, f, student.ID))
}

func TestAssignFeesRejectsUnknownReferences(t *testing.T) {
	f, svc := newTestService(t)
	ctx := context.Background()
	grade := f.Grade("Grade 5", "primary")
	student := f.Student("Asha Rao", "ADM-001", grade.ID, nil)

	_, err := svc.AssignFees(ctx, domain.AssignRequest{StudentID: f.Node.Generate(), GradeID: grade.ID, AcademicYear: ledgertest.AcademicYear})
	assert.ErrorIs(t, err, rosterdomain.ErrStudentNotFound)

	_, err = svc.AssignFees(ctx, domain.AssignRequest{StudentID: student.ID, GradeID: f.Node.Generate(), AcademicYear: ledgertest.AcademicYear})
	assert.ErrorIs(t, err, rosterdomain.ErrGradeNotFound)

	_, err = svc.AssignFees(ctx, domain.AssignRequest{StudentID: student.ID, GradeID: grade.ID, AcademicYear: "1999-2000"})
	assert.ErrorIs(t, err, rosterdomain.ErrInvalidAcademicYear)

	_, err = svc.AssignFees(ctx, domain.AssignRequest{GradeID: grade.ID, AcademicYear: ledgertest.AcademicYear})
	assert.ErrorIs(t, err, domain.ErrInvalidStudent)
}

func TestBulkAssignCollectsRowErrors(t *testing.T) {
	f, svc := newTestService(t)
	grade := f.Grade("Grade 5", "primary")
	f.Catalog(grade.ID, 1, 500000, 0)
	f.Catalog(grade.ID, 2, 500000, 0)

	var rows []domain.AssignRow
	for i := 0; i < 6; i++ {
		student := f.Student("Student", "ADM-1"+string(rune('0'+i)), grade.ID, nil)
		rows = append(rows, domain.AssignRow{StudentID: student.ID, GradeID: grade.ID, AcademicYear: ledgertest.AcademicYear})
	}
	rows = append(rows,
		domain.AssignRow{StudentID: f.Node.Generate(), GradeID: grade.ID, AcademicYear: ledgertest.AcademicYear},
		domain.AssignRow{GradeID: grade.ID},
	)

	res, err := svc.BulkAssign(context.Background(), domain.BulkAssignRequest{Rows: rows})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Processed)
	assert.Equal(t, 12, res.Created)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 7, res.Errors[0].Row)
	assert.Equal(t, domain.CodeNotFound, res.Errors[0].Code)
	assert.Equal(t, 8, res.Errors[1].Row)
	assert.Equal(t, domain.CodeInvalidRow, res.Errors[1].Code)
}

func TestBulkAssignRejectsEmptyBatch(t *testing.T) {
	_, svc := newTestService(t)
	_, err := svc.BulkAssign(context.Background(), domain.BulkAssignRequest{})
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)
}

func TestAssignGradeCoversEnrolledStudents(t *testing.T) {
	f, svc := newTestService(t)
	grade := f.Grade("Grade 5", "primary")
	other := f.Grade("Grade 6", "primary")
	f.Catalog(grade.ID, 1, 500000, 0)
	first := f.Student("Asha Rao", "ADM-001", grade.ID, nil)
	second := f.Student("Ravi Kumar", "ADM-002", grade.ID, nil)
	outside := f.Student("Meera Das", "ADM-003", other.ID, nil)

	res, err := svc.AssignGrade(context.Background(), grade.ID, ledgertest.AcademicYear)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, int64(1), countObligations(t, f, first.ID))
	assert.Equal(t, int64(1), countObligations(t, f, second.ID))
	assert.Zero(t, countObligations(t, f, outside.ID))
}
