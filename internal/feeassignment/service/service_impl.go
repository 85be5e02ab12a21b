package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/bursar/internal/audit/domain"
	"github.com/smallbiznis/bursar/internal/clock"
	"github.com/smallbiznis/bursar/internal/config"
	"github.com/smallbiznis/bursar/internal/feeassignment/domain"
	feecatalogdomain "github.com/smallbiznis/bursar/internal/feecatalog/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	"github.com/smallbiznis/bursar/internal/lock"
	obsmetrics "github.com/smallbiznis/bursar/internal/observability/metrics"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	"github.com/smallbiznis/bursar/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultConcurrency = 8

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Locker        lock.Locker
	CatalogRepo   feecatalogdomain.Repository
	LedgerRepo    ledgerdomain.Repository
	RosterRepo    rosterdomain.Repository
	AuditSvc      auditdomain.Service       `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
	LedgerMetrics *obsmetrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	concurrency   int
	locker        lock.Locker
	catalogRepo   feecatalogdomain.Repository
	ledgerRepo    ledgerdomain.Repository
	rosterRepo    rosterdomain.Repository
	auditSvc      auditdomain.Service
	obsMetrics    *obsmetrics.Metrics
	ledgerMetrics *obsmetrics.LedgerMetrics
}

func New(p Params) domain.Service {
	concurrency := p.Cfg.Ledger.AssignmentConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("feeassignment.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		concurrency:   concurrency,
		locker:        p.Locker,
		catalogRepo:   p.CatalogRepo,
		ledgerRepo:    p.LedgerRepo,
		rosterRepo:    p.RosterRepo,
		auditSvc:      p.AuditSvc,
		obsMetrics:    p.ObsMetrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

// AssignFees materializes one obligation per catalog term for the student.
// Existing obligations are skipped, so the call can be repeated safely.
func (s *Service) AssignFees(ctx context.Context, req domain.AssignRequest) (domain.AssignResult, error) {
	start := s.clock.Now()
	result, err := s.assign(ctx, req)
	outcome := obsmetrics.OutcomeSuccess
	if err != nil {
		outcome = obsmetrics.OutcomeRejected
	}
	s.ledgerMetrics.ObserveOperation(obsmetrics.OperationAssign, outcome, s.clock.Now().Sub(start))
	return result, err
}

func (s *Service) assign(ctx context.Context, req domain.AssignRequest) (domain.AssignResult, error) {
	result := domain.AssignResult{Errors: []domain.RowError{}}
	if req.StudentID == 0 {
		return result, domain.ErrInvalidStudent
	}
	if req.GradeID == 0 {
		return result, domain.ErrInvalidGrade
	}
	academicYear := strings.TrimSpace(req.AcademicYear)

	student, err := s.rosterRepo.FindStudent(ctx, s.db, req.StudentID)
	if err != nil {
		return result, err
	}
	if student == nil {
		return result, rosterdomain.ErrStudentNotFound
	}
	grade, err := s.rosterRepo.FindGrade(ctx, s.db, req.GradeID)
	if err != nil {
		return result, err
	}
	if grade == nil {
		return result, rosterdomain.ErrGradeNotFound
	}
	year, err := s.rosterRepo.FindAcademicYear(ctx, s.db, academicYear)
	if err != nil {
		return result, err
	}
	if year == nil {
		return result, rosterdomain.ErrInvalidAcademicYear
	}

	entries, err := s.catalogRepo.List(ctx, s.db, feecatalogdomain.ListFilter{
		GradeID:      grade.ID,
		AcademicYear: year.Code,
	})
	if err != nil {
		return result, err
	}
	if len(entries) == 0 {
		result.Errors = append(result.Errors, domain.RowError{
			StudentID: student.ID.String(),
			Code:      domain.CodeNoFeeStructure,
			Message:   fmt.Sprintf("no fee structure for grade %s / year %s", grade.Name, year.Code),
		})
		return result, nil
	}

	waitStart := time.Now()
	unlock, err := s.locker.Lock(ctx, lock.StudentKey(int64(student.ID)))
	s.ledgerMetrics.ObserveLockWait(obsmetrics.LockResourceStudent, time.Since(waitStart))
	if err != nil {
		return result, err
	}
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, skipped := 0, 0
		now := s.clock.Now()
		for _, entry := range entries {
			inserted, err := s.ledgerRepo.InsertObligation(ctx, tx, &ledgerdomain.Obligation{
				ID:                s.genID.Generate(),
				StudentID:         student.ID,
				FeeCatalogEntryID: entry.ID,
				GradeID:           entry.GradeID,
				AcademicYear:      entry.AcademicYear,
				Term:              entry.Term,
				CreatedAt:         now,
				UpdatedAt:         now,
			})
			if err != nil {
				return err
			}
			if inserted {
				created++
			} else {
				skipped++
			}
		}
		result.Created, result.Skipped = created, skipped

		if created == 0 || s.auditSvc == nil {
			return nil
		}
		targetID := student.ID.String()
		return s.auditSvc.AuditLog(ctx, tx, auditdomain.ActionFeesAssigned, auditdomain.TargetTypeStudent, &targetID, map[string]any{
			"grade_id":      grade.ID.String(),
			"academic_year": year.Code,
			"created":       created,
			"skipped":       skipped,
		})
	})
	if err != nil {
		return domain.AssignResult{Errors: []domain.RowError{}}, err
	}

	s.obsMetrics.RecordAssignment(ctx, result.Created, result.Skipped)
	s.log.Debug("fees assigned",
		zap.String("student_id", student.ID.String()),
		zap.String("grade_id", grade.ID.String()),
		zap.String("academic_year", year.Code),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// BulkAssign runs AssignFees for every row with bounded parallelism.
// Row failures are collected; only cancellation of ctx stops the batch.
func (s *Service) BulkAssign(ctx context.Context, req domain.BulkAssignRequest) (domain.BulkAssignResult, error) {
	out := domain.BulkAssignResult{Errors: []domain.RowError{}}
	if len(req.Rows) == 0 {
		return out, domain.ErrEmptyBatch
	}

	var mu sync.Mutex
	record := func(res domain.AssignResult, rowErrs ...domain.RowError) {
		mu.Lock()
		defer mu.Unlock()
		out.Processed++
		out.Created += res.Created
		out.Skipped += res.Skipped
		out.Errors = append(out.Errors, rowErrs...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, row := range req.Rows {
		rowNum := i + 1
		row := row
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if fieldErrs := validation.Struct(row); len(fieldErrs) > 0 {
				record(domain.AssignResult{}, domain.RowError{
					Row:       rowNum,
					StudentID: idString(row.StudentID),
					Code:      domain.CodeInvalidRow,
					Message:   validation.Message(fieldErrs),
				})
				return nil
			}

			res, err := s.AssignFees(gctx, domain.AssignRequest{
				StudentID:    row.StudentID,
				GradeID:      row.GradeID,
				AcademicYear: row.AcademicYear,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				record(res, rowError(rowNum, row.StudentID, err))
				return nil
			}
			for i := range res.Errors {
				res.Errors[i].Row = rowNum
			}
			record(res, res.Errors...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	sort.SliceStable(out.Errors, func(i, j int) bool { return out.Errors[i].Row < out.Errors[j].Row })
	s.ledgerMetrics.AddAssignmentRows("created", out.Created)
	s.ledgerMetrics.AddAssignmentRows("skipped", out.Skipped)
	s.ledgerMetrics.AddAssignmentRows("error", len(out.Errors))
	s.log.Info("bulk fee assignment finished",
		zap.Int("rows", len(req.Rows)),
		zap.Int("created", out.Created),
		zap.Int("skipped", out.Skipped),
		zap.Int("errors", len(out.Errors)),
	)
	return out, nil
}

// AssignGrade re-runs assignment for every active student enrolled in the grade for the year.
func (s *Service) AssignGrade(ctx context.Context, gradeID snowflake.ID, academicYear string) (domain.BulkAssignResult, error) {
	if gradeID == 0 {
		return domain.BulkAssignResult{Errors: []domain.RowError{}}, domain.ErrInvalidGrade
	}
	academicYear = strings.TrimSpace(academicYear)
	students, err := s.rosterRepo.ListStudents(ctx, s.db, rosterdomain.StudentFilter{
		GradeID:      gradeID,
		AcademicYear: academicYear,
	})
	if err != nil {
		return domain.BulkAssignResult{Errors: []domain.RowError{}}, err
	}
	if len(students) == 0 {
		return domain.BulkAssignResult{Errors: []domain.RowError{}}, nil
	}

	rows := make([]domain.AssignRow, 0, len(students))
	for _, student := range students {
		rows = append(rows, domain.AssignRow{
			StudentID:    student.ID,
			GradeID:      gradeID,
			AcademicYear: academicYear,
		})
	}
	return s.BulkAssign(ctx, domain.BulkAssignRequest{Rows: rows})
}

func rowError(row int, studentID snowflake.ID, err error) domain.RowError {
	code := domain.CodeInternal
	switch {
	case errors.Is(err, rosterdomain.ErrStudentNotFound), errors.Is(err, rosterdomain.ErrGradeNotFound):
		code = domain.CodeNotFound
	case errors.Is(err, rosterdomain.ErrInvalidAcademicYear),
		errors.Is(err, domain.ErrInvalidStudent),
		errors.Is(err, domain.ErrInvalidGrade):
		code = domain.CodeInvalidRow
	}
	message := err.Error()
	if code == domain.CodeInternal {
		message = "assignment failed"
	}
	return domain.RowError{
		Row:       row,
		StudentID: idString(studentID),
		Code:      code,
		Message:   message,
	}
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
