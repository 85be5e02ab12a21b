package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bursar/internal/config"
	"github.com/smallbiznis/bursar/internal/feesummary/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// balanceBatchSize bounds the IN list when loading obligations for many students.
const balanceBatchSize = 500

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Tiers      *config.FeeTierHolder `optional:"true"`
	LedgerRepo ledgerdomain.Repository
	RosterRepo rosterdomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	tiers      *config.FeeTierHolder
	ledgerRepo ledgerdomain.Repository
	rosterRepo rosterdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("feesummary.service"),
		tiers:      p.Tiers,
		ledgerRepo: p.LedgerRepo,
		rosterRepo: p.RosterRepo,
	}
}

func (s *Service) Summarize(ctx context.Context, studentID snowflake.ID) (*domain.Snapshot, error) {
	if studentID == 0 {
		return nil, domain.ErrInvalidStudent
	}
	student, err := s.rosterRepo.FindStudentRow(ctx, s.db, studentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, rosterdomain.ErrStudentNotFound
	}

	balances, err := s.ledgerRepo.ListCurrentBalances(ctx, s.db, []snowflake.ID{student.ID})
	if err != nil {
		return nil, err
	}
	snap := domain.Summarize(*student, balances, s.tiers)
	return &snap, nil
}

// SummarizeAll derives snapshots for every active student matching filter,
// in roster order.
func (s *Service) SummarizeAll(ctx context.Context, filter domain.Filter) ([]*domain.Snapshot, error) {
	students, err := s.rosterRepo.ListStudents(ctx, s.db, rosterdomain.StudentFilter{
		GradeID:      filter.GradeID,
		ClassID:      filter.ClassID,
		AcademicYear: filter.AcademicYear,
		Search:       filter.Search,
	})
	if err != nil {
		return nil, err
	}

	byStudent := make(map[snowflake.ID][]*ledgerdomain.ObligationBalance, len(students))
	for start := 0; start < len(students); start += balanceBatchSize {
		end := start + balanceBatchSize
		if end > len(students) {
			end = len(students)
		}
		ids := make([]snowflake.ID, 0, end-start)
		for _, student := range students[start:end] {
			ids = append(ids, student.ID)
		}
		balances, err := s.ledgerRepo.ListCurrentBalances(ctx, s.db, ids)
		if err != nil {
			return nil, err
		}
		for _, balance := range balances {
			byStudent[balance.StudentID] = append(byStudent[balance.StudentID], balance)
		}
	}

	snapshots := make([]*domain.Snapshot, 0, len(students))
	for _, student := range students {
		snap := domain.Summarize(*student, byStudent[student.ID], s.tiers)
		snapshots = append(snapshots, &snap)
	}
	s.log.Debug("summarized students", zap.Int("count", len(snapshots)))
	return snapshots, nil
}
