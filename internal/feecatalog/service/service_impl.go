package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/bursar/internal/audit/domain"
	"github.com/smallbiznis/bursar/internal/clock"
	"github.com/smallbiznis/bursar/internal/config"
	"github.com/smallbiznis/bursar/internal/feecatalog/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	"github.com/smallbiznis/bursar/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       domain.Repository
	RosterRepo rosterdomain.Repository
	LedgerRepo ledgerdomain.Repository
	AuditSvc   auditdomain.Service `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	defaultCurrency string
	repo            domain.Repository
	rosterRepo      rosterdomain.Repository
	ledgerRepo      ledgerdomain.Repository
	auditSvc        auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("feecatalog.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		defaultCurrency: p.Cfg.Ledger.DefaultCurrency,
		repo:            p.Repo,
		rosterRepo:      p.RosterRepo,
		ledgerRepo:      p.LedgerRepo,
		auditSvc:        p.AuditSvc,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.FeeCatalogEntry, error) {
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		GradeID:      req.GradeID,
		AcademicYear: strings.TrimSpace(req.AcademicYear),
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.FeeCatalogEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}
	return entries, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.FeeCatalogEntry, error) {
	entry, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.FeeCatalogEntry{}, err
	}
	if entry == nil {
		return domain.FeeCatalogEntry{}, domain.ErrNotFound
	}
	return *entry, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.FeeCatalogEntry, error) {
	if req.GradeID == 0 {
		return domain.FeeCatalogEntry{}, domain.ErrInvalidGrade
	}
	if req.Term < 1 {
		return domain.FeeCatalogEntry{}, domain.ErrInvalidTerm
	}
	if !validAmount(req.TuitionAmount) || !validAmount(req.SupplementaryAmount) {
		return domain.FeeCatalogEntry{}, domain.ErrInvalidAmount
	}
	if err := validateDates(req.TermStartDate, req.TermDueDate); err != nil {
		return domain.FeeCatalogEntry{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return domain.FeeCatalogEntry{}, domain.ErrInvalidCurrency
	}

	grade, err := s.rosterRepo.FindGrade(ctx, s.db, req.GradeID)
	if err != nil {
		return domain.FeeCatalogEntry{}, err
	}
	if grade == nil {
		return domain.FeeCatalogEntry{}, rosterdomain.ErrGradeNotFound
	}
	year, err := s.rosterRepo.FindAcademicYear(ctx, s.db, req.AcademicYear)
	if err != nil {
		return domain.FeeCatalogEntry{}, err
	}
	if year == nil {
		return domain.FeeCatalogEntry{}, rosterdomain.ErrInvalidAcademicYear
	}

	now := s.clock.Now()
	entry := domain.FeeCatalogEntry{
		ID:                  s.genID.Generate(),
		GradeID:             grade.ID,
		Term:                req.Term,
		AcademicYear:        year.Code,
		TuitionAmount:       req.TuitionAmount,
		SupplementaryAmount: req.SupplementaryAmount,
		Currency:            currency,
		TermStartDate:       toDate(req.TermStartDate),
		TermDueDate:         toDate(req.TermDueDate),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &entry); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateEntry
			}
			return err
		}
		return s.audit(ctx, tx, auditdomain.ActionCatalogCreated, entry)
	})
	if err != nil {
		return domain.FeeCatalogEntry{}, err
	}

	s.log.Info("fee catalog entry created",
		zap.String("entry_id", entry.ID.String()),
		zap.String("grade_id", entry.GradeID.String()),
		zap.String("academic_year", entry.AcademicYear),
		zap.Int("term", entry.Term),
	)
	return entry, nil
}

// Update edits amounts and dates. Obligations bound to the entry are row-locked
// so no collection can settle against the old total while the new one is checked.
func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdateRequest) (domain.FeeCatalogEntry, error) {
	if (req.TuitionAmount != nil && !validAmount(*req.TuitionAmount)) ||
		(req.SupplementaryAmount != nil && !validAmount(*req.SupplementaryAmount)) {
		return domain.FeeCatalogEntry{}, domain.ErrInvalidAmount
	}

	var updated domain.FeeCatalogEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return domain.ErrNotFound
		}

		if req.TuitionAmount != nil {
			entry.TuitionAmount = *req.TuitionAmount
		}
		if req.SupplementaryAmount != nil {
			entry.SupplementaryAmount = *req.SupplementaryAmount
		}
		if req.TermStartDate != nil {
			entry.TermStartDate = toDate(req.TermStartDate)
		}
		if req.TermDueDate != nil {
			entry.TermDueDate = toDate(req.TermDueDate)
		}
		if err := validateDates(fromDate(entry.TermStartDate), fromDate(entry.TermDueDate)); err != nil {
			return err
		}

		if _, err := s.ledgerRepo.LockByCatalogEntry(ctx, tx, entry.ID); err != nil {
			return err
		}
		underfunded, err := s.ledgerRepo.CountUnderfundedByEntry(ctx, tx, entry.ID, entry.Total())
		if err != nil {
			return err
		}
		if underfunded > 0 {
			return domain.ErrTotalBelowCollected
		}

		entry.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, entry); err != nil {
			return err
		}
		updated = *entry
		return s.audit(ctx, tx, auditdomain.ActionCatalogUpdated, updated)
	})
	if err != nil {
		return domain.FeeCatalogEntry{}, err
	}
	return updated, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, entry domain.FeeCatalogEntry) error {
	if s.auditSvc == nil {
		return nil
	}
	targetID := entry.ID.String()
	return s.auditSvc.AuditLog(ctx, tx, action, auditdomain.TargetTypeCatalogEntry, &targetID, map[string]any{
		"grade_id":             entry.GradeID.String(),
		"academic_year":        entry.AcademicYear,
		"term":                 entry.Term,
		"tuition_amount":       entry.TuitionAmount,
		"supplementary_amount": entry.SupplementaryAmount,
	})
}

func validateDates(start, due *time.Time) error {
	if start != nil && due != nil && due.Before(*start) {
		return domain.ErrInvalidDateRange
	}
	return nil
}

func toDate(t *time.Time) *datatypes.Date {
	if t == nil || t.IsZero() {
		return nil
	}
	y, m, d := t.UTC().Date()
	date := datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	return &date
}

func fromDate(d *datatypes.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := time.Time(*d)
	return &t
}

func validAmount(amount int64) bool {
	return amount >= 0 && amount <= ledgerdomain.MaxAmount
}
