package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ListRequest struct {
	GradeID      snowflake.ID
	AcademicYear string
}

type CreateRequest struct {
	GradeID             snowflake.ID
	AcademicYear        string
	Term                int
	TuitionAmount       int64
	SupplementaryAmount int64
	Currency            string
	TermStartDate       *time.Time
	TermDueDate         *time.Time
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	TuitionAmount       *int64
	SupplementaryAmount *int64
	TermStartDate       *time.Time
	TermDueDate         *time.Time
}

type Service interface {
	List(ctx context.Context, req ListRequest) ([]FeeCatalogEntry, error)
	Get(ctx context.Context, id snowflake.ID) (FeeCatalogEntry, error)
	Create(ctx context.Context, req CreateRequest) (FeeCatalogEntry, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (FeeCatalogEntry, error)
}

var (
	ErrInvalidTerm         = errors.New("invalid_term")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidDateRange    = errors.New("invalid_date_range")
	ErrInvalidGrade        = errors.New("invalid_grade")
	ErrTotalBelowCollected = errors.New("invalid_total_below_collected")
	ErrDuplicateEntry      = errors.New("duplicate_catalog_entry")
	ErrNotFound            = errors.New("catalog_entry_not_found")
)
