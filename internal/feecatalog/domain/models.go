package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// FeeCatalogEntry is the charge for one grade, term and academic year.
type FeeCatalogEntry struct {
	ID                  snowflake.ID    `gorm:"primaryKey" json:"id"`
	GradeID             snowflake.ID    `gorm:"not null;uniqueIndex:ux_fee_catalog_grade_term_year,priority:1" json:"grade_id"`
	Term                int             `gorm:"not null;uniqueIndex:ux_fee_catalog_grade_term_year,priority:2" json:"term"`
	AcademicYear        string          `gorm:"not null;uniqueIndex:ux_fee_catalog_grade_term_year,priority:3" json:"academic_year"`
	TuitionAmount       int64           `gorm:"not null" json:"tuition_amount"`
	SupplementaryAmount int64           `gorm:"not null;default:0" json:"supplementary_amount"`
	Currency            string          `gorm:"not null" json:"currency"`
	TermStartDate       *datatypes.Date `json:"term_start_date,omitempty"`
	TermDueDate         *datatypes.Date `json:"term_due_date,omitempty"`
	CreatedAt           time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"not null" json:"updated_at"`
}

func (FeeCatalogEntry) TableName() string { return "fee_catalog_entries" }

func (e FeeCatalogEntry) Total() int64 {
	return e.TuitionAmount + e.SupplementaryAmount
}

type ListFilter struct {
	GradeID      snowflake.ID
	AcademicYear string
}
