package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bursar/internal/feecatalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.FeeCatalogEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, entry *domain.FeeCatalogEntry) error {
	return db.WithContext(ctx).Exec(
		`UPDATE fee_catalog_entries
		 SET tuition_amount = ?, supplementary_amount = ?, term_start_date = ?, term_due_date = ?, updated_at = ?
		 WHERE id = ?`,
		entry.TuitionAmount,
		entry.SupplementaryAmount,
		entry.TermStartDate,
		entry.TermDueDate,
		entry.UpdatedAt,
		entry.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.FeeCatalogEntry, error) {
	var entry domain.FeeCatalogEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, grade_id, term, academic_year, tuition_amount, supplementary_amount, currency,
		        term_start_date, term_due_date, created_at, updated_at
		 FROM fee_catalog_entries WHERE id = ?`,
		id,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.FeeCatalogEntry, error) {
	var entries []*domain.FeeCatalogEntry
	stmt := db.WithContext(ctx).Model(&domain.FeeCatalogEntry{})
	if filter.GradeID != 0 {
		stmt = stmt.Where("grade_id = ?", filter.GradeID)
	}
	if filter.AcademicYear != "" {
		stmt = stmt.Where("academic_year = ?", filter.AcademicYear)
	}
	if err := stmt.Order("grade_id asc, academic_year asc, term asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
