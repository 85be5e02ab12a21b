package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bursar/internal/roster/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const studentRowColumns = `s.id, s.admission_number, s.name, s.grade_id, g.name AS grade_name,
	g.tier AS grade_tier, s.class_id, COALESCE(c.name, '') AS class_name, s.academic_year`

func (r *repo) FindStudent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Student, error) {
	var student domain.Student
	err := db.WithContext(ctx).Raw(
		`SELECT id, admission_number, name, grade_id, class_id, academic_year, active, created_at, updated_at
		 FROM students WHERE id = ?`,
		id,
	).Scan(&student).Error
	if err != nil {
		return nil, err
	}
	if student.ID == 0 {
		return nil, nil
	}
	return &student, nil
}

func (r *repo) FindStudentRow(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.StudentRow, error) {
	var row domain.StudentRow
	err := db.WithContext(ctx).Raw(
		`SELECT `+studentRowColumns+`
		 FROM students s
		 JOIN grades g ON g.id = s.grade_id
		 LEFT JOIN classes c ON c.id = s.class_id
		 WHERE s.id = ?`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindGrade(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Grade, error) {
	var grade domain.Grade
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, tier, created_at FROM grades WHERE id = ?`,
		id,
	).Scan(&grade).Error
	if err != nil {
		return nil, err
	}
	if grade.ID == 0 {
		return nil, nil
	}
	return &grade, nil
}

func (r *repo) FindAcademicYear(ctx context.Context, db *gorm.DB, code string) (*domain.AcademicYear, error) {
	var year domain.AcademicYear
	err := db.WithContext(ctx).Raw(
		`SELECT code, starts_on, ends_on, is_current FROM academic_years WHERE code = ?`,
		strings.TrimSpace(code),
	).Scan(&year).Error
	if err != nil {
		return nil, err
	}
	if year.Code == "" {
		return nil, nil
	}
	return &year, nil
}

// ListStudents returns active students matching filter, ordered by name.
func (r *repo) ListStudents(ctx context.Context, db *gorm.DB, filter domain.StudentFilter) ([]*domain.StudentRow, error) {
	var rows []*domain.StudentRow
	stmt := db.WithContext(ctx).
		Table("students AS s").
		Select(studentRowColumns).
		Joins("JOIN grades g ON g.id = s.grade_id").
		Joins("LEFT JOIN classes c ON c.id = s.class_id").
		Where("s.active = ?", true)
	if filter.GradeID != 0 {
		stmt = stmt.Where("s.grade_id = ?", filter.GradeID)
	}
	if filter.ClassID != 0 {
		stmt = stmt.Where("s.class_id = ?", filter.ClassID)
	}
	if filter.AcademicYear != "" {
		stmt = stmt.Where("s.academic_year = ?", filter.AcademicYear)
	}
	if len(filter.IDs) > 0 {
		stmt = stmt.Where("s.id IN ?", filter.IDs)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		like := "%" + search + "%"
		stmt = stmt.Where("(LOWER(s.name) LIKE ? OR LOWER(s.admission_number) LIKE ?)", like, like)
	}
	if err := stmt.Order("s.name asc, s.id asc").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
