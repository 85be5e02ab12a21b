package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository reads the roster owned by the student administration collaborator.
type Repository interface {
	FindStudent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Student, error)
	FindStudentRow(ctx context.Context, db *gorm.DB, id snowflake.ID) (*StudentRow, error)
	FindGrade(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Grade, error)
	FindAcademicYear(ctx context.Context, db *gorm.DB, code string) (*AcademicYear, error)
	ListStudents(ctx context.Context, db *gorm.DB, filter StudentFilter) ([]*StudentRow, error)
}

var (
	ErrStudentNotFound     = errors.New("student_not_found")
	ErrGradeNotFound       = errors.New("grade_not_found")
	ErrInvalidAcademicYear = errors.New("invalid_academic_year")
)
