package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type AssignRequest struct {
	StudentID    snowflake.ID
	GradeID      snowflake.ID
	AcademicYear string
}

// RowError reports a failure for one student without failing the batch.
type RowError struct {
	Row       int    `json:"row"`
	StudentID string `json:"student_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type AssignResult struct {
	Created int        `json:"created"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors"`
}

// AssignRow is one line of a bulk import.
type AssignRow struct {
	StudentID    snowflake.ID `json:"student_id" validate:"required"`
	GradeID      snowflake.ID `json:"grade_id" validate:"required"`
	AcademicYear string       `json:"academic_year" validate:"required,max=32"`
}

type BulkAssignRequest struct {
	Rows []AssignRow
}

type BulkAssignResult struct {
	Processed int        `json:"processed"`
	Created   int        `json:"created"`
	Skipped   int        `json:"skipped"`
	Errors    []RowError `json:"errors"`
}

type Service interface {
	AssignFees(ctx context.Context, req AssignRequest) (AssignResult, error)
	BulkAssign(ctx context.Context, req BulkAssignRequest) (BulkAssignResult, error)
	AssignGrade(ctx context.Context, gradeID snowflake.ID, academicYear string) (BulkAssignResult, error)
}

const (
	CodeNoFeeStructure = "no_fee_structure"
	CodeInvalidRow     = "invalid_row"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal_error"
)

var (
	ErrInvalidStudent = errors.New("invalid_student")
	ErrInvalidGrade   = errors.New("invalid_grade")
	ErrEmptyBatch     = errors.New("invalid_batch_empty")
)
