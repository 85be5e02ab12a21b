package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Grade is a year level such as "Grade 3" or "LKG"; Tier groups grades for fee rules.
type Grade struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"not null;uniqueIndex" json:"name"`
	Tier      string       `gorm:"not null;default:''" json:"tier"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Grade) TableName() string { return "grades" }

type Class struct {
	ID      snowflake.ID `gorm:"primaryKey" json:"id"`
	GradeID snowflake.ID `gorm:"not null;index" json:"grade_id"`
	Name    string       `gorm:"not null" json:"name"`
}

func (Class) TableName() string { return "classes" }

type AcademicYear struct {
	Code      string         `gorm:"primaryKey" json:"code"`
	StartsOn  datatypes.Date `gorm:"not null" json:"starts_on"`
	EndsOn    datatypes.Date `gorm:"not null" json:"ends_on"`
	IsCurrent bool           `gorm:"not null;default:false" json:"is_current"`
}

func (AcademicYear) TableName() string { return "academic_years" }

// Student carries the current enrollment: GradeID and AcademicYear move when the student is promoted.
type Student struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	AdmissionNumber string        `gorm:"not null;uniqueIndex" json:"admission_number"`
	Name            string        `gorm:"not null" json:"name"`
	GradeID         snowflake.ID  `gorm:"not null;index" json:"grade_id"`
	ClassID         *snowflake.ID `gorm:"index" json:"class_id,omitempty"`
	AcademicYear    string        `gorm:"not null;index" json:"academic_year"`
	Active          bool          `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Student) TableName() string { return "students" }

// StudentRow is a student joined with display names used by reports.
type StudentRow struct {
	ID              snowflake.ID  `json:"id"`
	AdmissionNumber string        `json:"admission_number"`
	Name            string        `json:"name"`
	GradeID         snowflake.ID  `json:"grade_id"`
	GradeName       string        `json:"grade_name"`
	GradeTier       string        `json:"grade_tier"`
	ClassID         *snowflake.ID `json:"class_id,omitempty"`
	ClassName       string        `json:"class_name,omitempty"`
	AcademicYear    string        `json:"academic_year"`
}

type StudentFilter struct {
	GradeID      snowflake.ID
	ClassID      snowflake.ID
	AcademicYear string
	Search       string
	IDs          []snowflake.ID
}
