// Package ledgertest builds in-memory fee ledgers for package tests.
package ledgertest

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	feecatalogdomain "github.com/smallbiznis/bursar/internal/feecatalog/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	"github.com/smallbiznis/bursar/internal/migration"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	"github.com/smallbiznis/bursar/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const AcademicYear = "2025-2026"

// Fixture holds a migrated database and a snowflake node for seeding.
type Fixture struct {
	T    testing.TB
	DB   *gorm.DB
	Node *snowflake.Node
	Now  time.Time
}

func New(t testing.TB) *Fixture {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	f := &Fixture{
		T:    t,
		DB:   conn,
		Node: node,
		Now:  time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
	}
	f.Year(AcademicYear, true)
	return f
}

func (f *Fixture) create(value any) {
	f.T.Helper()
	if err := f.DB.Create(value).Error; err != nil {
		f.T.Fatalf("seed %T: %v", value, err)
	}
}

func (f *Fixture) Year(code string, current bool) rosterdomain.AcademicYear {
	year := rosterdomain.AcademicYear{
		Code:      code,
		StartsOn:  datatypes.Date(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		EndsOn:    datatypes.Date(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)),
		IsCurrent: current,
	}
	f.create(&year)
	return year
}

func (f *Fixture) Grade(name, tier string) rosterdomain.Grade {
	grade := rosterdomain.Grade{ID: f.Node.Generate(), Name: name, Tier: tier, CreatedAt: f.Now}
	f.create(&grade)
	return grade
}

func (f *Fixture) Class(gradeID snowflake.ID, name string) rosterdomain.Class {
	class := rosterdomain.Class{ID: f.Node.Generate(), GradeID: gradeID, Name: name}
	f.create(&class)
	return class
}

func (f *Fixture) Student(name, admissionNumber string, gradeID snowflake.ID, classID *snowflake.ID) rosterdomain.Student {
	student := rosterdomain.Student{
		ID:              f.Node.Generate(),
		AdmissionNumber: admissionNumber,
		Name:            name,
		GradeID:         gradeID,
		ClassID:         classID,
		AcademicYear:    AcademicYear,
		Active:          true,
		CreatedAt:       f.Now,
		UpdatedAt:       f.Now,
	}
	f.create(&student)
	return student
}

// Promote moves a student to another grade, as the roster collaborator would.
func (f *Fixture) Promote(studentID, gradeID snowflake.ID) {
	f.T.Helper()
	if err := f.DB.Model(&rosterdomain.Student{}).Where("id = ?", studentID).Update("grade_id", gradeID).Error; err != nil {
		f.T.Fatalf("promote student: %v", err)
	}
}

func (f *Fixture) Catalog(gradeID snowflake.ID, term int, tuition, supplementary int64) feecatalogdomain.FeeCatalogEntry {
	entry := feecatalogdomain.FeeCatalogEntry{
		ID:                  f.Node.Generate(),
		GradeID:             gradeID,
		Term:                term,
		AcademicYear:        AcademicYear,
		TuitionAmount:       tuition,
		SupplementaryAmount: supplementary,
		Currency:            "INR",
		CreatedAt:           f.Now,
		UpdatedAt:           f.Now,
	}
	f.create(&entry)
	return entry
}

// Obligation binds a student to a catalog entry with zeroed totals.
func (f *Fixture) Obligation(studentID snowflake.ID, entry feecatalogdomain.FeeCatalogEntry) ledgerdomain.Obligation {
	obligation := ledgerdomain.Obligation{
		ID:                f.Node.Generate(),
		StudentID:         studentID,
		FeeCatalogEntryID: entry.ID,
		GradeID:           entry.GradeID,
		AcademicYear:      entry.AcademicYear,
		Term:              entry.Term,
		CreatedAt:         f.Now,
		UpdatedAt:         f.Now,
	}
	f.create(&obligation)
	return obligation
}
