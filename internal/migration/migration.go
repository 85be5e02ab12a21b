package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/bursar/internal/audit/domain"
	feecatalogdomain "github.com/smallbiznis/bursar/internal/feecatalog/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// Models lists every table the service reads or writes.
func Models() []any {
	return []any{
		&rosterdomain.Grade{},
		&rosterdomain.Class{},
		&rosterdomain.AcademicYear{},
		&rosterdomain.Student{},
		&feecatalogdomain.FeeCatalogEntry{},
		&ledgerdomain.Obligation{},
		&ledgerdomain.TransactionRecord{},
		&auditdomain.AuditLog{},
	}
}

// AutoMigrate creates the schema from the models for sqlite and mysql setups.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
