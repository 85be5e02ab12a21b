package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ReceiptUpdate overwrites the last-receipt metadata of an obligation.
type ReceiptUpdate struct {
	Number  string
	Date    time.Time
	Channel PaymentChannel
}

type Repository interface {
	// InsertObligation is a no-op returning false when (student, catalog entry) already exists.
	InsertObligation(ctx context.Context, db *gorm.DB, obligation *Obligation) (bool, error)
	FindBalance(ctx context.Context, db *gorm.DB, studentID snowflake.ID, academicYear string, term int) (*ObligationBalance, error)
	FindBalanceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ObligationBalance, error)
	// LockObligation reads the row under SELECT ... FOR UPDATE where the dialect supports it.
	LockObligation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Obligation, error)
	// ListCurrentBalances returns obligations matching each student's current grade and academic year.
	ListCurrentBalances(ctx context.Context, db *gorm.DB, studentIDs []snowflake.ID) ([]*ObligationBalance, error)
	// UpdateTotals writes new totals guarded by expectedVersion and bumps the version.
	UpdateTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, totals Totals, receipt ReceiptUpdate, now time.Time) error
	InsertTransaction(ctx context.Context, db *gorm.DB, record *TransactionRecord) error
	// FindTransactionByReceipt looks up a receipt within its student and term scope.
	FindTransactionByReceipt(ctx context.Context, db *gorm.DB, studentID snowflake.ID, academicYear string, term int, receiptNumber string) (*TransactionRecord, error)
	ListTransactions(ctx context.Context, db *gorm.DB, filter TransactionFilter) ([]*TransactionRecord, error)
	// LockByCatalogEntry row-locks every obligation bound to a catalog entry.
	LockByCatalogEntry(ctx context.Context, db *gorm.DB, entryID snowflake.ID) ([]snowflake.ID, error)
	// ListObligationIDs pages obligation ids in ascending order after afterID.
	ListObligationIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	// CountUnderfundedByEntry counts obligations whose settled amount would exceed newTotal.
	CountUnderfundedByEntry(ctx context.Context, db *gorm.DB, entryID snowflake.ID, newTotal int64) (int64, error)
}

var (
	ErrObligationNotFound = errors.New("obligation_not_found")
	ErrVersionConflict    = errors.New("version_conflict")
)
