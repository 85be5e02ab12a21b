package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bursar/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const balanceColumns = `o.id, o.student_id, o.fee_catalog_entry_id, o.grade_id, o.academic_year, o.term,
	o.cumulative_paid_amount, o.cumulative_discount_amount, o.cumulative_fine_amount,
	o.cumulative_supplementary_paid_amount, o.last_receipt_number, o.last_receipt_date,
	o.last_payment_channel, o.version, o.created_at, o.updated_at,
	e.tuition_amount, e.supplementary_amount, e.currency, e.term_start_date, e.term_due_date`

func (r *repo) InsertObligation(ctx context.Context, db *gorm.DB, obligation *domain.Obligation) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "fee_catalog_entry_id"}},
			DoNothing: true,
		}).
		Create(obligation)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindBalance(ctx context.Context, db *gorm.DB, studentID snowflake.ID, academicYear string, term int) (*domain.ObligationBalance, error) {
	var balance domain.ObligationBalance
	err := db.WithContext(ctx).Raw(
		`SELECT `+balanceColumns+`
		 FROM fee_obligations o
		 JOIN fee_catalog_entries e ON e.id = o.fee_catalog_entry_id
		 JOIN students s ON s.id = o.student_id AND s.grade_id = o.grade_id
		 WHERE o.student_id = ? AND o.academic_year = ? AND o.term = ?`,
		studentID,
		academicYear,
		term,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.ID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) FindBalanceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ObligationBalance, error) {
	var balance domain.ObligationBalance
	err := db.WithContext(ctx).Raw(
		`SELECT `+balanceColumns+`
		 FROM fee_obligations o
		 JOIN fee_catalog_entries e ON e.id = o.fee_catalog_entry_id
		 WHERE o.id = ?`,
		id,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.ID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) LockObligation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Obligation, error) {
	var obligation domain.Obligation
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&obligation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrObligationNotFound
		}
		return nil, err
	}
	return &obligation, nil
}

func (r *repo) ListCurrentBalances(ctx context.Context, db *gorm.DB, studentIDs []snowflake.ID) ([]*domain.ObligationBalance, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	var balances []*domain.ObligationBalance
	err := db.WithContext(ctx).Raw(
		`SELECT `+balanceColumns+`
		 FROM fee_obligations o
		 JOIN fee_catalog_entries e ON e.id = o.fee_catalog_entry_id
		 JOIN students s ON s.id = o.student_id
		  AND s.grade_id = o.grade_id
		  AND s.academic_year = o.academic_year
		 WHERE o.student_id IN ?
		 ORDER BY o.student_id ASC, o.term ASC`,
		studentIDs,
	).Scan(&balances).Error
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *repo) UpdateTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, totals domain.Totals, receipt domain.ReceiptUpdate, now time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE fee_obligations SET
			cumulative_paid_amount = ?,
			cumulative_discount_amount = ?,
			cumulative_fine_amount = ?,
			cumulative_supplementary_paid_amount = ?,
			last_receipt_number = ?,
			last_receipt_date = ?,
			last_payment_channel = ?,
			version = version + 1,
			updated_at = ?
		 WHERE id = ? AND version = ?`,
		totals.Paid,
		totals.Discount,
		totals.Fine,
		totals.SupplementaryPaid,
		receipt.Number,
		receipt.Date,
		string(receipt.Channel),
		now,
		id,
		expectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, record *domain.TransactionRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) FindTransactionByReceipt(ctx context.Context, db *gorm.DB, studentID snowflake.ID, academicYear string, term int, receiptNumber string) (*domain.TransactionRecord, error) {
	var record domain.TransactionRecord
	err := db.WithContext(ctx).
		Where("student_id = ? AND academic_year = ? AND term = ? AND receipt_number = ?", studentID, academicYear, term, receiptNumber).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, filter domain.TransactionFilter) ([]*domain.TransactionRecord, error) {
	var records []*domain.TransactionRecord
	stmt := db.WithContext(ctx).
		Table("fee_transactions AS t").
		Select("t.*")

	if filter.GradeID != 0 || filter.ClassID != 0 {
		stmt = stmt.Joins("JOIN students s ON s.id = t.student_id")
		if filter.GradeID != 0 {
			stmt = stmt.Where("s.grade_id = ?", filter.GradeID)
		}
		if filter.ClassID != 0 {
			stmt = stmt.Where("s.class_id = ?", filter.ClassID)
		}
	}
	if filter.StudentID != 0 {
		stmt = stmt.Where("t.student_id = ?", filter.StudentID)
	}
	if filter.ObligationID != 0 {
		stmt = stmt.Where("t.obligation_id = ?", filter.ObligationID)
	}
	if filter.AcademicYear != "" {
		stmt = stmt.Where("t.academic_year = ?", filter.AcademicYear)
	}
	if filter.Term > 0 {
		stmt = stmt.Where("t.term = ?", filter.Term)
	}
	if len(filter.Channels) > 0 {
		channels := make([]string, 0, len(filter.Channels))
		for _, channel := range filter.Channels {
			channels = append(channels, string(channel))
		}
		stmt = stmt.Where("t.payment_channel IN ?", channels)
	}
	if filter.ExcludeChannel != "" {
		stmt = stmt.Where("t.payment_channel <> ?", string(filter.ExcludeChannel))
	}
	if filter.From != nil {
		stmt = stmt.Where("t.receipt_date >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("t.receipt_date <= ?", filter.To.UTC())
	}

	if filter.Ascending {
		if filter.Cursor != nil {
			stmt = stmt.Where("t.id > ?", filter.Cursor.ID)
		}
		stmt = stmt.Order("t.id asc")
	} else {
		if filter.Cursor != nil {
			stmt = stmt.Where("t.id < ?", filter.Cursor.ID)
		}
		stmt = stmt.Order("t.id desc")
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Scan(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) LockByCatalogEntry(ctx context.Context, db *gorm.DB, entryID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Obligation{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("fee_catalog_entry_id = ?", entryID).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repo) ListObligationIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Obligation{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) CountUnderfundedByEntry(ctx context.Context, db *gorm.DB, entryID snowflake.ID, newTotal int64) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM fee_obligations
		 WHERE fee_catalog_entry_id = ?
		   AND cumulative_paid_amount + cumulative_discount_amount + cumulative_supplementary_paid_amount
		       - cumulative_fine_amount > ?`,
		entryID,
		newTotal,
	).Scan(&count).Error
	return count, err
}
