package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentChannel string

const (
	ChannelCash         PaymentChannel = "cash"
	ChannelUPI          PaymentChannel = "upi"
	ChannelCard         PaymentChannel = "card"
	ChannelBankTransfer PaymentChannel = "bank_transfer"
	ChannelCheque       PaymentChannel = "cheque"

	// ChannelCancelled marks the reversal record written by a cancellation.
	ChannelCancelled PaymentChannel = "cancelled"
)

// CollectionChannels lists the channels a payment may arrive through.
var CollectionChannels = []PaymentChannel{
	ChannelCash,
	ChannelUPI,
	ChannelCard,
	ChannelBankTransfer,
	ChannelCheque,
}

// IsCollection reports whether c is a channel a payment can be collected on.
func (c PaymentChannel) IsCollection() bool {
	for _, allowed := range CollectionChannels {
		if c == allowed {
			return true
		}
	}
	return false
}

type ObligationState string

const (
	StateUnpaid        ObligationState = "UNPAID"
	StatePartiallyPaid ObligationState = "PARTIALLY_PAID"
	StateFullyPaid     ObligationState = "FULLY_PAID"
	StateCancelled     ObligationState = "CANCELLED"
)

// Obligation is one student's ledger row for one catalog term.
type Obligation struct {
	ID                                snowflake.ID    `gorm:"primaryKey" json:"id"`
	StudentID                         snowflake.ID    `gorm:"not null;uniqueIndex:ux_fee_obligations_student_entry,priority:1;index:idx_fee_obligations_student_year,priority:1" json:"student_id"`
	FeeCatalogEntryID                 snowflake.ID    `gorm:"not null;uniqueIndex:ux_fee_obligations_student_entry,priority:2;index" json:"fee_catalog_entry_id"`
	GradeID                           snowflake.ID    `gorm:"not null" json:"grade_id"`
	AcademicYear                      string          `gorm:"not null;index:idx_fee_obligations_student_year,priority:2" json:"academic_year"`
	Term                              int             `gorm:"not null" json:"term"`
	CumulativePaidAmount              int64           `gorm:"not null;default:0" json:"cumulative_paid_amount"`
	CumulativeDiscountAmount          int64           `gorm:"not null;default:0" json:"cumulative_discount_amount"`
	CumulativeFineAmount              int64           `gorm:"not null;default:0" json:"cumulative_fine_amount"`
	CumulativeSupplementaryPaidAmount int64           `gorm:"not null;default:0" json:"cumulative_supplementary_paid_amount"`
	LastReceiptNumber                 *string         `json:"last_receipt_number,omitempty"`
	LastReceiptDate                   *time.Time      `json:"last_receipt_date,omitempty"`
	LastPaymentChannel                *PaymentChannel `gorm:"type:text" json:"last_payment_channel,omitempty"`
	Version                           int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt                         time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt                         time.Time       `gorm:"not null" json:"updated_at"`
}

func (Obligation) TableName() string { return "fee_obligations" }

// Totals returns the cumulative fields as a Totals value.
func (o Obligation) Totals() Totals {
	return Totals{
		Paid:              o.CumulativePaidAmount,
		Discount:          o.CumulativeDiscountAmount,
		Fine:              o.CumulativeFineAmount,
		SupplementaryPaid: o.CumulativeSupplementaryPaidAmount,
	}
}

// TransactionRecord is immutable once written. Amounts are the delta applied
// by one collection, or the negated totals for a cancellation.
type TransactionRecord struct {
	ID                  snowflake.ID   `gorm:"primaryKey" json:"id"`
	StudentID           snowflake.ID   `gorm:"not null;uniqueIndex:ux_fee_transactions_receipt,priority:1;index" json:"student_id"`
	ObligationID        snowflake.ID   `gorm:"not null;index" json:"obligation_id"`
	AcademicYear        string         `gorm:"not null;uniqueIndex:ux_fee_transactions_receipt,priority:2" json:"academic_year"`
	Term                int            `gorm:"not null;uniqueIndex:ux_fee_transactions_receipt,priority:3" json:"term"`
	Amount              int64          `gorm:"not null" json:"amount"`
	DiscountAmount      int64          `gorm:"not null" json:"discount_amount"`
	FineAmount          int64          `gorm:"not null" json:"fine_amount"`
	SupplementaryAmount int64          `gorm:"not null" json:"supplementary_amount"`
	ReceiptNumber       string         `gorm:"not null;uniqueIndex:ux_fee_transactions_receipt,priority:4" json:"receipt_number"`
	ReceiptDate         time.Time      `gorm:"not null;index" json:"receipt_date"`
	PaymentChannel      PaymentChannel `gorm:"type:text;not null;index" json:"payment_channel"`
	Remarks             string         `gorm:"not null;default:''" json:"remarks"`
	ActorID             *string        `json:"actor_id,omitempty"`
	CreatedAt           time.Time      `gorm:"not null" json:"created_at"`
}

func (TransactionRecord) TableName() string { return "fee_transactions" }

// Delta returns the signed amounts this record applied.
func (r TransactionRecord) Delta() Totals {
	return Totals{
		Paid:              r.Amount,
		Discount:          r.DiscountAmount,
		Fine:              r.FineAmount,
		SupplementaryPaid: r.SupplementaryAmount,
	}
}

// ObligationBalance is an obligation joined with the catalog amounts it owes.
type ObligationBalance struct {
	Obligation
	TuitionAmount       int64      `json:"tuition_amount"`
	SupplementaryAmount int64      `json:"supplementary_amount"`
	Currency            string     `json:"currency"`
	TermStartDate       *time.Time `json:"term_start_date,omitempty"`
	TermDueDate         *time.Time `json:"term_due_date,omitempty"`
}

// TotalFee is the catalog charge for the term, excluding fines.
func (b ObligationBalance) TotalFee() int64 {
	return b.TuitionAmount + b.SupplementaryAmount
}

func (b ObligationBalance) Settled() int64 {
	return b.Totals().Settled()
}

// Due is what remains to be collected, fines included.
func (b ObligationBalance) Due() int64 {
	return b.TotalFee() + b.CumulativeFineAmount - b.Settled()
}

func (b ObligationBalance) State() ObligationState {
	if b.Settled() == 0 {
		if b.LastPaymentChannel != nil && *b.LastPaymentChannel == ChannelCancelled {
			return StateCancelled
		}
		return StateUnpaid
	}
	if b.Due() <= 0 {
		return StateFullyPaid
	}
	return StatePartiallyPaid
}

type TransactionCursor struct {
	ID snowflake.ID
}

type TransactionFilter struct {
	StudentID      snowflake.ID
	ObligationID   snowflake.ID
	AcademicYear   string
	Term           int
	GradeID        snowflake.ID
	ClassID        snowflake.ID
	Channels       []PaymentChannel
	ExcludeChannel PaymentChannel
	From           *time.Time
	To             *time.Time
	Cursor         *TransactionCursor
	Limit          int
	Ascending      bool
}
