package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
)

const (
	StatusFullyPaid = "Fully Paid"
	StatusNotPaid   = "Not Paid"
)

// TermBalance is one obligation as shown in a student's snapshot.
type TermBalance struct {
	ObligationID        snowflake.ID                 `json:"obligation_id"`
	Term                int                          `json:"term"`
	TuitionAmount       int64                        `json:"tuition_amount"`
	SupplementaryAmount int64                        `json:"supplementary_amount"`
	TotalFeeAmount      int64                        `json:"total_fee_amount"`
	PaidAmount          int64                        `json:"paid_amount"`
	DiscountAmount      int64                        `json:"discount_amount"`
	FineAmount          int64                        `json:"fine_amount"`
	SupplementaryPaid   int64                        `json:"supplementary_paid_amount"`
	DueAmount           int64                        `json:"due_amount"`
	State               ledgerdomain.ObligationState `json:"state"`
	TermDueDate         *time.Time                   `json:"term_due_date,omitempty"`
	LastReceiptNumber   *string                      `json:"last_receipt_number,omitempty"`
	LastReceiptDate     *time.Time                   `json:"last_receipt_date,omitempty"`
	LastPaymentChannel  *ledgerdomain.PaymentChannel `json:"last_payment_channel,omitempty"`
}

// Snapshot is a student's derived balance for the current grade and year. It is never stored.
type Snapshot struct {
	StudentID                    snowflake.ID  `json:"student_id"`
	AdmissionNumber              string        `json:"admission_number"`
	StudentName                  string        `json:"student_name"`
	GradeID                      snowflake.ID  `json:"grade_id"`
	GradeName                    string        `json:"grade_name"`
	ClassID                      *snowflake.ID `json:"class_id,omitempty"`
	ClassName                    string        `json:"class_name,omitempty"`
	AcademicYear                 string        `json:"academic_year"`
	Currency                     string        `json:"currency,omitempty"`
	TotalFeeAmount               int64         `json:"total_fee_amount"`
	TotalPaidAmount              int64         `json:"total_paid_amount"`
	TotalDiscountAmount          int64         `json:"total_discount_amount"`
	TotalFineAmount              int64         `json:"total_fine_amount"`
	TotalSupplementaryAmount     int64         `json:"total_supplementary_amount"`
	TotalSupplementaryPaidAmount int64         `json:"total_supplementary_paid_amount"`
	DueAmount                    int64         `json:"due_amount"`
	TermsPaid                    int           `json:"terms_paid"`
	TermCount                    int           `json:"term_count"`
	Status                       string        `json:"status"`
	StatusRank                   int           `json:"status_rank"`
	Terms                        []TermBalance `json:"terms"`
}

// Settled is payments, discounts and supplementary payments together.
func (s Snapshot) Settled() int64 {
	return s.TotalPaidAmount + s.TotalDiscountAmount + s.TotalSupplementaryPaidAmount
}

type Filter struct {
	GradeID      snowflake.ID
	ClassID      snowflake.ID
	AcademicYear string
	Search       string
}
