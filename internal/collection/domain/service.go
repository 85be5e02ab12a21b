package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	"github.com/smallbiznis/bursar/pkg/db/pagination"
)

// CollectRequest is one payment instruction against a student's term.
type CollectRequest struct {
	StudentID           snowflake.ID
	Term                int
	Amount              int64
	DiscountAmount      int64
	FineAmount          int64
	SupplementaryAmount int64
	ReceiptNumber       string
	ReceiptDate         *time.Time
	PaymentChannel      ledgerdomain.PaymentChannel
	Remarks             string
}

type CancelRequest struct {
	StudentID snowflake.ID
	Term      int
	Remarks   string
}

// Result is the obligation as it stands after a write, with the record that produced it.
type Result struct {
	Obligation  *ledgerdomain.ObligationBalance `json:"obligation"`
	State       ledgerdomain.ObligationState    `json:"state"`
	DueAmount   int64                           `json:"due_amount"`
	Transaction *ledgerdomain.TransactionRecord `json:"transaction"`
}

type HistoryRequest struct {
	StudentID    snowflake.ID
	AcademicYear string
	Term         int
	pagination.Pagination
}

type HistoryResponse struct {
	Transactions []*ledgerdomain.TransactionRecord `json:"transactions"`
	PageInfo     *pagination.PageInfo              `json:"page_info"`
}

type Service interface {
	Collect(ctx context.Context, req CollectRequest) (*Result, error)
	Cancel(ctx context.Context, req CancelRequest) (*Result, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
	Reconcile(ctx context.Context, obligationID snowflake.ID) (ledgerdomain.Reconciliation, error)
}

const MaxRemarksLength = 500

var (
	ErrInvalidStudent       = errors.New("invalid_student")
	ErrInvalidTerm          = errors.New("invalid_term")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidPayment       = errors.New("invalid_payment_empty")
	ErrUnsettledFine        = errors.New("invalid_fine_unsettled")
	ErrInvalidReceiptNumber = errors.New("invalid_receipt_number")
	ErrInvalidReceiptDate   = errors.New("invalid_receipt_date")
	ErrInvalidChannel       = errors.New("invalid_payment_channel")
	ErrInvalidRemarks       = errors.New("invalid_remarks")
	ErrUnknownTerm          = errors.New("unknown_term")
	ErrOverpayment          = errors.New("overpayment")
	ErrNothingToCancel      = errors.New("nothing_to_cancel")
	ErrDuplicateReceipt     = errors.New("duplicate_receipt")
	ErrConflict             = errors.New("conflict")
)
