package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	feesummarydomain "github.com/smallbiznis/bursar/internal/feesummary/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	"github.com/smallbiznis/bursar/pkg/db/pagination"
)

const (
	SortName            = "name"
	SortAdmissionNumber = "admission_number"
	SortDueAmount       = "due_amount"
	SortPaidAmount      = "paid_amount"
)

const (
	StatusFilterFullyPaid = "fully_paid"
	StatusFilterNotPaid   = "not_paid"
	StatusFilterPartial   = "partially_paid"
)

// MaxReportDays bounds the date range of aggregate reports.
const MaxReportDays = 366

type BalancesRequest struct {
	GradeID      snowflake.ID
	ClassID      snowflake.ID
	AcademicYear string
	Search       string
	Status       string
	Sort         string
	Descending   bool
	pagination.Page
}

type BalancesResponse struct {
	Students []*feesummarydomain.Snapshot `json:"students"`
	Page     pagination.PageResult        `json:"page"`
}

type TransactionsRequest struct {
	From    *time.Time
	To      *time.Time
	GradeID snowflake.ID
	ClassID snowflake.ID
	Channel ledgerdomain.PaymentChannel
	pagination.Pagination
}

type TransactionsResponse struct {
	Transactions []*ledgerdomain.TransactionRecord `json:"transactions"`
	PageInfo     *pagination.PageInfo              `json:"page_info"`
}

// DailyCollection sums one day's receipts on one channel.
type DailyCollection struct {
	Date                string                      `json:"date"`
	Channel             ledgerdomain.PaymentChannel `json:"payment_channel"`
	Count               int                         `json:"count"`
	Amount              int64                       `json:"amount"`
	DiscountAmount      int64                       `json:"discount_amount"`
	FineAmount          int64                       `json:"fine_amount"`
	SupplementaryAmount int64                       `json:"supplementary_amount"`
}

type DailyCollectionRequest struct {
	From    time.Time
	To      time.Time
	GradeID snowflake.ID
}

type DailyCollectionResponse struct {
	Days   []DailyCollection   `json:"days"`
	Totals ledgerdomain.Totals `json:"totals"`
}

type Statement struct {
	Summary      *feesummarydomain.Snapshot        `json:"summary"`
	Transactions []*ledgerdomain.TransactionRecord `json:"transactions"`
}

type Service interface {
	Balances(ctx context.Context, req BalancesRequest) (BalancesResponse, error)
	Collections(ctx context.Context, req TransactionsRequest) (TransactionsResponse, error)
	Cancellations(ctx context.Context, req TransactionsRequest) (TransactionsResponse, error)
	DailyCollection(ctx context.Context, req DailyCollectionRequest) (DailyCollectionResponse, error)
	StudentStatement(ctx context.Context, studentID snowflake.ID) (*Statement, error)
}

var (
	ErrInvalidSort      = errors.New("invalid_sort")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidDateRange = errors.New("invalid_date_range")
	ErrInvalidChannel   = errors.New("invalid_payment_channel")
)
