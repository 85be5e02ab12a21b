package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	feesummarydomain "github.com/smallbiznis/bursar/internal/feesummary/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	"github.com/smallbiznis/bursar/internal/reporting/domain"
	"github.com/smallbiznis/bursar/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Summary    feesummarydomain.Service
	LedgerRepo ledgerdomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	summary    feesummarydomain.Service
	ledgerRepo ledgerdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reporting.service"),
		summary:    p.Summary,
		ledgerRepo: p.LedgerRepo,
	}
}

// Balances filters, sorts and pages student snapshots.
func (s *Service) Balances(ctx context.Context, req domain.BalancesRequest) (domain.BalancesResponse, error) {
	less, err := sortFunc(req.Sort)
	if err != nil {
		return domain.BalancesResponse{}, err
	}
	match, err := statusMatcher(req.Status)
	if err != nil {
		return domain.BalancesResponse{}, err
	}

	snapshots, err := s.summary.SummarizeAll(ctx, feesummarydomain.Filter{
		GradeID:      req.GradeID,
		ClassID:      req.ClassID,
		AcademicYear: strings.TrimSpace(req.AcademicYear),
		Search:       req.Search,
	})
	if err != nil {
		return domain.BalancesResponse{}, err
	}

	filtered := snapshots[:0]
	for _, snap := range snapshots {
		if match(snap) {
			filtered = append(filtered, snap)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if req.Descending {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return filtered[i].StudentID < filtered[j].StudentID
	})

	page := req.Page.Normalize()
	start := page.Offset()
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + page.PageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	students := make([]*feesummarydomain.Snapshot, 0, end-start)
	students = append(students, filtered[start:end]...)

	return domain.BalancesResponse{
		Students: students,
		Page:     page.Result(int64(len(filtered))),
	}, nil
}

func (s *Service) Collections(ctx context.Context, req domain.TransactionsRequest) (domain.TransactionsResponse, error) {
	filter, err := transactionFilter(req)
	if err != nil {
		return domain.TransactionsResponse{}, err
	}
	if req.Channel != "" {
		channel := ledgerdomain.PaymentChannel(strings.ToLower(strings.TrimSpace(string(req.Channel))))
		if !channel.IsCollection() {
			return domain.TransactionsResponse{}, domain.ErrInvalidChannel
		}
		filter.Channels = []ledgerdomain.PaymentChannel{channel}
	} else {
		filter.ExcludeChannel = ledgerdomain.ChannelCancelled
	}
	return s.listTransactions(ctx, filter)
}

func (s *Service) Cancellations(ctx context.Context, req domain.TransactionsRequest) (domain.TransactionsResponse, error) {
	filter, err := transactionFilter(req)
	if err != nil {
		return domain.TransactionsResponse{}, err
	}
	filter.Channels = []ledgerdomain.PaymentChannel{ledgerdomain.ChannelCancelled}
	return s.listTransactions(ctx, filter)
}

// DailyCollection sums collection receipts per day and channel. Both ends of
// the range are whole days.
func (s *Service) DailyCollection(ctx context.Context, req domain.DailyCollectionRequest) (domain.DailyCollectionResponse, error) {
	if req.From.IsZero() || req.To.IsZero() {
		return domain.DailyCollectionResponse{}, domain.ErrInvalidDateRange
	}
	from := startOfDay(req.From)
	to := startOfDay(req.To)
	if to.Before(from) || to.Sub(from) > domain.MaxReportDays*24*time.Hour {
		return domain.DailyCollectionResponse{}, domain.ErrInvalidDateRange
	}
	end := to.Add(24*time.Hour - time.Nanosecond)

	records, err := s.ledgerRepo.ListTransactions(ctx, s.db, ledgerdomain.TransactionFilter{
		GradeID:   req.GradeID,
		Channels:  ledgerdomain.CollectionChannels,
		From:      &from,
		To:        &end,
		Ascending: true,
	})
	if err != nil {
		return domain.DailyCollectionResponse{}, err
	}

	type key struct {
		date    string
		channel ledgerdomain.PaymentChannel
	}
	buckets := make(map[key]*domain.DailyCollection)
	var totals ledgerdomain.Totals
	for _, record := range records {
		k := key{date: record.ReceiptDate.UTC().Format(dateLayout), channel: record.PaymentChannel}
		bucket, ok := buckets[k]
		if !ok {
			bucket = &domain.DailyCollection{Date: k.date, Channel: k.channel}
			buckets[k] = bucket
		}
		bucket.Count++
		bucket.Amount += record.Amount
		bucket.DiscountAmount += record.DiscountAmount
		bucket.FineAmount += record.FineAmount
		bucket.SupplementaryAmount += record.SupplementaryAmount
		totals = totals.Add(record.Delta())
	}

	days := make([]domain.DailyCollection, 0, len(buckets))
	for _, bucket := range buckets {
		days = append(days, *bucket)
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].Date != days[j].Date {
			return days[i].Date < days[j].Date
		}
		return days[i].Channel < days[j].Channel
	})
	return domain.DailyCollectionResponse{Days: days, Totals: totals}, nil
}

// StudentStatement is the student's snapshot with every transaction of the
// current academic year, oldest first.
func (s *Service) StudentStatement(ctx context.Context, studentID snowflake.ID) (*domain.Statement, error) {
	snap, err := s.summary.Summarize(ctx, studentID)
	if err != nil {
		return nil, err
	}
	records, err := s.ledgerRepo.ListTransactions(ctx, s.db, ledgerdomain.TransactionFilter{
		StudentID:    snap.StudentID,
		AcademicYear: snap.AcademicYear,
		Ascending:    true,
	})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*ledgerdomain.TransactionRecord{}
	}
	return &domain.Statement{Summary: snap, Transactions: records}, nil
}

func (s *Service) listTransactions(ctx context.Context, filter ledgerdomain.TransactionFilter) (domain.TransactionsResponse, error) {
	records, err := s.ledgerRepo.ListTransactions(ctx, s.db, filter)
	if err != nil {
		return domain.TransactionsResponse{}, err
	}
	page, info := pagination.BuildCursorPageInfo(records, filter.Limit, func(record *ledgerdomain.TransactionRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: record.ID.String()})
		if err != nil {
			s.log.Warn("failed to encode page token", zap.Error(err))
			return ""
		}
		return token
	})
	if page == nil {
		page = []*ledgerdomain.TransactionRecord{}
	}
	return domain.TransactionsResponse{Transactions: page, PageInfo: info}, nil
}

func transactionFilter(req domain.TransactionsRequest) (ledgerdomain.TransactionFilter, error) {
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return ledgerdomain.TransactionFilter{}, domain.ErrInvalidDateRange
	}
	filter := ledgerdomain.TransactionFilter{
		GradeID: req.GradeID,
		ClassID: req.ClassID,
		From:    req.From,
		To:      req.To,
		Limit:   pagination.NormalizeSize(req.PageSize),
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return ledgerdomain.TransactionFilter{}, err
	}
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return ledgerdomain.TransactionFilter{}, pagination.ErrInvalidPageToken
		}
		filter.Cursor = &ledgerdomain.TransactionCursor{ID: id}
	}
	return filter, nil
}

type lessFunc func(a, b *feesummarydomain.Snapshot) bool

func sortFunc(field string) (lessFunc, error) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "", domain.SortName:
		return func(a, b *feesummarydomain.Snapshot) bool {
			return strings.ToLower(a.StudentName) < strings.ToLower(b.StudentName)
		}, nil
	case domain.SortAdmissionNumber:
		return func(a, b *feesummarydomain.Snapshot) bool {
			return a.AdmissionNumber < b.AdmissionNumber
		}, nil
	case domain.SortDueAmount:
		return func(a, b *feesummarydomain.Snapshot) bool {
			return a.DueAmount < b.DueAmount
		}, nil
	case domain.SortPaidAmount:
		return func(a, b *feesummarydomain.Snapshot) bool {
			return a.TotalPaidAmount < b.TotalPaidAmount
		}, nil
	default:
		return nil, domain.ErrInvalidSort
	}
}

// statusMatcher accepts a bucket name or an exact status label such as "2 Terms Paid".
func statusMatcher(status string) (func(*feesummarydomain.Snapshot) bool, error) {
	status = strings.TrimSpace(status)
	switch strings.ToLower(status) {
	case "":
		return func(*feesummarydomain.Snapshot) bool { return true }, nil
	case domain.StatusFilterFullyPaid, strings.ToLower(feesummarydomain.StatusFullyPaid):
		return func(s *feesummarydomain.Snapshot) bool { return s.Status == feesummarydomain.StatusFullyPaid }, nil
	case domain.StatusFilterNotPaid, strings.ToLower(feesummarydomain.StatusNotPaid):
		return func(s *feesummarydomain.Snapshot) bool { return s.Status == feesummarydomain.StatusNotPaid }, nil
	case domain.StatusFilterPartial:
		return func(s *feesummarydomain.Snapshot) bool {
			return s.Status != feesummarydomain.StatusFullyPaid && s.Status != feesummarydomain.StatusNotPaid
		}, nil
	}
	if !strings.HasSuffix(strings.ToLower(status), "paid") {
		return nil, domain.ErrInvalidStatus
	}
	return func(s *feesummarydomain.Snapshot) bool { return strings.EqualFold(s.Status, status) }, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
