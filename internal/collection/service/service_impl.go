package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/bursar/internal/audit/domain"
	"github.com/smallbiznis/bursar/internal/clock"
	"github.com/smallbiznis/bursar/internal/collection/domain"
	"github.com/smallbiznis/bursar/internal/config"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	"github.com/smallbiznis/bursar/internal/lock"
	obscontext "github.com/smallbiznis/bursar/internal/observability/context"
	"github.com/smallbiznis/bursar/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/bursar/internal/observability/metrics"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	"github.com/smallbiznis/bursar/pkg/db"
	"github.com/smallbiznis/bursar/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMaxRetries = 3
	retryBackoff      = 20 * time.Millisecond

	cancellationReceiptPrefix = "CXL-"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Locker        lock.Locker
	LedgerRepo    ledgerdomain.Repository
	RosterRepo    rosterdomain.Repository
	AuditSvc      auditdomain.Service       `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
	LedgerMetrics *obsmetrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	maxRetries    int
	locker        lock.Locker
	ledgerRepo    ledgerdomain.Repository
	rosterRepo    rosterdomain.Repository
	auditSvc      auditdomain.Service
	obsMetrics    *obsmetrics.Metrics
	ledgerMetrics *obsmetrics.LedgerMetrics
}

func New(p Params) domain.Service {
	maxRetries := p.Cfg.Ledger.CollectionMaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("collection.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		maxRetries:    maxRetries,
		locker:        p.Locker,
		ledgerRepo:    p.LedgerRepo,
		rosterRepo:    p.RosterRepo,
		auditSvc:      p.AuditSvc,
		obsMetrics:    p.ObsMetrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

// Collect applies one payment instruction to the student's obligation for the term.
func (s *Service) Collect(ctx context.Context, req domain.CollectRequest) (*domain.Result, error) {
	start := time.Now()
	result, err := s.collect(ctx, req)
	s.observe(obsmetrics.OperationCollect, start, err)
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordCollection(ctx, string(result.Transaction.PaymentChannel), result.Transaction.Amount)
	logger.WithStudent(logger.WithContext(ctx, s.log), int64(req.StudentID), result.Obligation.AcademicYear).Info("fee collected",
		zap.Int("term", result.Obligation.Term),
		zap.String("obligation_id", result.Obligation.ID.String()),
		zap.String("transaction_id", result.Transaction.ID.String()),
		zap.String("payment_channel", string(result.Transaction.PaymentChannel)),
		zap.Int64("amount", result.Transaction.Amount),
		zap.Int64("due_amount", result.DueAmount),
	)
	return result, nil
}

func (s *Service) collect(ctx context.Context, req domain.CollectRequest) (*domain.Result, error) {
	input, err := s.normalizeCollect(req)
	if err != nil {
		return nil, err
	}
	balance, err := s.resolveObligation(ctx, input.StudentID, input.Term)
	if err != nil {
		return nil, err
	}
	ctx = ledgerScope(ctx, balance)

	delta := ledgerdomain.Totals{
		Paid:              input.Amount,
		Discount:          input.DiscountAmount,
		Fine:              input.FineAmount,
		SupplementaryPaid: input.SupplementaryAmount,
	}

	return s.write(ctx, obsmetrics.OperationCollect, balance.ID, func(tx *gorm.DB) (*domain.Result, error) {
		current, err := s.lockBalance(ctx, tx, balance.ID)
		if err != nil {
			return nil, err
		}

		existing, err := s.ledgerRepo.FindTransactionByReceipt(ctx, tx, current.StudentID, current.AcademicYear, current.Term, input.ReceiptNumber)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, domain.ErrDuplicateReceipt
		}
		if err := checkPayment(*current, delta); err != nil {
			return nil, err
		}

		now := s.clock.Now()
		receipt := ledgerdomain.ReceiptUpdate{
			Number:  input.ReceiptNumber,
			Date:    *input.ReceiptDate,
			Channel: input.PaymentChannel,
		}
		if err := s.ledgerRepo.UpdateTotals(ctx, tx, current.ID, current.Version, current.Totals().Add(delta), receipt, now); err != nil {
			return nil, err
		}

		record := &ledgerdomain.TransactionRecord{
			ID:                  s.genID.Generate(),
			StudentID:           current.StudentID,
			ObligationID:        current.ID,
			AcademicYear:        current.AcademicYear,
			Term:                current.Term,
			Amount:              delta.Paid,
			DiscountAmount:      delta.Discount,
			FineAmount:          delta.Fine,
			SupplementaryAmount: delta.SupplementaryPaid,
			ReceiptNumber:       receipt.Number,
			ReceiptDate:         receipt.Date,
			PaymentChannel:      receipt.Channel,
			Remarks:             input.Remarks,
			ActorID:             actorID(ctx),
			CreatedAt:           now,
		}
		if err := s.insertRecord(ctx, tx, record); err != nil {
			return nil, err
		}
		if err := s.audit(ctx, tx, auditdomain.ActionFeeCollected, record); err != nil {
			return nil, err
		}
		return s.result(ctx, tx, current.ID, record)
	})
}

// Cancel reverses everything settled or fined on the obligation with one
// negating record and resets its cumulative totals to zero.
func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (*domain.Result, error) {
	start := time.Now()
	result, err := s.cancel(ctx, req)
	s.observe(obsmetrics.OperationCancel, start, err)
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordCancellation(ctx)
	logger.WithStudent(logger.WithContext(ctx, s.log), int64(req.StudentID), result.Obligation.AcademicYear).Info("fee cancelled",
		zap.Int("term", result.Obligation.Term),
		zap.String("obligation_id", result.Obligation.ID.String()),
		zap.String("transaction_id", result.Transaction.ID.String()),
		zap.Int64("reversed_amount", -result.Transaction.Amount),
	)
	return result, nil
}

func (s *Service) cancel(ctx context.Context, req domain.CancelRequest) (*domain.Result, error) {
	if req.StudentID == 0 {
		return nil, domain.ErrInvalidStudent
	}
	if req.Term < 1 {
		return nil, domain.ErrInvalidTerm
	}
	remarks := strings.TrimSpace(req.Remarks)
	if len(remarks) > domain.MaxRemarksLength {
		return nil, domain.ErrInvalidRemarks
	}

	balance, err := s.resolveObligation(ctx, req.StudentID, req.Term)
	if err != nil {
		return nil, err
	}
	ctx = ledgerScope(ctx, balance)

	return s.write(ctx, obsmetrics.OperationCancel, balance.ID, func(tx *gorm.DB) (*domain.Result, error) {
		current, err := s.lockBalance(ctx, tx, balance.ID)
		if err != nil {
			return nil, err
		}
		totals := current.Totals()
		if totals.IsZero() {
			return nil, domain.ErrNothingToCancel
		}

		now := s.clock.Now()
		delta := totals.Negate()
		receipt := ledgerdomain.ReceiptUpdate{
			Number:  cancellationReceiptPrefix + ulid.Make().String(),
			Date:    now,
			Channel: ledgerdomain.ChannelCancelled,
		}
		if err := s.ledgerRepo.UpdateTotals(ctx, tx, current.ID, current.Version, ledgerdomain.Totals{}, receipt, now); err != nil {
			return nil, err
		}

		record := &ledgerdomain.TransactionRecord{
			ID:                  s.genID.Generate(),
			StudentID:           current.StudentID,
			ObligationID:        current.ID,
			AcademicYear:        current.AcademicYear,
			Term:                current.Term,
			Amount:              delta.Paid,
			DiscountAmount:      delta.Discount,
			FineAmount:          delta.Fine,
			SupplementaryAmount: delta.SupplementaryPaid,
			ReceiptNumber:       receipt.Number,
			ReceiptDate:         receipt.Date,
			PaymentChannel:      receipt.Channel,
			Remarks:             remarks,
			ActorID:             actorID(ctx),
			CreatedAt:           now,
		}
		if err := s.insertRecord(ctx, tx, record); err != nil {
			return nil, err
		}
		if err := s.audit(ctx, tx, auditdomain.ActionFeeCancelled, record); err != nil {
			return nil, err
		}
		return s.result(ctx, tx, current.ID, record)
	})
}

func (s *Service) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryResponse, error) {
	if req.StudentID == 0 {
		return domain.HistoryResponse{}, domain.ErrInvalidStudent
	}
	if req.Term < 0 {
		return domain.HistoryResponse{}, domain.ErrInvalidTerm
	}
	student, err := s.rosterRepo.FindStudent(ctx, s.db, req.StudentID)
	if err != nil {
		return domain.HistoryResponse{}, err
	}
	if student == nil {
		return domain.HistoryResponse{}, rosterdomain.ErrStudentNotFound
	}

	filter := ledgerdomain.TransactionFilter{
		StudentID:    student.ID,
		AcademicYear: strings.TrimSpace(req.AcademicYear),
		Term:         req.Term,
		Limit:        pagination.NormalizeSize(req.PageSize),
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.HistoryResponse{}, err
	}
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.HistoryResponse{}, pagination.ErrInvalidPageToken
		}
		filter.Cursor = &ledgerdomain.TransactionCursor{ID: id}
	}

	records, err := s.ledgerRepo.ListTransactions(ctx, s.db, filter)
	if err != nil {
		return domain.HistoryResponse{}, err
	}
	page, info := pagination.BuildCursorPageInfo(records, filter.Limit, func(record *ledgerdomain.TransactionRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: record.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if page == nil {
		page = []*ledgerdomain.TransactionRecord{}
	}
	return domain.HistoryResponse{Transactions: page, PageInfo: info}, nil
}

// Reconcile replays an obligation's transaction log against its stored totals.
// It holds the obligation's write lock so a concurrent collection cannot land
// between the two reads.
func (s *Service) Reconcile(ctx context.Context, obligationID snowflake.ID) (ledgerdomain.Reconciliation, error) {
	if obligationID == 0 {
		return ledgerdomain.Reconciliation{}, ledgerdomain.ErrObligationNotFound
	}
	unlock, err := s.locker.Lock(ctx, lock.ObligationKey(int64(obligationID)))
	if err != nil {
		return ledgerdomain.Reconciliation{}, err
	}
	defer unlock()

	var (
		balance *ledgerdomain.ObligationBalance
		records []*ledgerdomain.TransactionRecord
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.ledgerRepo.FindBalanceByID(ctx, tx, obligationID)
		if err != nil {
			return err
		}
		if balance == nil {
			return ledgerdomain.ErrObligationNotFound
		}
		records, err = s.ledgerRepo.ListTransactions(ctx, tx, ledgerdomain.TransactionFilter{
			ObligationID: obligationID,
			Ascending:    true,
		})
		return err
	})
	if err != nil {
		return ledgerdomain.Reconciliation{}, err
	}
	replay := make([]ledgerdomain.TransactionRecord, 0, len(records))
	for _, record := range records {
		replay = append(replay, *record)
	}

	report := ledgerdomain.Reconcile(balance.Obligation, replay)
	if !report.Consistent {
		s.log.Error("obligation totals diverge from transaction log",
			zap.String("obligation_id", report.ObligationID),
			zap.Any("stored", report.Stored),
			zap.Any("folded", report.Folded),
		)
	}
	return report, nil
}

func (s *Service) normalizeCollect(req domain.CollectRequest) (domain.CollectRequest, error) {
	if req.StudentID == 0 {
		return req, domain.ErrInvalidStudent
	}
	if req.Term < 1 {
		return req, domain.ErrInvalidTerm
	}
	if req.Amount < 0 || req.DiscountAmount < 0 || req.FineAmount < 0 || req.SupplementaryAmount < 0 {
		return req, domain.ErrInvalidAmount
	}
	if req.Amount > ledgerdomain.MaxAmount || req.DiscountAmount > ledgerdomain.MaxAmount ||
		req.FineAmount > ledgerdomain.MaxAmount || req.SupplementaryAmount > ledgerdomain.MaxAmount {
		return req, domain.ErrInvalidAmount
	}
	if req.Amount == 0 && req.DiscountAmount == 0 && req.SupplementaryAmount == 0 {
		return req, domain.ErrInvalidPayment
	}
	// The instruction settles at least the fine it levies.
	if req.FineAmount > req.Amount+req.DiscountAmount+req.SupplementaryAmount {
		return req, domain.ErrUnsettledFine
	}

	req.ReceiptNumber = strings.TrimSpace(req.ReceiptNumber)
	if req.ReceiptNumber == "" || strings.HasPrefix(req.ReceiptNumber, cancellationReceiptPrefix) {
		return req, domain.ErrInvalidReceiptNumber
	}

	channel := ledgerdomain.PaymentChannel(strings.ToLower(strings.TrimSpace(string(req.PaymentChannel))))
	if !channel.IsCollection() {
		return req, domain.ErrInvalidChannel
	}
	req.PaymentChannel = channel

	req.Remarks = strings.TrimSpace(req.Remarks)
	if len(req.Remarks) > domain.MaxRemarksLength {
		return req, domain.ErrInvalidRemarks
	}

	if req.ReceiptDate == nil {
		now := s.clock.Now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		req.ReceiptDate = &today
	} else {
		if req.ReceiptDate.IsZero() {
			return req, domain.ErrInvalidReceiptDate
		}
		date := req.ReceiptDate.UTC()
		req.ReceiptDate = &date
	}
	return req, nil
}

// resolveObligation finds the obligation for the term under the student's
// current grade and academic year.
func (s *Service) resolveObligation(ctx context.Context, studentID snowflake.ID, term int) (*ledgerdomain.ObligationBalance, error) {
	student, err := s.rosterRepo.FindStudent(ctx, s.db, studentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, rosterdomain.ErrStudentNotFound
	}
	balance, err := s.ledgerRepo.FindBalance(ctx, s.db, student.ID, student.AcademicYear, term)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, domain.ErrUnknownTerm
	}
	return balance, nil
}

func ledgerScope(ctx context.Context, balance *ledgerdomain.ObligationBalance) context.Context {
	return obscontext.WithLedgerScope(ctx, obscontext.LedgerScope{
		StudentID:    balance.StudentID.String(),
		ObligationID: balance.ID.String(),
	})
}

func (s *Service) lockBalance(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*ledgerdomain.ObligationBalance, error) {
	locked, err := s.ledgerRepo.LockObligation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledgerRepo.FindBalanceByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, ledgerdomain.ErrObligationNotFound
	}
	balance.Obligation = *locked
	return balance, nil
}

// checkPayment enforces settled + delta <= fee + fines after levying the
// instruction's own fine. Each part is taken off what remains due so no
// intermediate sum can leave int64.
func checkPayment(balance ledgerdomain.ObligationBalance, delta ledgerdomain.Totals) error {
	supplementaryDue := balance.SupplementaryAmount - balance.CumulativeSupplementaryPaidAmount
	if delta.SupplementaryPaid > supplementaryDue {
		return domain.ErrOverpayment
	}
	remaining := balance.Due() + delta.Fine
	for _, part := range []int64{delta.Paid, delta.Discount, delta.SupplementaryPaid} {
		if part > remaining {
			return domain.ErrOverpayment
		}
		remaining -= part
	}
	return nil
}

// write serializes fn per obligation and runs it in a transaction, retrying
// version conflicts and retryable database errors.
func (s *Service) write(ctx context.Context, operation string, obligationID snowflake.ID, fn func(tx *gorm.DB) (*domain.Result, error)) (*domain.Result, error) {
	waitStart := time.Now()
	unlock, err := s.locker.Lock(ctx, lock.ObligationKey(int64(obligationID)))
	s.ledgerMetrics.ObserveLockWait(obsmetrics.LockResourceObligation, time.Since(waitStart))
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			s.obsMetrics.RecordConflict(ctx, operation)
			return nil, domain.ErrConflict
		}
		return nil, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		var result *domain.Result
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			r, err := fn(tx)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) {
			return nil, err
		}

		s.ledgerMetrics.IncRetry(operation, err)
		if attempt >= s.maxRetries {
			s.obsMetrics.RecordConflict(ctx, operation)
			s.log.Warn("ledger write retries exhausted",
				zap.String("operation", operation),
				zap.String("obligation_id", obligationID.String()),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return nil, domain.ErrConflict
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * retryBackoff):
		}
	}
}

func (s *Service) insertRecord(ctx context.Context, tx *gorm.DB, record *ledgerdomain.TransactionRecord) error {
	if err := s.ledgerRepo.InsertTransaction(ctx, tx, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateReceipt
		}
		return err
	}
	return nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, record *ledgerdomain.TransactionRecord) error {
	if s.auditSvc == nil {
		return nil
	}
	targetID := record.ObligationID.String()
	return s.auditSvc.AuditLog(ctx, tx, action, auditdomain.TargetTypeObligation, &targetID, map[string]any{
		"transaction_id":  record.ID.String(),
		"student_id":      record.StudentID.String(),
		"term":            record.Term,
		"receipt_number":  record.ReceiptNumber,
		"payment_channel": string(record.PaymentChannel),
		"amount":          record.Amount,
		"discount_amount": record.DiscountAmount,
		"fine_amount":     record.FineAmount,
	})
}

func (s *Service) result(ctx context.Context, tx *gorm.DB, id snowflake.ID, record *ledgerdomain.TransactionRecord) (*domain.Result, error) {
	updated, err := s.ledgerRepo.FindBalanceByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ledgerdomain.ErrObligationNotFound
	}
	return &domain.Result{
		Obligation:  updated,
		State:       updated.State(),
		DueAmount:   updated.Due(),
		Transaction: record,
	}, nil
}

func (s *Service) observe(operation string, start time.Time, err error) {
	outcome := obsmetrics.OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateReceipt):
		outcome = obsmetrics.OutcomeConflict
	case isRejection(err):
		outcome = obsmetrics.OutcomeRejected
	default:
		outcome = obsmetrics.OutcomeError
	}
	s.ledgerMetrics.ObserveOperation(operation, outcome, time.Since(start))
}

func isRetryable(err error) bool {
	return errors.Is(err, ledgerdomain.ErrVersionConflict) || db.IsRetryableTxErr(err)
}

var rejections = []error{
	rosterdomain.ErrStudentNotFound,
	domain.ErrInvalidStudent,
	domain.ErrInvalidTerm,
	domain.ErrInvalidAmount,
	domain.ErrInvalidPayment,
	domain.ErrUnsettledFine,
	domain.ErrInvalidReceiptNumber,
	domain.ErrInvalidReceiptDate,
	domain.ErrInvalidChannel,
	domain.ErrInvalidRemarks,
	domain.ErrUnknownTerm,
	domain.ErrOverpayment,
	domain.ErrNothingToCancel,
}

func isRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func actorID(ctx context.Context) *string {
	actor := strings.TrimSpace(obscontext.ActorIDFromContext(ctx))
	if actor == "" {
		return nil
	}
	return &actor
}
