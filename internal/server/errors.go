package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/bursar/internal/audit/domain"
	collectiondomain "github.com/smallbiznis/bursar/internal/collection/domain"
	feeassignmentdomain "github.com/smallbiznis/bursar/internal/feeassignment/domain"
	feecatalogdomain "github.com/smallbiznis/bursar/internal/feecatalog/domain"
	feesummarydomain "github.com/smallbiznis/bursar/internal/feesummary/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	reportingdomain "github.com/smallbiznis/bursar/internal/reporting/domain"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
	"github.com/smallbiznis/bursar/pkg/db/pagination"
	"github.com/smallbiznis/bursar/pkg/money"
	"github.com/smallbiznis/bursar/pkg/validation"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")

	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// fieldValidationError converts struct-tag failures into the response shape.
func fieldValidationError(errs []validation.FieldError) error {
	out := make([]ValidationError, 0, len(errs))
	for _, fe := range errs {
		out = append(out, ValidationError{
			Field:   fe.Field,
			Code:    "invalid_" + fe.Field,
			Message: fe.Rule,
		})
	}
	return &ValidationErrors{Errors: out}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code recorded on the request log line.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusBadRequest && len(payload.Errors) > 0:
		return payload.Type, payload.Errors[0].Code
	case status == http.StatusConflict:
		return payload.Type, payload.Message
	default:
		return payload.Type, ""
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, rosterdomain.ErrInvalidAcademicYear):
		return true
	case isMoneyValidationError(err),
		isCatalogValidationError(err),
		isAssignmentValidationError(err),
		isCollectionValidationError(err),
		isReportingValidationError(err),
		isAuditValidationError(err),
		errors.Is(err, feesummarydomain.ErrInvalidStudent):
		return true
	default:
		return false
	}
}

func isMoneyValidationError(err error) bool {
	return errors.Is(err, money.ErrInvalidAmount) ||
		errors.Is(err, money.ErrAmountPrecision) ||
		errors.Is(err, money.ErrAmountRange)
}

func isCatalogValidationError(err error) bool {
	switch {
	case errors.Is(err, feecatalogdomain.ErrInvalidTerm),
		errors.Is(err, feecatalogdomain.ErrInvalidAmount),
		errors.Is(err, feecatalogdomain.ErrInvalidCurrency),
		errors.Is(err, feecatalogdomain.ErrInvalidDateRange),
		errors.Is(err, feecatalogdomain.ErrInvalidGrade),
		errors.Is(err, feecatalogdomain.ErrTotalBelowCollected):
		return true
	default:
		return false
	}
}

func isAssignmentValidationError(err error) bool {
	switch {
	case errors.Is(err, feeassignmentdomain.ErrInvalidStudent),
		errors.Is(err, feeassignmentdomain.ErrInvalidGrade),
		errors.Is(err, feeassignmentdomain.ErrEmptyBatch):
		return true
	default:
		return false
	}
}

func isCollectionValidationError(err error) bool {
	switch {
	case errors.Is(err, collectiondomain.ErrInvalidStudent),
		errors.Is(err, collectiondomain.ErrInvalidTerm),
		errors.Is(err, collectiondomain.ErrInvalidAmount),
		errors.Is(err, collectiondomain.ErrInvalidPayment),
		errors.Is(err, collectiondomain.ErrUnsettledFine),
		errors.Is(err, collectiondomain.ErrInvalidReceiptNumber),
		errors.Is(err, collectiondomain.ErrInvalidReceiptDate),
		errors.Is(err, collectiondomain.ErrInvalidChannel),
		errors.Is(err, collectiondomain.ErrInvalidRemarks),
		errors.Is(err, collectiondomain.ErrUnknownTerm),
		errors.Is(err, collectiondomain.ErrOverpayment),
		errors.Is(err, collectiondomain.ErrNothingToCancel):
		return true
	default:
		return false
	}
}

func isReportingValidationError(err error) bool {
	switch {
	case errors.Is(err, reportingdomain.ErrInvalidSort),
		errors.Is(err, reportingdomain.ErrInvalidStatus),
		errors.Is(err, reportingdomain.ErrInvalidDateRange),
		errors.Is(err, reportingdomain.ErrInvalidChannel):
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	return errors.Is(err, auditdomain.ErrInvalidPageToken) ||
		errors.Is(err, auditdomain.ErrInvalidTimeRange) ||
		errors.Is(err, auditdomain.ErrInvalidAction)
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, collectiondomain.ErrConflict),
		errors.Is(err, collectiondomain.ErrDuplicateReceipt),
		errors.Is(err, feecatalogdomain.ErrDuplicateEntry):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, collectiondomain.ErrDuplicateReceipt):
		return collectiondomain.ErrDuplicateReceipt.Error()
	case errors.Is(err, feecatalogdomain.ErrDuplicateEntry):
		return feecatalogdomain.ErrDuplicateEntry.Error()
	default:
		return "conflict"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, rosterdomain.ErrStudentNotFound),
		errors.Is(err, rosterdomain.ErrGradeNotFound),
		errors.Is(err, feecatalogdomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrObligationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case collectiondomain.ErrUnknownTerm.Error(), collectiondomain.ErrNothingToCancel.Error():
		return "term"
	case collectiondomain.ErrOverpayment.Error():
		return "amount"
	case collectiondomain.ErrUnsettledFine.Error():
		return "fine_amount"
	case feecatalogdomain.ErrTotalBelowCollected.Error():
		return "tuition_amount"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case collectiondomain.ErrOverpayment.Error():
		return "payment exceeds the amount due"
	case collectiondomain.ErrUnsettledFine.Error():
		return "fine must be settled in the same collection"
	case collectiondomain.ErrUnknownTerm.Error():
		return "term is not assigned for the student's current grade and year"
	case collectiondomain.ErrNothingToCancel.Error():
		return "nothing to cancel"
	case feecatalogdomain.ErrTotalBelowCollected.Error():
		return "fee total is below what has already been collected"
	default:
		return "invalid value"
	}
}
