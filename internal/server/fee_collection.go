package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	collectiondomain "github.com/smallbiznis/bursar/internal/collection/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	"github.com/smallbiznis/bursar/pkg/validation"
)

type collectFeeRequest struct {
	StudentID           string `json:"student_id" validate:"required"`
	Term                int    `json:"term" validate:"required,gte=1"`
	Amount              string `json:"amount"`
	DiscountAmount      string `json:"discount_amount"`
	FineAmount          string `json:"fine_amount"`
	SupplementaryAmount string `json:"supplementary_amount"`
	ReceiptNumber       string `json:"receipt_number" validate:"required,max=64"`
	ReceiptDate         string `json:"receipt_date"`
	PaymentChannel      string `json:"payment_channel" validate:"required"`
	Remarks             string `json:"remarks" validate:"max=500"`
}

type cancelFeeRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Term      int    `json:"term" validate:"required,gte=1"`
	Remarks   string `json:"remarks" validate:"max=500"`
}

func (s *Server) CollectFee(c *gin.Context) {
	var req collectFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		AbortWithError(c, fieldValidationError(errs))
		return
	}

	studentID, err := requiredID(req.StudentID, "student_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	amounts := make(map[string]int64, 4)
	for _, field := range []struct{ name, value string }{
		{"amount", req.Amount},
		{"discount_amount", req.DiscountAmount},
		{"fine_amount", req.FineAmount},
		{"supplementary_amount", req.SupplementaryAmount},
	} {
		minor, err := parseAmount(field.value, field.name)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		amounts[field.name] = minor
	}

	receiptDate, err := parseOptionalTime(req.ReceiptDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("receipt_date", "invalid_receipt_date", "invalid receipt_date"))
		return
	}

	resp, err := s.collectionSvc.Collect(c.Request.Context(), collectiondomain.CollectRequest{
		StudentID:           studentID,
		Term:                req.Term,
		Amount:              amounts["amount"],
		DiscountAmount:      amounts["discount_amount"],
		FineAmount:          amounts["fine_amount"],
		SupplementaryAmount: amounts["supplementary_amount"],
		ReceiptNumber:       strings.TrimSpace(req.ReceiptNumber),
		ReceiptDate:         receiptDate,
		PaymentChannel:      ledgerdomain.PaymentChannel(strings.TrimSpace(req.PaymentChannel)),
		Remarks:             strings.TrimSpace(req.Remarks),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": presentCollectionResult(resp)})
}

func (s *Server) CancelFee(c *gin.Context) {
	var req cancelFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		AbortWithError(c, fieldValidationError(errs))
		return
	}

	studentID, err := requiredID(req.StudentID, "student_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.collectionSvc.Cancel(c.Request.Context(), collectiondomain.CancelRequest{
		StudentID: studentID,
		Term:      req.Term,
		Remarks:   strings.TrimSpace(req.Remarks),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": presentCollectionResult(resp)})
}
