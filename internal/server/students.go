package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	collectiondomain "github.com/smallbiznis/bursar/internal/collection/domain"
	"github.com/smallbiznis/bursar/pkg/db/pagination"
)

type listStudentTransactionsQuery struct {
	AcademicYear string `form:"academic_year"`
	pagination.Pagination
}

// ListStudentTransactions pages a student's receipts and reversals, newest first.
func (s *Server) ListStudentTransactions(c *gin.Context) {
	studentID, err := pathID(c, "student_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listStudentTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	term, err := parseOptionalInt(c.Query("term"))
	if err != nil {
		AbortWithError(c, newValidationError("term", "invalid_term", "invalid term"))
		return
	}

	req := collectiondomain.HistoryRequest{
		StudentID:    studentID,
		AcademicYear: strings.TrimSpace(query.AcademicYear),
		Pagination:   query.Pagination,
	}
	if term != nil {
		req.Term = *term
	}

	resp, err := s.collectionSvc.History(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

func (s *Server) GetStudentStatement(c *gin.Context) {
	studentID, err := pathID(c, "student_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	statement, err := s.reportingSvc.StudentStatement(c.Request.Context(), studentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"summary":      presentSnapshot(statement.Summary),
		"transactions": statement.Transactions,
	}})
}

// ReconcileObligation replays the transaction log and compares it with the stored totals.
func (s *Server) ReconcileObligation(c *gin.Context) {
	obligationID, err := pathID(c, "obligation_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.collectionSvc.Reconcile(c.Request.Context(), obligationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
