package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	reportingdomain "github.com/smallbiznis/bursar/internal/reporting/domain"
	"github.com/smallbiznis/bursar/pkg/db/pagination"
)

type listFeeSummariesQuery struct {
	AcademicYear string `form:"academic_year"`
	Search       string `form:"search"`
	Status       string `form:"status"`
	Sort         string `form:"sort"`
	Order        string `form:"order"`
	pagination.Page
}

// GetFeeSummary derives one student's balance for the current grade and year.
func (s *Server) GetFeeSummary(c *gin.Context) {
	studentID, err := queryID(c, "student_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if studentID == 0 {
		AbortWithError(c, newValidationError("student_id", "invalid_student_id", "student_id is required"))
		return
	}

	snap, err := s.summarySvc.Summarize(c.Request.Context(), studentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": presentSnapshot(snap)})
}

func (s *Server) ListFeeSummaries(c *gin.Context) {
	var query listFeeSummariesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	gradeID, err := queryID(c, "grade_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	classID, err := queryID(c, "class_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var descending bool
	switch strings.ToLower(strings.TrimSpace(query.Order)) {
	case "", "asc":
	case "desc":
		descending = true
	default:
		AbortWithError(c, newValidationError("order", "invalid_order", "order must be asc or desc"))
		return
	}

	resp, err := s.reportingSvc.Balances(c.Request.Context(), reportingdomain.BalancesRequest{
		GradeID:      gradeID,
		ClassID:      classID,
		AcademicYear: strings.TrimSpace(query.AcademicYear),
		Search:       strings.TrimSpace(query.Search),
		Status:       query.Status,
		Sort:         query.Sort,
		Descending:   descending,
		Page:         query.Page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": presentSnapshots(resp.Students), "page": resp.Page})
}
