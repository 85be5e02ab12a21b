package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	feeassignmentdomain "github.com/smallbiznis/bursar/internal/feeassignment/domain"
	"github.com/smallbiznis/bursar/pkg/validation"
)

type assignFeesRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	GradeID      string `json:"grade_id" validate:"required"`
	AcademicYear string `json:"academic_year" validate:"required,max=32"`
}

type bulkAssignRow struct {
	StudentID    string `json:"student_id"`
	GradeID      string `json:"grade_id"`
	AcademicYear string `json:"academic_year"`
}

type bulkAssignRequest struct {
	Rows []bulkAssignRow `json:"rows"`
}

type assignGradeRequest struct {
	AcademicYear string `json:"academic_year" validate:"required,max=32"`
}

func (s *Server) AssignFees(c *gin.Context) {
	var req assignFeesRequest
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
	gradeID, err := requiredID(req.GradeID, "grade_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.assignmentSvc.AssignFees(c.Request.Context(), feeassignmentdomain.AssignRequest{
		StudentID:    studentID,
		GradeID:      gradeID,
		AcademicYear: strings.TrimSpace(req.AcademicYear),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// BulkAssignFees never fails the batch for a bad row. Unparseable ids reach the
// service as zero and come back as per-row errors.
func (s *Server) BulkAssignFees(c *gin.Context) {
	var req bulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rows := make([]feeassignmentdomain.AssignRow, 0, len(req.Rows))
	for _, row := range req.Rows {
		rows = append(rows, feeassignmentdomain.AssignRow{
			StudentID:    lenientID(row.StudentID),
			GradeID:      lenientID(row.GradeID),
			AcademicYear: strings.TrimSpace(row.AcademicYear),
		})
	}

	resp, err := s.assignmentSvc.BulkAssign(c.Request.Context(), feeassignmentdomain.BulkAssignRequest{Rows: rows})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AssignGradeFees(c *gin.Context) {
	gradeID, err := pathID(c, "grade_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req assignGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		AbortWithError(c, fieldValidationError(errs))
		return
	}

	resp, err := s.assignmentSvc.AssignGrade(c.Request.Context(), gradeID, strings.TrimSpace(req.AcademicYear))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func lenientID(value string) snowflake.ID {
	id, err := parseOptionalSnowflakeID(value)
	if err != nil || id == nil {
		return 0
	}
	return *id
}
