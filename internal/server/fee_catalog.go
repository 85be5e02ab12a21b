package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	feecatalogdomain "github.com/smallbiznis/bursar/internal/feecatalog/domain"
	"github.com/smallbiznis/bursar/pkg/validation"
)

type createFeeCatalogRequest struct {
	GradeID             string `json:"grade_id" validate:"required"`
	AcademicYear        string `json:"academic_year" validate:"required,max=32"`
	Term                int    `json:"term" validate:"required,gte=1"`
	TuitionAmount       string `json:"tuition_amount" validate:"required"`
	SupplementaryAmount string `json:"supplementary_amount"`
	Currency            string `json:"currency" validate:"omitempty,len=3"`
	TermStartDate       string `json:"term_start_date"`
	TermDueDate         string `json:"term_due_date"`
}

type updateFeeCatalogRequest struct {
	TuitionAmount       *string `json:"tuition_amount"`
	SupplementaryAmount *string `json:"supplementary_amount"`
	TermStartDate       *string `json:"term_start_date"`
	TermDueDate         *string `json:"term_due_date"`
}

func (s *Server) ListFeeCatalog(c *gin.Context) {
	gradeID, err := queryID(c, "grade_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.catalogSvc.List(c.Request.Context(), feecatalogdomain.ListRequest{
		GradeID:      gradeID,
		AcademicYear: strings.TrimSpace(c.Query("academic_year")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": presentCatalogEntries(entries)})
}

func (s *Server) GetFeeCatalogEntry(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entry, err := s.catalogSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": presentCatalogEntry(entry)})
}

func (s *Server) CreateFeeCatalogEntry(c *gin.Context) {
	var req createFeeCatalogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		AbortWithError(c, fieldValidationError(errs))
		return
	}

	gradeID, err := requiredID(req.GradeID, "grade_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	tuition, err := parseAmount(req.TuitionAmount, "tuition_amount")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	supplementary, err := parseAmount(req.SupplementaryAmount, "supplementary_amount")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	startDate, err := parseOptionalTime(req.TermStartDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("term_start_date", "invalid_term_start_date", "invalid term_start_date"))
		return
	}
	dueDate, err := parseOptionalTime(req.TermDueDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("term_due_date", "invalid_term_due_date", "invalid term_due_date"))
		return
	}

	entry, err := s.catalogSvc.Create(c.Request.Context(), feecatalogdomain.CreateRequest{
		GradeID:             gradeID,
		AcademicYear:        strings.TrimSpace(req.AcademicYear),
		Term:                req.Term,
		TuitionAmount:       tuition,
		SupplementaryAmount: supplementary,
		Currency:            strings.TrimSpace(req.Currency),
		TermStartDate:       startDate,
		TermDueDate:         dueDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": presentCatalogEntry(entry)})
}

func (s *Server) UpdateFeeCatalogEntry(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateFeeCatalogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tuition, err := parseOptionalAmount(req.TuitionAmount, "tuition_amount")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	supplementary, err := parseOptionalAmount(req.SupplementaryAmount, "supplementary_amount")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	update := feecatalogdomain.UpdateRequest{
		TuitionAmount:       tuition,
		SupplementaryAmount: supplementary,
	}
	if req.TermStartDate != nil {
		update.TermStartDate, err = parseOptionalTime(*req.TermStartDate, false)
		if err != nil {
			AbortWithError(c, newValidationError("term_start_date", "invalid_term_start_date", "invalid term_start_date"))
			return
		}
	}
	if req.TermDueDate != nil {
		update.TermDueDate, err = parseOptionalTime(*req.TermDueDate, false)
		if err != nil {
			AbortWithError(c, newValidationError("term_due_date", "invalid_term_due_date", "invalid term_due_date"))
			return
		}
	}

	entry, err := s.catalogSvc.Update(c.Request.Context(), id, update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": presentCatalogEntry(entry)})
}
