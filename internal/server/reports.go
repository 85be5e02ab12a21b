package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	reportingdomain "github.com/smallbiznis/bursar/internal/reporting/domain"
	"github.com/smallbiznis/bursar/pkg/db/pagination"
	"github.com/smallbiznis/bursar/pkg/money"
)

type listReportTransactionsQuery struct {
	Channel string `form:"payment_channel"`
	pagination.Pagination
}

func (s *Server) ListCollections(c *gin.Context) {
	req, err := reportTransactionsRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.reportingSvc.Collections(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

func (s *Server) ListCancellations(c *gin.Context) {
	req, err := reportTransactionsRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.Channel = ""

	resp, err := s.reportingSvc.Cancellations(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

// GetDailyCollection groups receipts by day and channel over a required from/to range.
func (s *Server) GetDailyCollection(c *gin.Context) {
	from, err := queryTime(c, "from", false)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	to, err := queryTime(c, "to", false)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if from == nil || to == nil {
		AbortWithError(c, reportingdomain.ErrInvalidDateRange)
		return
	}
	gradeID, err := queryID(c, "grade_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.reportingSvc.DailyCollection(c.Request.Context(), reportingdomain.DailyCollectionRequest{
		From:    *from,
		To:      *to,
		GradeID: gradeID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"days":           resp.Days,
		"totals":         resp.Totals,
		"amount_display": money.Format(resp.Totals.Paid),
	}})
}

func reportTransactionsRequest(c *gin.Context) (reportingdomain.TransactionsRequest, error) {
	var query listReportTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		return reportingdomain.TransactionsRequest{}, invalidRequestError()
	}
	from, err := queryTime(c, "from", false)
	if err != nil {
		return reportingdomain.TransactionsRequest{}, err
	}
	to, err := queryTime(c, "to", true)
	if err != nil {
		return reportingdomain.TransactionsRequest{}, err
	}
	gradeID, err := queryID(c, "grade_id")
	if err != nil {
		return reportingdomain.TransactionsRequest{}, err
	}
	classID, err := queryID(c, "class_id")
	if err != nil {
		return reportingdomain.TransactionsRequest{}, err
	}

	return reportingdomain.TransactionsRequest{
		From:       from,
		To:         to,
		GradeID:    gradeID,
		ClassID:    classID,
		Channel:    ledgerdomain.PaymentChannel(strings.TrimSpace(query.Channel)),
		Pagination: query.Pagination,
	}, nil
}
