package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/bursar/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	ActionFeeCollected   = "fee.collected"
	ActionFeeCancelled   = "fee.cancelled"
	ActionFeesAssigned   = "fee.assigned"
	ActionCatalogCreated = "fee_catalog.created"
	ActionCatalogUpdated = "fee_catalog.updated"
)

const (
	TargetTypeObligation   = "fee_obligation"
	TargetTypeCatalogEntry = "fee_catalog_entry"
	TargetTypeStudent      = "student"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// AuditLog writes through db so a ledger transaction can include its audit row.
	// A nil db uses the service's own connection.
	AuditLog(ctx context.Context, db *gorm.DB, action, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
