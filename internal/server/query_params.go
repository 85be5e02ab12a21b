package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/bursar/pkg/money"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}

// queryID reads an optional id filter; a malformed value is reported against field.
func queryID(c *gin.Context, field string) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(c.Query(field))
	if err != nil {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	if id == nil {
		return 0, nil
	}
	return *id, nil
}

// pathID reads the :id route parameter.
func pathID(c *gin.Context, field string) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return *id, nil
}

// requiredID parses an id carried in a request body.
func requiredID(value, field string) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(value)
	if err != nil || id == nil {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return *id, nil
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		} else {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

func queryTime(c *gin.Context, field string, endOfDay bool) (*time.Time, error) {
	parsed, err := parseOptionalTime(c.Query(field), endOfDay)
	if err != nil {
		return nil, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return parsed, nil
}

// parseAmount converts a decimal money string such as "5000.00" into minor units.
// An empty value is zero.
func parseAmount(value, field string) (int64, error) {
	minor, err := money.ParseMinor(value)
	if err != nil {
		return 0, newValidationError(field, err.Error(), "invalid "+field)
	}
	return minor, nil
}

// parseOptionalAmount leaves the amount unset when the value is empty.
func parseOptionalAmount(value *string, field string) (*int64, error) {
	if value == nil {
		return nil, nil
	}
	minor, err := parseAmount(*value, field)
	if err != nil {
		return nil, err
	}
	return &minor, nil
}
