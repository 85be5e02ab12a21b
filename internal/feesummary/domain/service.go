package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Summarize(ctx context.Context, studentID snowflake.ID) (*Snapshot, error)
	SummarizeAll(ctx context.Context, filter Filter) ([]*Snapshot, error)
}

var ErrInvalidStudent = errors.New("invalid_student")
