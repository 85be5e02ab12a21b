package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *FeeCatalogEntry) error
	Update(ctx context.Context, db *gorm.DB, entry *FeeCatalogEntry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FeeCatalogEntry, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*FeeCatalogEntry, error)
}
