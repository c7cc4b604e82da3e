package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Account, error)
	UpdateName(ctx context.Context, db *gorm.DB, account *Account) error
}
