package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// NextSequence increments the counter of year and returns the new value.
	// The counter row stays locked until the surrounding transaction ends.
	NextSequence(ctx context.Context, db *gorm.DB, year int, now time.Time) (int64, error)
	// SyncSequence raises the counter of year to the highest stored number.
	SyncSequence(ctx context.Context, db *gorm.DB, year int, now time.Time) error

	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertLines(ctx context.Context, db *gorm.DB, lines []InvoiceLine) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceLine, error)
}
