package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account groups the subscriptions of one customer.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:varchar(255);not null" json:"name"`
	Slug      string       `gorm:"type:varchar(255);not null;uniqueIndex" json:"slug"`
	CreatedAt time.Time    `gorm:"precision:6;not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"precision:6;not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }
