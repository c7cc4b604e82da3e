// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusOpen InvoiceStatus = "OPEN"
	InvoiceStatusPaid InvoiceStatus = "PAID"
	InvoiceStatusVoid InvoiceStatus = "VOID"
)

// Invoice is an issued bill for one subscription period. Amounts are minor
// units; Total always equals Subtotal + TaxAmount.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountID      snowflake.ID  `gorm:"not null;index" json:"account_id"`
	SubscriptionID snowflake.ID  `gorm:"not null;index" json:"subscription_id"`
	Status         InvoiceStatus `gorm:"type:varchar(16);not null" json:"status"`
	Currency       string        `gorm:"type:varchar(8);not null" json:"currency"`
	Subtotal       int64         `gorm:"not null" json:"subtotal"`
	TaxAmount      int64         `gorm:"not null;default:0" json:"tax_amount"`
	Total          int64         `gorm:"not null" json:"total"`
	Number         string        `gorm:"type:varchar(32);not null;uniqueIndex" json:"number"`
	NumberYear     int           `gorm:"not null;uniqueIndex:ux_invoices_number_seq" json:"number_year"`
	NumberSeq      int64         `gorm:"not null;uniqueIndex:ux_invoices_number_seq" json:"number_seq"`
	PeriodStart    time.Time     `gorm:"precision:6;not null" json:"period_start"`
	PeriodEnd      time.Time     `gorm:"precision:6;not null" json:"period_end"`
	IssuedAt       time.Time     `gorm:"precision:6;not null" json:"issued_at"`
	DueAt          time.Time     `gorm:"precision:6;not null" json:"due_at"`
	CreatedAt      time.Time     `gorm:"precision:6;not null" json:"created_at"`

	Lines []InvoiceLine `gorm:"-" json:"lines,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine bills one subscription item.
type InvoiceLine struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID          snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	SubscriptionItemID snowflake.ID `gorm:"not null" json:"subscription_item_id"`
	Description        string       `gorm:"type:varchar(255);not null" json:"description"`
	Quantity           int64        `gorm:"not null" json:"quantity"`
	UnitAmount         int64        `gorm:"not null" json:"unit_amount"`
	Amount             int64        `gorm:"not null" json:"amount"`
	CreatedAt          time.Time    `gorm:"precision:6;not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// InvoiceSequence is the per-year numbering counter. LastValue is the
// sequence of the most recently allocated number.
type InvoiceSequence struct {
	Year      int       `gorm:"primaryKey;autoIncrement:false"`
	LastValue int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"precision:6;not null"`
}

// TableName sets the database table name.
func (InvoiceSequence) TableName() string { return "invoice_sequences" }
