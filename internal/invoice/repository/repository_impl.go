package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/meterly/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

// NextSequence upserts the counter row of year. A missing row is seeded from
// the highest number already issued that year so the counter can be added to
// a populated table. The conflict clause is rendered per dialect.
func (r *repo) NextSequence(ctx context.Context, db *gorm.DB, year int, now time.Time) (int64, error) {
	seed, err := r.maxSequence(ctx, db, year)
	if err != nil {
		return 0, err
	}

	row := invoicedomain.InvoiceSequence{Year: year, LastValue: seed + 1, UpdatedAt: now}
	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "year"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_value": gorm.Expr("invoice_sequences.last_value + 1"),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, err
	}

	var lastValue int64
	err = db.WithContext(ctx).Raw(
		`SELECT last_value FROM invoice_sequences WHERE year = ?`,
		year,
	).Scan(&lastValue).Error
	if err != nil {
		return 0, err
	}
	return lastValue, nil
}

func (r *repo) SyncSequence(ctx context.Context, db *gorm.DB, year int, now time.Time) error {
	highest, err := r.maxSequence(ctx, db, year)
	if err != nil {
		return err
	}
	if highest == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE invoice_sequences SET last_value = ?, updated_at = ?
		 WHERE year = ? AND last_value < ?`,
		highest,
		now,
		year,
		highest,
	).Error
}

func (r *repo) maxSequence(ctx context.Context, db *gorm.DB, year int) (int64, error) {
	var highest int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(number_seq), 0) FROM invoices WHERE number_year = ?`,
		year,
	).Scan(&highest).Error
	return highest, err
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, account_id, subscription_id, status, currency, subtotal, tax_amount,
			total, number, number_year, number_seq, period_start, period_end,
			issued_at, due_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.AccountID,
		invoice.SubscriptionID,
		invoice.Status,
		invoice.Currency,
		invoice.Subtotal,
		invoice.TaxAmount,
		invoice.Total,
		invoice.Number,
		invoice.NumberYear,
		invoice.NumberSeq,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.IssuedAt,
		invoice.DueAt,
		invoice.CreatedAt,
	).Error
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []invoicedomain.InvoiceLine) error {
	for _, line := range lines {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO invoice_lines (
				id, invoice_id, subscription_item_id, description, quantity,
				unit_amount, amount, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			line.ID,
			line.InvoiceID,
			line.SubscriptionItemID,
			line.Description,
			line.Quantity,
			line.UnitAmount,
			line.Amount,
			line.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, subscription_id, status, currency, subtotal, tax_amount,
		 total, number, number_year, number_seq, period_start, period_end,
		 issued_at, due_at, created_at
		 FROM invoices WHERE id = ?`,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.InvoiceLine, error) {
	var lines []invoicedomain.InvoiceLine
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, subscription_item_id, description, quantity,
		 unit_amount, amount, created_at
		 FROM invoice_lines WHERE invoice_id = ? ORDER BY id ASC`,
		invoiceID,
	).Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}
