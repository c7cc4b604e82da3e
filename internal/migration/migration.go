package migration

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	accountdomain "github.com/smallbiznis/meterly/internal/account/domain"
	invoicedomain "github.com/smallbiznis/meterly/internal/invoice/domain"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"github.com/smallbiznis/meterly/pkg/db"
	"gorm.io/gorm"
)

//go:embed sqlite/schema.sql
var sqliteSchema string

// Run brings the schema of the configured engine up to date.
func Run(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	switch dbType {
	case db.TypePostgres:
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	case db.TypeSQLite:
		return ApplySQLiteSchema(conn)
	case db.TypeMySQL:
		return autoMigrate(conn)
	default:
		return fmt.Errorf("unsupported %s type", dbType)
	}
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(sqlDB *sql.DB) error {
	if sqlDB == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.
	return nil
}

// ApplySQLiteSchema creates the SQLite schema; every statement is idempotent.
func ApplySQLiteSchema(conn *gorm.DB) error {
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}

// autoMigrate derives the MySQL schema from model tags.
func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(models()...)
}

// models lists every persisted type. Strings that take part in an index carry
// an explicit varchar size and timestamps keep microsecond precision, which
// the period compare-and-swap relies on.
func models() []any {
	return []any{
		&accountdomain.Account{},
		&pricedomain.Plan{},
		&pricedomain.Price{},
		&pricedomain.PlanFeature{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionItem{},
		&invoicedomain.InvoiceSequence{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&usagedomain.UsageEvent{},
		&usagedomain.UsageAggregate{},
	}
}
