// Package migration creates the billing schema on startup so the
// service is usable out of the box for local and self-hosted
// deployments.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	auditdomain "github.com/courtierpro/billing/internal/audit/domain"
	authdomain "github.com/courtierpro/billing/internal/auth/domain"
	clientdomain "github.com/courtierpro/billing/internal/client/domain"
	featuredomain "github.com/courtierpro/billing/internal/feature/domain"
	invoicedomain "github.com/courtierpro/billing/internal/invoice/domain"
	"github.com/courtierpro/billing/internal/numbering"
	quotedomain "github.com/courtierpro/billing/internal/quote/domain"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// RunMigrations applies the embedded SQL migrations against Postgres.
func RunMigrations(db *sql.DB) error {
	if db == nil {
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

	driver, err := postgres.WithInstance(db, &postgres.Config{})
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
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema from the models for dialects the SQL
// migrations do not target (sqlite and mysql development setups).
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&clientdomain.Client{},
		&numbering.DocumentSequence{},
		&quotedomain.Quote{},
		&quotedomain.Item{},
		&invoicedomain.Invoice{},
		&invoicedomain.Item{},
		&invoicedomain.Payment{},
		&auditdomain.Entry{},
		&authdomain.APIToken{},
		&featuredomain.TenantPlan{},
	)
}
