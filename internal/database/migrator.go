package database

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"editions/internal/middleware"

	"gorm.io/gorm"
)

// migrationLockID keys the postgres advisory lock held while migrating.
const migrationLockID int64 = 0x65646974696f6e73

type migrationRecord struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

func (migrationRecord) TableName() string { return "schema_migrations" }

// migrator applies a fixed migration set over a single pinned connection.
type migrator struct {
	db         *gorm.DB
	migrations []Migration
}

// RunMigrations applies every pending embedded migration.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	all, err := Migrations()
	if err != nil {
		return err
	}
	return (&migrator{db: db, migrations: all}).up(ctx)
}

// RollbackMigration runs the down script of an applied migration.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	all, err := Migrations()
	if err != nil {
		return err
	}
	return (&migrator{db: db, migrations: all}).down(ctx, version)
}

// AppliedVersions lists recorded migration versions in ascending order.
// A database that was never migrated has none.
func AppliedVersions(ctx context.Context, db *gorm.DB) ([]int, error) {
	db = db.WithContext(ctx)
	if !db.Migrator().HasTable(&migrationRecord{}) {
		return nil, nil
	}
	var versions []int
	if err := db.Model(&migrationRecord{}).Order("version").Pluck("version", &versions).Error; err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	return versions, nil
}

// locked runs fn on one connection. On postgres that connection holds an
// advisory lock so concurrent deploys migrate one at a time.
func (m *migrator) locked(ctx context.Context, fn func(conn *gorm.DB) error) error {
	return m.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if conn.Dialector.Name() == "postgres" {
			if err := conn.Exec("SELECT pg_advisory_lock(?)", migrationLockID).Error; err != nil {
				return fmt.Errorf("acquire migration lock: %w", err)
			}
			defer conn.Exec("SELECT pg_advisory_unlock(?)", migrationLockID)
		}
		if err := conn.AutoMigrate(&migrationRecord{}); err != nil {
			return fmt.Errorf("ensure schema_migrations: %w", err)
		}
		return fn(conn)
	})
}

func (m *migrator) up(ctx context.Context) error {
	return m.locked(ctx, func(conn *gorm.DB) error {
		applied, err := AppliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		if err := validateAppliedVersions(applied, m.migrations); err != nil {
			return err
		}

		for _, mig := range pendingMigrations(m.migrations, applied) {
			started := time.Now()
			err := conn.Transaction(func(tx *gorm.DB) error {
				if err := tx.Exec(mig.Up).Error; err != nil {
					return err
				}
				return tx.Create(&migrationRecord{Version: mig.Version, Name: mig.Name}).Error
			})
			if err != nil {
				return fmt.Errorf("apply migration %s: %w", mig, err)
			}
			middleware.Logger.Info("migration applied",
				slog.String("migration", mig.String()),
				slog.Duration("elapsed", time.Since(started)))
		}
		return nil
	})
}

func (m *migrator) down(ctx context.Context, version int) error {
	mig, ok := findMigration(m.migrations, version)
	if !ok {
		return fmt.Errorf("migration version %d not found", version)
	}

	return m.locked(ctx, func(conn *gorm.DB) error {
		applied, err := AppliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		if !slices.Contains(applied, version) {
			return fmt.Errorf("migration %s has not been applied", mig)
		}

		err = conn.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(mig.Down).Error; err != nil {
				return err
			}
			return tx.Delete(&migrationRecord{}, "version = ?", version).Error
		})
		if err != nil {
			return fmt.Errorf("roll back migration %s: %w", mig, err)
		}
		middleware.Logger.Info("migration rolled back", slog.String("migration", mig.String()))
		return nil
	})
}
