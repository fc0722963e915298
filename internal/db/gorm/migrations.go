// Package gorm provides GORM-based run history storage for smallmerge.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: merge run headers
		{
			ID: "001_merge_runs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&MergeRun{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("merge_runs")
			},
		},

		// Migration 002: output families of each run
		{
			ID: "002_run_families",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&RunFamily{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("run_families")
			},
		},
	})

	return m.Migrate()
}
