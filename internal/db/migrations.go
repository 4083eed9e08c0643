package db

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/lcnr/docker-queue/internal/models"
)

func Migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "20250901_create_launch_records_table",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.LaunchRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("launch_records")
			},
		},
	}
}

// Migrate applies every pending migration.
func Migrate(gdb *gorm.DB) error {
	return gormigrate.New(gdb, gormigrate.DefaultOptions, Migrations()).Migrate()
}
