package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens postgres when databaseURL is a postgres URL, otherwise the
// sqlite file at dbPath.
func Connect(databaseURL, dbPath string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		dialector = postgres.Open(databaseURL)
	case databaseURL != "":
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %q", databaseURL)
	default:
		if dbPath == "" {
			dbPath = "docker-queue.db"
		}
		dialector = sqlite.Open(dbPath)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return gdb, nil
}

func DSN(host string, port int, user, pass, dbname string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, pass, host, port, dbname)
}
