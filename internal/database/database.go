package database

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"agri-price/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Initialize opens the database named by databaseURL and migrates the schema.
// postgres:// URLs use the postgres driver, sqlite: URLs use sqlite, anything
// else is treated as a MySQL DSN.
func Initialize(databaseURL string) (*gorm.DB, error) {
	dialector, kind := dialectorFor(databaseURL)

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", kind, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if kind == "sqlite" {
		// one connection so :memory: databases are shared
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Printf("Database initialized successfully (%s)", kind)
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// IsPostgres reports whether databaseURL selects the postgres driver.
func IsPostgres(databaseURL string) bool {
	_, kind := dialectorFor(databaseURL)
	return kind == "postgres"
}

func dialectorFor(databaseURL string) (gorm.Dialector, string) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.Open(databaseURL), "postgres"
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite:")), "sqlite"
	default:
		return mysql.Open(databaseURL), "mysql"
	}
}
