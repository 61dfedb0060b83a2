// Package postgres implements the port.Store aggregate on PostgreSQL
// using gorm. Row-level locks back transfer atomicity and a session
// advisory lock serializes the expiry sweep across instances.
package postgres

import (
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL and runs schema migration.
func Open(databaseURL, logLevel string) (*gorm.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	logMode := logger.Silent
	if logLevel == "debug" {
		logMode = logger.Info
	}

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger:                 logger.Default.LogMode(logMode),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	if err := db.AutoMigrate(
		&userModel{},
		&cardModel{},
		&transferModel{},
		&refreshTokenModel{},
		&cardApplicationModel{},
		&cardBlockRequestModel{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
