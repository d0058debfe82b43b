package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"outreach-engine/internal/config"
	"outreach-engine/internal/models"
)

func ConnectPostgres(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	// TranslateError maps driver unique-violation errors onto
	// gorm.ErrDuplicatedKey, which the store turns into its sentinels.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Connected to PostgreSQL")

	// Auto Migrate
	err = db.AutoMigrate(
		&models.User{},
		&models.TierChange{},
		&models.PaymentEvent{},
		&models.CommissionEntry{},
		&models.BonusGrant{},
		&models.PointsBalance{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
