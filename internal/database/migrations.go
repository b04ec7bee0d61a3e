package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillSubscriptionStatus = "2026-09-14_backfill_subscription_status"
	migrationNormalizeRoles             = "2026-09-21_normalize_profile_roles"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillSubscriptionStatus, apply: backfillSubscriptionStatus},
		{name: migrationNormalizeRoles, apply: normalizeProfileRoles},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows imported before subscriptions existed carry an empty status.
func backfillSubscriptionStatus(db *gorm.DB) error {
	return db.Exec("UPDATE profiles SET subscription_status = ? WHERE subscription_status IS NULL OR subscription_status = ''", "free").Error
}

func normalizeProfileRoles(db *gorm.DB) error {
	if err := db.Exec("UPDATE profiles SET role = LOWER(TRIM(role)) WHERE role <> LOWER(TRIM(role))").Error; err != nil {
		return err
	}
	return db.Exec("UPDATE profiles SET role = ? WHERE role NOT IN (?, ?)", "professional", "professional", "employer").Error
}
