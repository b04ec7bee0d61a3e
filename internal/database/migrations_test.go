package database

import (
	"path/filepath"
	"testing"

	"github.com/kormo-connect/backend/internal/profiles"
	"go.uber.org/zap"
)

func TestOpenMigratesSchemaAndBackfillsProfiles(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "migration.db")

	database, err := Open(DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	legacy := []map[string]interface{}{
		{"id": "legacy-1", "role": " Employer ", "subscription_status": ""},
		{"id": "legacy-2", "role": "recruiter", "subscription_status": "active"},
	}
	for _, row := range legacy {
		if err := database.Table("profiles").Create(row).Error; err != nil {
			t.Fatalf("failed to insert legacy profile: %v", err)
		}
	}
	if err := database.Where("name IN ?", []string{migrationBackfillSubscriptionStatus, migrationNormalizeRoles}).Delete(&migrationRecord{}).Error; err != nil {
		t.Fatalf("failed to reset migration ledger: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	var first, second profiles.Profile
	if err := database.Where("id = ?", "legacy-1").Take(&first).Error; err != nil {
		t.Fatalf("failed to reload profile: %v", err)
	}
	if err := database.Where("id = ?", "legacy-2").Take(&second).Error; err != nil {
		t.Fatalf("failed to reload profile: %v", err)
	}
	if first.SubscriptionStatus != profiles.SubscriptionFree || first.Role != profiles.RoleEmployer {
		t.Fatalf("unexpected migrated profile %+v", first)
	}
	if second.SubscriptionStatus != profiles.SubscriptionActive || second.Role != profiles.RoleProfessional {
		t.Fatalf("unexpected migrated profile %+v", second)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeRoles).Take(&record).Error; err != nil {
		t.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		t.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn", nil); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
	if _, err := Open(DriverSQLite, " ", nil); err == nil {
		t.Fatalf("expected empty dsn to fail")
	}
}
