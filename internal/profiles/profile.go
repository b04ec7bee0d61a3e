package profiles

import (
	"strings"
	"time"
)

// Role distinguishes the two sides of the marketplace.
type Role string

const (
	RoleProfessional Role = "professional"
	RoleEmployer     Role = "employer"
)

// Tier drives quota limits for AI-backed operations.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

const (
	SubscriptionFree      = "free"
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
)

// Profile is the user aggregate. It owns the quota window columns consumed by the quota store.
type Profile struct {
	ID                    string    `gorm:"column:id;primaryKey;size:190;not null"`
	Role                  Role      `gorm:"column:role;size:32;not null;default:professional"`
	Email                 string    `gorm:"column:email;size:320"`
	FirstName             string    `gorm:"column:first_name;size:190"`
	LastName              string    `gorm:"column:last_name;size:190"`
	Skills                string    `gorm:"column:skills;type:text"`
	Experience            string    `gorm:"column:experience;type:text"`
	Education             string    `gorm:"column:education;type:text"`
	PhoneNumber           string    `gorm:"column:phone_number;size:64"`
	SubscriptionStatus    string    `gorm:"column:subscription_status;size:32;not null;default:free"`
	SubscriptionPlan      *string   `gorm:"column:subscription_plan;size:64"`
	SubscriptionExpiresAt *int64    `gorm:"column:subscription_expires_at_s"`
	QuotaWindowStartedMs  int64     `gorm:"column:quota_window_started_ms;not null;default:0"`
	QuotaCallsInWindow    int       `gorm:"column:quota_calls_in_window;not null;default:0"`
	CVObjectKey           string    `gorm:"column:cv_object_key;size:512"`
	CVFilename            string    `gorm:"column:cv_filename;size:255"`
	CVUploadedAtSeconds   int64     `gorm:"column:cv_uploaded_at_s;not null;default:0"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// Tier resolves the quota tier at the provided instant. Premium requires an active,
// unexpired subscription.
func (p Profile) Tier(now time.Time) Tier {
	if p.SubscriptionStatus != SubscriptionActive || p.SubscriptionExpiresAt == nil {
		return TierFree
	}
	if *p.SubscriptionExpiresAt > now.Unix() {
		return TierPremium
	}
	return TierFree
}

// Signature is the profile text used for analysis prompts and cache keys.
type Signature struct {
	Skills     string `json:"skills"`
	Experience string `json:"experience"`
	Education  string `json:"education"`
}

// Signature extracts the profile text fields.
func (p Profile) Signature() Signature {
	return Signature{Skills: p.Skills, Experience: p.Experience, Education: p.Education}
}

// IsBlank reports whether every profile text field is empty.
func (s Signature) IsBlank() bool {
	return normalize(s.Skills) == "" && normalize(s.Experience) == "" && normalize(s.Education) == ""
}

// CVFields are profile fields extracted from an uploaded CV.
type CVFields struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Skills         string `json:"skills"`
	WorkExperience string `json:"work_experience"`
	Education      string `json:"education"`
	PhoneNumber    string `json:"phone_number"`
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
