package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrProfileNotFound indicates no profile exists for the identifier.
	ErrProfileNotFound = errors.New("profiles: profile not found")
	// ErrInvalidIdentity indicates the caller did not carry a usable identifier.
	ErrInvalidIdentity = errors.New("profiles: invalid identity")
)

// ServiceConfig describes the dependencies required for profile management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages profile rows.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("profiles: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// EnsureProfile returns the profile for subject, creating an empty professional profile the
// first time the subject is seen.
func (s *Service) EnsureProfile(ctx context.Context, subject, email string) (Profile, error) {
	subject = normalize(subject)
	if subject == "" {
		return Profile{}, ErrInvalidIdentity
	}
	candidate := Profile{
		ID:                 subject,
		Role:               RoleProfessional,
		Email:              normalize(email),
		SubscriptionStatus: SubscriptionFree,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&candidate).Error
	if err != nil {
		return Profile{}, err
	}
	return s.Get(ctx, subject)
}

// Get loads a profile by id.
func (s *Service) Get(ctx context.Context, id string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// ApplyCVExtraction overwrites profile fields with the non-empty values extracted from a CV.
func (s *Service) ApplyCVExtraction(ctx context.Context, id string, fields CVFields) (Profile, error) {
	updates := map[string]interface{}{}
	setIfPresent := func(column, value string) {
		if trimmed := normalize(value); trimmed != "" {
			updates[column] = trimmed
		}
	}
	setIfPresent("first_name", fields.FirstName)
	setIfPresent("last_name", fields.LastName)
	setIfPresent("skills", fields.Skills)
	setIfPresent("experience", fields.WorkExperience)
	setIfPresent("education", fields.Education)
	setIfPresent("phone_number", fields.PhoneNumber)

	if len(updates) > 0 {
		result := s.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return Profile{}, result.Error
		}
		if result.RowsAffected == 0 {
			return Profile{}, ErrProfileNotFound
		}
	}
	return s.Get(ctx, id)
}

// RecordCVUpload stores the location of the archived CV on the profile.
func (s *Service) RecordCVUpload(ctx context.Context, id, objectKey, filename string) error {
	result := s.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", id).Updates(map[string]interface{}{
		"cv_object_key":    objectKey,
		"cv_filename":      filename,
		"cv_uploaded_at_s": s.now().UTC().Unix(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ExpireSubscriptions downgrades active subscriptions whose expiry has passed and returns
// the number of profiles changed.
func (s *Service) ExpireSubscriptions(ctx context.Context) (int64, error) {
	now := s.now().UTC().Unix()
	result := s.db.WithContext(ctx).Model(&Profile{}).
		Where("subscription_status = ? AND subscription_expires_at_s IS NOT NULL AND subscription_expires_at_s <= ?", SubscriptionActive, now).
		Updates(map[string]interface{}{
			"subscription_status":       SubscriptionFree,
			"subscription_plan":         gorm.Expr("NULL"),
			"subscription_expires_at_s": gorm.Expr("NULL"),
		})
	if result.Error != nil {
		s.logger.Error("subscription expiry failed", zap.Error(result.Error))
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.logger.Info("subscriptions expired", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
