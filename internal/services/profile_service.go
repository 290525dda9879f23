package services

import (
	"context"
	"fmt"

	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProfileService struct {
	DB *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{DB: db}
}

// Get returns the caller's profile, or nil when none has been saved.
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	// A missing profile is not an error, so no First here.
	var p models.Profile
	res := s.DB.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&p)
	if res.Error != nil {
		return nil, fmt.Errorf("get profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &p, nil
}

// Upsert creates or replaces the caller's profile. Usage counters and plan
// are not client-writable and survive the update.
func (s *ProfileService) Upsert(ctx context.Context, userID string, p *models.Profile) (*models.Profile, error) {
	p.UserID = userID
	p.Preferences = p.Preferences.Normalize()
	if p.Plan == "" {
		p.Plan = "free"
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"full_name", "email", "phone", "resume_content",
			"resume_file_name", "preferences", "updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return s.Get(ctx, userID)
}

// Preferences returns the caller's scoring preferences, or nil when there is
// no profile.
func (s *ProfileService) Preferences(ctx context.Context, userID string) (*models.UserPreferences, error) {
	p, err := s.Get(ctx, userID)
	if err != nil || p == nil {
		return nil, err
	}
	prefs := p.Preferences.Normalize()
	return &prefs, nil
}
