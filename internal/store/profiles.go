package store

import (
	"context"
	"fmt"

	"agri-price/internal/apierr"
	"agri-price/internal/models"

	"github.com/google/uuid"
)

var profileRoles = map[string]bool{"farmer": true, "trader": true, "buyer": true}

// GetProfile returns the caller's profile, creating an empty one on first
// access.
func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	if userID == uuid.Nil {
		return nil, apierr.Unauthorized("sign in to view your profile")
	}
	p := models.Profile{UserID: userID}
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).FirstOrCreate(&p).Error; err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &p, nil
}

// ProfileUpdate carries the editable fields; nil fields are left alone.
type ProfileUpdate struct {
	FullName          *string `json:"full_name"`
	Phone             *string `json:"phone"`
	Location          *string `json:"location"`
	AvatarURL         *string `json:"avatar_url"`
	PreferredLanguage *string `json:"preferred_language"`
	Role              *string `json:"role"`
}

func (s *Store) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (*models.Profile, error) {
	if in.Role != nil && !profileRoles[*in.Role] {
		return nil, apierr.Invalid("role must be farmer, trader or buyer")
	}
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	set := func(col string, v *string) {
		if v != nil {
			updates[col] = *v
		}
	}
	set("full_name", in.FullName)
	set("phone", in.Phone)
	set("location", in.Location)
	set("avatar_url", in.AvatarURL)
	set("preferred_language", in.PreferredLanguage)
	set("role", in.Role)
	if len(updates) == 0 {
		return p, nil
	}
	if err := s.db.WithContext(ctx).Model(p).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}
