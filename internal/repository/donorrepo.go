package repository

import (
	"context"
	"time"

	"github.com/and161185/bloodlink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// DonorQuery filters available donors. An empty Location disables the location filter.
type DonorQuery struct {
	BloodType model.BloodType
	Location  string
	Limit     int
}

// DonorRepository provides access to profiles.
type DonorRepository interface {
	// FindAvailable returns available donors matching q ordered by donation_count desc.
	FindAvailable(ctx context.Context, q DonorQuery) ([]model.DonorProfile, error)

	// GetProfile returns a profile of any role.
	GetProfile(ctx context.Context, id uuid.UUID) (*model.DonorProfile, error)

	// ListDonors returns all role=donor profiles, most donations first.
	ListDonors(ctx context.Context) ([]model.DonorProfile, error)

	// UpdateProfileIfCooledDown applies edit and stamps last_profile_update=now
	// in one statement, only when the previous update is at least window old.
	// It returns (nil, false, nil) when the cooldown blocked the edit.
	UpdateProfileIfCooledDown(ctx context.Context, id uuid.UUID, edit model.ProfileEdit, now time.Time, window time.Duration) (*model.DonorProfile, bool, error)

	// SetAvailability toggles is_available.
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*model.DonorProfile, error)

	// SetVerified sets is_verified (operator action).
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*model.DonorProfile, error)

	// RecordDonation increments donation_count and advances last_donation_date (operator action).
	RecordDonation(ctx context.Context, id uuid.UUID, at time.Time) (*model.DonorProfile, error)

	// Rate folds a 1..5 score into the rating aggregate.
	Rate(ctx context.Context, id uuid.UUID, score int) (*model.DonorProfile, error)
}
