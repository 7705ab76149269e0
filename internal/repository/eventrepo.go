package repository

import (
	"context"

	"github.com/and161185/bloodlink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// EventRepository stores donation drives.
type EventRepository interface {
	// Create inserts an event.
	Create(ctx context.Context, e *model.DonationEvent) error
	// SetActive toggles is_active.
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*model.DonationEvent, error)
	// List returns all events ordered by start time.
	List(ctx context.Context) ([]model.DonationEvent, error)
}

// Store bundles every repository a server needs.
type Store struct {
	Users         UserRepository
	Requests      RequestRepository
	Verifications VerificationRepository
	Donors        DonorRepository
	Events        EventRepository
}
