package repository

import (
	"context"
	"time"

	"github.com/and161185/bloodlink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RequestRepository stores blood requests and their impact records.
type RequestRepository interface {
	// Create inserts a request. A tracking code collision returns errs.ErrAlreadyExists.
	Create(ctx context.Context, r *model.BloodRequest) error

	// GetByID returns a request by internal id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.BloodRequest, error)

	// GetByTrackingCode returns a request by its shareable code.
	GetByTrackingCode(ctx context.Context, code string) (*model.BloodRequest, error)

	// List returns all requests, newest first.
	List(ctx context.Context) ([]model.BloodRequest, error)

	// SetStatus persists a status and, for FULFILLED, creates the impact
	// record in the same transaction unless one already exists.
	SetStatus(ctx context.Context, id uuid.UUID, status model.RequestStatus, at time.Time) (model.Fulfillment, error)

	// ListImpact returns all impact records, newest first.
	ListImpact(ctx context.Context) ([]model.ImpactRecord, error)
}
