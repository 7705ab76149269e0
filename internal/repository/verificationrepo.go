package repository

import (
	"context"
	"time"

	"github.com/and161185/bloodlink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// VerificationRepository stores verification proofs.
type VerificationRepository interface {
	// Create inserts a PENDING proof. A second pending proof for the same
	// request returns errs.ErrConflict; a missing request errs.ErrNotFound.
	Create(ctx context.Context, p *model.VerificationProof) error

	// GetByID returns a proof.
	GetByID(ctx context.Context, id uuid.UUID) (*model.VerificationProof, error)

	// List returns all proofs, newest first.
	List(ctx context.Context) ([]model.VerificationProof, error)

	// Confirm approves a PENDING proof, fulfills its request and creates the
	// impact record if absent, all in one transaction. A proof that is not
	// PENDING returns errs.ErrConflict and changes nothing.
	Confirm(ctx context.Context, id uuid.UUID, at time.Time) (model.VerificationProof, model.Fulfillment, error)

	// Reject marks a PENDING proof REJECTED; the request is untouched.
	Reject(ctx context.Context, id uuid.UUID, at time.Time) (model.VerificationProof, error)
}
