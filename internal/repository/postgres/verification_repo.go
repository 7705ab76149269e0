package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
)

const proofCols = `id, request_id, donor_id, prescription_ref, blood_bag_ref, status, submitted_at, confirmed_at`

// VerificationRepo implements VerificationRepository using PostgreSQL.
type VerificationRepo struct{ db *DB }

// NewVerificationRepo constructs a verification repository.
func NewVerificationRepo(db *DB) *VerificationRepo { return &VerificationRepo{db: db} }

// Create inserts a PENDING proof. The partial unique index on pending proofs
// turns a second submission into errs.ErrConflict.
func (r *VerificationRepo) Create(ctx context.Context, p *model.VerificationProof) error {
	const q = `
INSERT INTO verifications (id, request_id, donor_id, prescription_ref, blood_bag_ref, status)
VALUES ($1, $2, $3, $4, $5, 'PENDING')
RETURNING submitted_at`
	if p.ID == uuid.Nil {
		p.ID = uuid.Must(uuid.NewV4())
	}
	err := r.db.Pool.QueryRow(ctx, q, p.ID, p.RequestID, p.DonorID, p.PrescriptionRef, p.BloodBagRef).Scan(&p.SubmittedAt)
	switch {
	case isUniqueViolation(err):
		return errs.ErrConflict
	case isForeignKeyViolation(err):
		return errs.ErrNotFound
	case err != nil:
		return err
	}
	p.Status = model.ProofPending
	p.ConfirmedAt = nil
	return nil
}

// GetByID returns a proof.
func (r *VerificationRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.VerificationProof, error) {
	return oneProof(r.db.Pool.QueryRow(ctx, `SELECT `+proofCols+` FROM verifications WHERE id=$1`, id))
}

// List returns all proofs, newest first.
func (r *VerificationRepo) List(ctx context.Context) ([]model.VerificationProof, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+proofCols+` FROM verifications ORDER BY submitted_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.VerificationProof, 0)
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Confirm approves the proof and fulfills its request in one transaction.
func (r *VerificationRepo) Confirm(ctx context.Context, id uuid.UUID, at time.Time) (model.VerificationProof, model.Fulfillment, error) {
	const approve = `UPDATE verifications SET status='APPROVED', confirmed_at=$2 WHERE id=$1`

	var (
		proof model.VerificationProof
		ful   model.Fulfillment
	)
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		p, err := lockPending(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, approve, id, at); err != nil {
			return err
		}
		p.Status = model.ProofApproved
		p.ConfirmedAt = &at
		proof = *p

		ful, err = setStatusTx(ctx, tx, p.RequestID, model.StatusFulfilled, p.DonorID, at)
		return err
	})
	if err != nil {
		return model.VerificationProof{}, model.Fulfillment{}, err
	}
	return proof, ful, nil
}

// Reject marks a PENDING proof REJECTED.
func (r *VerificationRepo) Reject(ctx context.Context, id uuid.UUID, at time.Time) (model.VerificationProof, error) {
	const reject = `UPDATE verifications SET status='REJECTED', confirmed_at=$2 WHERE id=$1`

	var proof model.VerificationProof
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		p, err := lockPending(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, reject, id, at); err != nil {
			return err
		}
		p.Status = model.ProofRejected
		p.ConfirmedAt = &at
		proof = *p
		return nil
	})
	if err != nil {
		return model.VerificationProof{}, err
	}
	return proof, nil
}

// lockPending loads the proof FOR UPDATE and requires it to be PENDING.
func lockPending(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.VerificationProof, error) {
	p, err := oneProof(tx.QueryRow(ctx, `SELECT `+proofCols+` FROM verifications WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if p.Status != model.ProofPending {
		return nil, errs.ErrConflict
	}
	return p, nil
}

func oneProof(row pgx.Row) (*model.VerificationProof, error) {
	p, err := scanProof(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanProof(row rowScanner) (model.VerificationProof, error) {
	var (
		p      model.VerificationProof
		status string
	)
	if err := row.Scan(&p.ID, &p.RequestID, &p.DonorID, &p.PrescriptionRef, &p.BloodBagRef,
		&status, &p.SubmittedAt, &p.ConfirmedAt); err != nil {
		return model.VerificationProof{}, err
	}
	p.Status = model.ProofStatus(status)
	return p, nil
}
