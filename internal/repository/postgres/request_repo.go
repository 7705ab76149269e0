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

const requestCols = `id, tracking_code, requester_id, patient_name, blood_type, units_needed,
hospital, location, urgency, needed_by, contact_name, contact_phone, notes, status,
created_at, updated_at`

// RequestRepo implements RequestRepository using PostgreSQL.
type RequestRepo struct{ db *DB }

// NewRequestRepo constructs a request repository.
func NewRequestRepo(db *DB) *RequestRepo { return &RequestRepo{db: db} }

// Create inserts a request; a tracking code collision yields errs.ErrAlreadyExists.
func (r *RequestRepo) Create(ctx context.Context, req *model.BloodRequest) error {
	const q = `
INSERT INTO requests (id, tracking_code, requester_id, patient_name, blood_type, units_needed,
hospital, location, urgency, needed_by, contact_name, contact_phone, notes, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING created_at, updated_at`
	if req.ID == uuid.Nil {
		req.ID = uuid.Must(uuid.NewV4())
	}
	err := r.db.Pool.QueryRow(ctx, q,
		req.ID, req.TrackingCode, req.RequesterID, req.PatientName, string(req.BloodType), req.UnitsNeeded,
		req.Hospital, req.Location, string(req.Urgency), req.NeededBy, req.ContactName, req.ContactPhone,
		req.Notes, string(req.Status),
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID returns a request by id.
func (r *RequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.BloodRequest, error) {
	return oneRequest(r.db.Pool.QueryRow(ctx, `SELECT `+requestCols+` FROM requests WHERE id=$1`, id))
}

// GetByTrackingCode returns a request by tracking code.
func (r *RequestRepo) GetByTrackingCode(ctx context.Context, code string) (*model.BloodRequest, error) {
	return oneRequest(r.db.Pool.QueryRow(ctx, `SELECT `+requestCols+` FROM requests WHERE tracking_code=$1`, code))
}

// List returns all requests, newest first.
func (r *RequestRepo) List(ctx context.Context) ([]model.BloodRequest, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+requestCols+` FROM requests ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.BloodRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// SetStatus updates the status and, for FULFILLED, inserts the impact record
// in the same transaction unless one exists.
func (r *RequestRepo) SetStatus(ctx context.Context, id uuid.UUID, status model.RequestStatus, at time.Time) (model.Fulfillment, error) {
	var out model.Fulfillment
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = setStatusTx(ctx, tx, id, status, uuid.NullUUID{}, at)
		return err
	})
	return out, err
}

// ListImpact returns all impact records, newest first.
func (r *RequestRepo) ListImpact(ctx context.Context) ([]model.ImpactRecord, error) {
	const q = `
SELECT id, request_id, patient_name, blood_type, hospital, location, units, donor_id, created_at
FROM lives_saved ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ImpactRecord, 0)
	for rows.Next() {
		var (
			rec model.ImpactRecord
			bt  string
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.PatientName, &bt, &rec.Hospital,
			&rec.Location, &rec.Units, &rec.DonorID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.BloodType = model.BloodType(bt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// setStatusTx is shared by SetStatus and verification confirmation.
func setStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status model.RequestStatus, donor uuid.NullUUID, at time.Time) (model.Fulfillment, error) {
	const upd = `UPDATE requests SET status=$2, updated_at=$3 WHERE id=$1 RETURNING ` + requestCols
	const ins = `
INSERT INTO lives_saved (id, request_id, patient_name, blood_type, hospital, location, units, donor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (request_id) DO NOTHING`

	req, err := oneRequest(tx.QueryRow(ctx, upd, id, string(status), at))
	if err != nil {
		return model.Fulfillment{}, err
	}
	out := model.Fulfillment{Request: *req}
	if status != model.StatusFulfilled {
		return out, nil
	}

	rec := model.ImpactFor(uuid.Must(uuid.NewV4()), *req, donor, at)
	tag, err := tx.Exec(ctx, ins, rec.ID, rec.RequestID, rec.PatientName, string(rec.BloodType),
		rec.Hospital, rec.Location, rec.Units, rec.DonorID, rec.CreatedAt)
	if err != nil {
		return model.Fulfillment{}, err
	}
	if tag.RowsAffected() == 1 {
		out.Impact = &rec
		out.ImpactCreated = true
	}
	return out, nil
}

func oneRequest(row pgx.Row) (*model.BloodRequest, error) {
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func scanRequest(row rowScanner) (model.BloodRequest, error) {
	var (
		req                 model.BloodRequest
		bt, urgency, status string
	)
	err := row.Scan(&req.ID, &req.TrackingCode, &req.RequesterID, &req.PatientName, &bt, &req.UnitsNeeded,
		&req.Hospital, &req.Location, &urgency, &req.NeededBy, &req.ContactName, &req.ContactPhone,
		&req.Notes, &status, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return model.BloodRequest{}, err
	}
	req.BloodType = model.BloodType(bt)
	req.Urgency = model.Urgency(urgency)
	req.Status = model.RequestStatus(status)
	return req, nil
}
