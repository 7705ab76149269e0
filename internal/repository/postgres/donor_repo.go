package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

const profileCols = `id, role, full_name, blood_type, location, phone, is_available, is_verified,
donation_count, last_donation_date, social_url, rating_avg, rating_count, last_profile_update, updated_at`

// DonorRepo implements DonorRepository using PostgreSQL.
type DonorRepo struct{ db *DB }

// NewDonorRepo constructs a donor repository.
func NewDonorRepo(db *DB) *DonorRepo { return &DonorRepo{db: db} }

// FindAvailable runs one matcher pass. Location is a case-insensitive substring match.
func (r *DonorRepo) FindAvailable(ctx context.Context, q repository.DonorQuery) ([]model.DonorProfile, error) {
	const sel = `SELECT ` + profileCols + `
FROM profiles
WHERE role='donor' AND is_available AND blood_type=$1
  AND ($2 = '' OR location ILIKE '%' || $2 || '%' ESCAPE '\')
ORDER BY donation_count DESC, full_name ASC
LIMIT $3`
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	return r.list(ctx, sel, string(q.BloodType), escapeLike(q.Location), limit)
}

// GetProfile returns a profile of any role.
func (r *DonorRepo) GetProfile(ctx context.Context, id uuid.UUID) (*model.DonorProfile, error) {
	return oneProfile(r.db.Pool.QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id=$1`, id))
}

// ListDonors returns every donor profile, most donations first.
func (r *DonorRepo) ListDonors(ctx context.Context) ([]model.DonorProfile, error) {
	return r.list(ctx, `SELECT `+profileCols+` FROM profiles WHERE role='donor' ORDER BY donation_count DESC, full_name ASC`)
}

// UpdateProfileIfCooledDown applies the edit only when the last update is at
// least window old. The guard and the stamp share one statement.
func (r *DonorRepo) UpdateProfileIfCooledDown(ctx context.Context, id uuid.UUID, edit model.ProfileEdit, now time.Time, window time.Duration) (*model.DonorProfile, bool, error) {
	const upd = `
UPDATE profiles SET
  full_name = COALESCE($2, full_name),
  blood_type = COALESCE($3, blood_type),
  location = COALESCE($4, location),
  phone = COALESCE($5, phone),
  social_url = COALESCE($6, social_url),
  last_profile_update = $7,
  updated_at = $7
WHERE id=$1 AND (last_profile_update IS NULL OR last_profile_update <= $8)
RETURNING ` + profileCols
	const exists = `SELECT 1 FROM profiles WHERE id=$1`

	p, err := oneProfile(r.db.Pool.QueryRow(ctx, upd, id,
		edit.FullName, edit.BloodType, edit.Location, edit.Phone, edit.SocialURL,
		now, now.Add(-window)))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, false, err
	}
	var one int
	if err := r.db.Pool.QueryRow(ctx, exists, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, errs.ErrNotFound
		}
		return nil, false, err
	}
	return nil, false, nil
}

// SetAvailability toggles is_available.
func (r *DonorRepo) SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*model.DonorProfile, error) {
	const q = `UPDATE profiles SET is_available=$2, updated_at=now() WHERE id=$1 RETURNING ` + profileCols
	return oneProfile(r.db.Pool.QueryRow(ctx, q, id, available))
}

// SetVerified sets is_verified.
func (r *DonorRepo) SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*model.DonorProfile, error) {
	const q = `UPDATE profiles SET is_verified=$2, updated_at=now() WHERE id=$1 RETURNING ` + profileCols
	return oneProfile(r.db.Pool.QueryRow(ctx, q, id, verified))
}

// RecordDonation bumps donation_count; last_donation_date never moves backwards.
func (r *DonorRepo) RecordDonation(ctx context.Context, id uuid.UUID, at time.Time) (*model.DonorProfile, error) {
	const q = `
UPDATE profiles SET
  donation_count = donation_count + 1,
  last_donation_date = GREATEST(last_donation_date, $2),
  updated_at = now()
WHERE id=$1
RETURNING ` + profileCols
	return oneProfile(r.db.Pool.QueryRow(ctx, q, id, at))
}

// Rate folds score into the running average.
func (r *DonorRepo) Rate(ctx context.Context, id uuid.UUID, score int) (*model.DonorProfile, error) {
	const q = `
UPDATE profiles SET
  rating_avg = (rating_avg * rating_count + $2) / (rating_count + 1),
  rating_count = rating_count + 1,
  updated_at = now()
WHERE id=$1
RETURNING ` + profileCols
	return oneProfile(r.db.Pool.QueryRow(ctx, q, id, float64(score)))
}

func (r *DonorRepo) list(ctx context.Context, q string, args ...any) ([]model.DonorProfile, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.DonorProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func oneProfile(row pgx.Row) (*model.DonorProfile, error) {
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanProfile(row rowScanner) (model.DonorProfile, error) {
	var (
		p        model.DonorProfile
		role, bt string
	)
	err := row.Scan(&p.ID, &role, &p.FullName, &bt, &p.Location, &p.Phone, &p.IsAvailable, &p.IsVerified,
		&p.DonationCount, &p.LastDonationDate, &p.SocialURL, &p.RatingAvg, &p.RatingCount,
		&p.LastProfileUpdate, &p.UpdatedAt)
	if err != nil {
		return model.DonorProfile{}, err
	}
	p.Role = model.Role(role)
	p.BloodType = model.BloodType(bt)
	return p, nil
}
