package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var requestColumns = []string{"id", "tracking_code", "requester_id", "patient_name", "blood_type", "units_needed",
	"hospital", "location", "urgency", "needed_by", "contact_name", "contact_phone", "notes", "status",
	"created_at", "updated_at"}

func requestRows(id uuid.UUID, status string) *pgxmock.Rows {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(requestColumns).AddRow(
		id, "BL-ABCD1234", nil, "Rahim", "O-", 2,
		"DMCH", "Dhaka", "CRITICAL", ts, "Karim", "+8801", "", status,
		ts, ts)
}

var profileColumns = []string{"id", "role", "full_name", "blood_type", "location", "phone", "is_available",
	"is_verified", "donation_count", "last_donation_date", "social_url", "rating_avg", "rating_count",
	"last_profile_update", "updated_at"}

func profileRows(id uuid.UUID, name string, count int) *pgxmock.Rows {
	return pgxmock.NewRows(profileColumns).AddRow(
		id, "donor", name, "O-", "Dhaka", "+8801", true,
		true, count, nil, "", 4.5, 2,
		nil, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func TestRequestRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRequestRepo(db)
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	req := &model.BloodRequest{TrackingCode: "BL-ABCD1234", BloodType: "O-", Urgency: model.UrgencyNormal, Status: model.StatusPending}
	mock.ExpectQuery(`INSERT INTO requests`).
		WithArgs(pgxmock.AnyArg(), "BL-ABCD1234", uuid.NullUUID{}, "", "O-", 0,
			"", "", "NORMAL", time.Time{}, "", "", "", "PENDING").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(ts, ts))
	require.NoError(t, r.Create(ctx, req))
	require.NotEqual(t, uuid.Nil, req.ID)
	require.Equal(t, ts, req.CreatedAt)

	dup := &model.BloodRequest{TrackingCode: "BL-ABCD1234"}
	mock.ExpectQuery(`INSERT INTO requests`).WithArgs(anyArgs(14)...).WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, dup), errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepo_GetByTrackingCode(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRequestRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM requests WHERE tracking_code=`).WithArgs("BL-ABCD1234").
		WillReturnRows(requestRows(id, "PENDING"))
	got, err := r.GetByTrackingCode(context.Background(), "BL-ABCD1234")
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, model.UrgencyCritical, got.Urgency)
	require.False(t, got.RequesterID.Valid)

	mock.ExpectQuery(`FROM requests WHERE tracking_code=`).WithArgs("BL-NOPE0000").WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByTrackingCode(context.Background(), "BL-NOPE0000")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRequestRepo_SetStatusFulfilledInsertsImpactOnce(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRequestRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE requests SET status=`).WithArgs(id, "FULFILLED", at).
		WillReturnRows(requestRows(id, "FULFILLED"))
	impactArgs := []any{pgxmock.AnyArg(), id, "Rahim", "O-", "DMCH", "Dhaka", 2, uuid.NullUUID{}, at}
	mock.ExpectExec(`INSERT INTO lives_saved .* ON CONFLICT \(request_id\) DO NOTHING`).
		WithArgs(impactArgs...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	f, err := r.SetStatus(ctx, id, model.StatusFulfilled, at)
	require.NoError(t, err)
	require.True(t, f.ImpactCreated)
	require.Equal(t, id, f.Impact.RequestID)
	require.Equal(t, 2, f.Impact.Units)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE requests SET status=`).WithArgs(id, "FULFILLED", at).
		WillReturnRows(requestRows(id, "FULFILLED"))
	mock.ExpectExec(`INSERT INTO lives_saved`).WithArgs(impactArgs...).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	f, err = r.SetStatus(ctx, id, model.StatusFulfilled, at)
	require.NoError(t, err)
	require.False(t, f.ImpactCreated)
	require.Nil(t, f.Impact)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepo_SetStatusMissingRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRequestRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE requests SET status=`).WithArgs(id, "APPROVED", pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := r.SetStatus(context.Background(), id, model.StatusApproved, time.Now())
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

var proofColumns = []string{"id", "request_id", "donor_id", "prescription_ref", "blood_bag_ref", "status", "submitted_at", "confirmed_at"}

func TestVerificationRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVerificationRepo(db)
	ctx := context.Background()

	p := &model.VerificationProof{RequestID: uuid.Must(uuid.NewV4()), PrescriptionRef: "rx", BloodBagRef: "bag"}
	mock.ExpectQuery(`INSERT INTO verifications`).
		WithArgs(pgxmock.AnyArg(), p.RequestID, uuid.NullUUID{}, "rx", "bag").
		WillReturnRows(pgxmock.NewRows([]string{"submitted_at"}).AddRow(time.Now()))
	require.NoError(t, r.Create(ctx, p))
	require.Equal(t, model.ProofPending, p.Status)

	mock.ExpectQuery(`INSERT INTO verifications`).WithArgs(anyArgs(5)...).WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, &model.VerificationProof{RequestID: p.RequestID}), errs.ErrConflict)

	mock.ExpectQuery(`INSERT INTO verifications`).WithArgs(anyArgs(5)...).WillReturnError(&pgconn.PgError{Code: "23503"})
	require.ErrorIs(t, r.Create(ctx, &model.VerificationProof{RequestID: uuid.Must(uuid.NewV4())}), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepo_ConfirmAtomic(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVerificationRepo(db)
	ctx := context.Background()
	proofID := uuid.Must(uuid.NewV4())
	reqID := uuid.Must(uuid.NewV4())
	donor := uuid.Must(uuid.NewV4())
	at := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM verifications WHERE id=.* FOR UPDATE`).WithArgs(proofID).
		WillReturnRows(pgxmock.NewRows(proofColumns).AddRow(proofID, reqID, donor, "rx", "bag", "PENDING", at, nil))
	mock.ExpectExec(`UPDATE verifications SET status='APPROVED'`).WithArgs(proofID, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`UPDATE requests SET status=`).WithArgs(reqID, "FULFILLED", at).
		WillReturnRows(requestRows(reqID, "FULFILLED"))
	mock.ExpectExec(`INSERT INTO lives_saved`).
		WithArgs(pgxmock.AnyArg(), reqID, "Rahim", "O-", "DMCH", "Dhaka", 2, uuid.NullUUID{UUID: donor, Valid: true}, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	proof, f, err := r.Confirm(ctx, proofID, at)
	require.NoError(t, err)
	require.Equal(t, model.ProofApproved, proof.Status)
	require.Equal(t, at, *proof.ConfirmedAt)
	require.True(t, f.ImpactCreated)
	require.Equal(t, donor, f.Impact.DonorID.UUID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepo_ConfirmNonPendingIsConflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVerificationRepo(db)
	proofID := uuid.Must(uuid.NewV4())
	at := time.Now()

	for _, status := range []string{"APPROVED", "REJECTED"} {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(proofID).
			WillReturnRows(pgxmock.NewRows(proofColumns).AddRow(proofID, uuid.Must(uuid.NewV4()), nil, "rx", "bag", status, at, &at))
		mock.ExpectRollback()

		_, _, err := r.Confirm(context.Background(), proofID, at)
		require.ErrorIs(t, err, errs.ErrConflict, status)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(proofID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()
	_, err := r.Reject(context.Background(), proofID, at)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDonorRepo_FindAvailableEscapesLocation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDonorRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`WHERE role='donor' AND is_available AND blood_type=`).
		WithArgs("O-", `50\%\_off`, 10).
		WillReturnRows(profileRows(id, "Dana", 3))
	got, err := r.FindAvailable(context.Background(), repository.DonorQuery{BloodType: "O-", Location: "50%_off", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, model.RoleDonor, got[0].Role)
	require.Equal(t, model.BloodType("O-"), got[0].BloodType)
	require.Nil(t, got[0].LastDonationDate)

	mock.ExpectQuery(`WHERE role='donor' AND is_available AND blood_type=`).
		WithArgs("A+", "", nil).
		WillReturnRows(pgxmock.NewRows(profileColumns))
	got, err = r.FindAvailable(context.Background(), repository.DonorQuery{BloodType: "A+"})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDonorRepo_UpdateProfileIfCooledDown(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDonorRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour
	name := "Dana"
	edit := model.ProfileEdit{FullName: &name}

	guarded := []any{id, &name, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), now, now.Add(-week)}
	mock.ExpectQuery(`UPDATE profiles SET .* WHERE id=\$1 AND \(last_profile_update IS NULL OR last_profile_update <= \$8\)`).
		WithArgs(guarded...).
		WillReturnRows(profileRows(id, name, 0))
	p, ok, err := r.UpdateProfileIfCooledDown(ctx, id, edit, now, week)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, name, p.FullName)

	// Blocked by the window: the row exists but the guarded update matched nothing.
	mock.ExpectQuery(`UPDATE profiles SET`).WithArgs(guarded...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM profiles WHERE id=`).WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	p, ok, err = r.UpdateProfileIfCooledDown(ctx, id, edit, now, week)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, p)

	mock.ExpectQuery(`UPDATE profiles SET`).WithArgs(guarded...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM profiles WHERE id=`).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, _, err = r.UpdateProfileIfCooledDown(ctx, id, edit, now, week)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDonorRepo_OperatorUpdates(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDonorRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`donation_count = donation_count \+ 1`).WithArgs(id, at).
		WillReturnRows(profileRows(id, "Dana", 4))
	p, err := r.RecordDonation(ctx, id, at)
	require.NoError(t, err)
	require.Equal(t, 4, p.DonationCount)

	mock.ExpectQuery(`rating_count = rating_count \+ 1`).WithArgs(id, float64(5)).
		WillReturnRows(profileRows(id, "Dana", 4))
	_, err = r.Rate(ctx, id, 5)
	require.NoError(t, err)

	mock.ExpectQuery(`SET is_verified=`).WithArgs(id, true).WillReturnError(pgx.ErrNoRows)
	_, err = r.SetVerified(ctx, id, true)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_CreateWithProfile(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Username: "u", PwdHash: []byte("h"), SaltAuth: []byte("s"), Role: model.RoleDonor}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users \(id, username, pwd_hash, salt_auth, role\)`).
		WithArgs(u.ID, "u", u.PwdHash, u.SaltAuth, "donor").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`INSERT INTO profiles \(id, role\)`).WithArgs(u.ID, "donor").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	require.NoError(t, r.Create(ctx, u))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users`).WithArgs(u.ID, "u", u.PwdHash, u.SaltAuth, "donor").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()
	require.ErrorIs(t, r.Create(ctx, u), errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, username, pwd_hash, salt_auth, role, created_at FROM users WHERE username=\$1`).
		WithArgs("u").
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "pwd_hash", "salt_auth", "role", "created_at"}).
			AddRow(id, "u", []byte("h"), []byte("s"), "admin", time.Now()))
	u, err := r.GetByUsername(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, model.RoleAdmin, u.Role)

	mock.ExpectQuery(`FROM users WHERE id=\$1`).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(context.Background(), id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEventRepo_SetActiveMissing(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEventRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`UPDATE donation_events SET is_active=`).WithArgs(id, true).WillReturnError(pgx.ErrNoRows)
	_, err := r.SetActive(context.Background(), id, true)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEscapeLike(t *testing.T) {
	require.Equal(t, `a\\b\%c\_d`, escapeLike(`a\b%c_d`))
}
