package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

type recorder struct{ events []model.ChangeEvent }

func (r *recorder) Publish(e model.ChangeEvent) { r.events = append(r.events, e) }

func newStore(t *testing.T) (*Store, repository.Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := New(rec)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	return s, s.Repositories(), rec
}

func seedRequest(t *testing.T, repos repository.Store, code string) model.BloodRequest {
	t.Helper()
	r := model.BloodRequest{
		TrackingCode: code, PatientName: "P", BloodType: "O-", UnitsNeeded: 2,
		Hospital: "H", Location: "Dhaka", Urgency: model.UrgencyCritical,
		Status: model.StatusPending,
	}
	require.NoError(t, repos.Requests.Create(context.Background(), &r))
	return r
}

func TestRequests_CreateRejectsDuplicateTrackingCode(t *testing.T) {
	_, repos, rec := newStore(t)
	seedRequest(t, repos, "BL-AAAA0000")

	dup := model.BloodRequest{TrackingCode: "BL-AAAA0000"}
	require.ErrorIs(t, repos.Requests.Create(context.Background(), &dup), errs.ErrAlreadyExists)
	require.Len(t, rec.events, 1)

	got, err := repos.Requests.GetByTrackingCode(context.Background(), "BL-AAAA0000")
	require.NoError(t, err)
	require.Equal(t, "P", got.PatientName)
}

func TestRequests_SetStatusCreatesImpactOnce(t *testing.T) {
	ctx := context.Background()
	_, repos, _ := newStore(t)
	r := seedRequest(t, repos, "BL-AAAA0001")
	at := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	f, err := repos.Requests.SetStatus(ctx, r.ID, model.StatusFulfilled, at)
	require.NoError(t, err)
	require.True(t, f.ImpactCreated)
	require.Equal(t, r.ID, f.Impact.RequestID)

	_, err = repos.Requests.SetStatus(ctx, r.ID, model.StatusPending, at)
	require.NoError(t, err)
	f, err = repos.Requests.SetStatus(ctx, r.ID, model.StatusFulfilled, at)
	require.NoError(t, err)
	require.False(t, f.ImpactCreated)
	require.Nil(t, f.Impact)

	impacts, err := repos.Requests.ListImpact(ctx)
	require.NoError(t, err)
	require.Len(t, impacts, 1)

	_, err = repos.Requests.SetStatus(ctx, uuid.Must(uuid.NewV4()), model.StatusFulfilled, at)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestVerifications_ConfirmFlow(t *testing.T) {
	ctx := context.Background()
	_, repos, rec := newStore(t)
	r := seedRequest(t, repos, "BL-AAAA0002")

	p := model.VerificationProof{RequestID: r.ID, PrescriptionRef: "rx", BloodBagRef: "bag"}
	require.NoError(t, repos.Verifications.Create(ctx, &p))
	require.Equal(t, model.ProofPending, p.Status)

	second := model.VerificationProof{RequestID: r.ID, PrescriptionRef: "rx2", BloodBagRef: "bag2"}
	require.ErrorIs(t, repos.Verifications.Create(ctx, &second), errs.ErrConflict)

	orphan := model.VerificationProof{RequestID: uuid.Must(uuid.NewV4())}
	require.ErrorIs(t, repos.Verifications.Create(ctx, &orphan), errs.ErrNotFound)

	rec.events = nil
	at := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	proof, f, err := repos.Verifications.Confirm(ctx, p.ID, at)
	require.NoError(t, err)
	require.Equal(t, model.ProofApproved, proof.Status)
	require.Equal(t, model.StatusFulfilled, f.Request.Status)
	require.True(t, f.ImpactCreated)

	require.Len(t, rec.events, 2)
	require.Equal(t, model.TableVerifications, rec.events[0].Table)
	require.Equal(t, model.TableRequests, rec.events[1].Table)

	_, _, err = repos.Verifications.Confirm(ctx, p.ID, at)
	require.ErrorIs(t, err, errs.ErrConflict)
	impacts, _ := repos.Requests.ListImpact(ctx)
	require.Len(t, impacts, 1)

	// A new proof may be filed once nothing is pending, and rejecting it leaves the request alone.
	again := model.VerificationProof{RequestID: r.ID, PrescriptionRef: "rx3", BloodBagRef: "bag3"}
	require.NoError(t, repos.Verifications.Create(ctx, &again))
	rej, err := repos.Verifications.Reject(ctx, again.ID, at)
	require.NoError(t, err)
	require.Equal(t, model.ProofRejected, rej.Status)
	_, _, err = repos.Verifications.Confirm(ctx, again.ID, at)
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestUsers_CreateAddsProfile(t *testing.T) {
	ctx := context.Background()
	_, repos, rec := newStore(t)

	u := model.User{Username: "alice", Role: model.RoleDonor}
	require.NoError(t, repos.Users.Create(ctx, &u))
	dup := model.User{Username: "alice"}
	require.ErrorIs(t, repos.Users.Create(ctx, &dup), errs.ErrAlreadyExists)

	p, err := repos.Donors.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, p.IsDonor())
	require.Len(t, rec.events, 1)
	require.Equal(t, model.TableProfiles, rec.events[0].Table)

	byName, err := repos.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, byName.ID)
}

func TestDonors_CooldownGuardedUpdate(t *testing.T) {
	ctx := context.Background()
	_, repos, _ := newStore(t)
	u := model.User{Username: "d", Role: model.RoleDonor}
	require.NoError(t, repos.Users.Create(ctx, &u))

	name := "Dana"
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	p, ok, err := repos.Donors.UpdateProfileIfCooledDown(ctx, u.ID, model.ProfileEdit{FullName: &name}, t0, week)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Dana", p.FullName)

	other := "Other"
	p, ok, err = repos.Donors.UpdateProfileIfCooledDown(ctx, u.ID, model.ProfileEdit{FullName: &other}, t0.Add(week-time.Hour), week)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, p)

	cur, _ := repos.Donors.GetProfile(ctx, u.ID)
	require.Equal(t, "Dana", cur.FullName)
	require.Equal(t, t0, *cur.LastProfileUpdate)

	_, ok, err = repos.Donors.UpdateProfileIfCooledDown(ctx, u.ID, model.ProfileEdit{FullName: &other}, t0.Add(week), week)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDonors_FindAvailableOrderingAndOperatorActions(t *testing.T) {
	ctx := context.Background()
	_, repos, _ := newStore(t)

	mk := func(name, loc string, donations int) uuid.UUID {
		u := model.User{Username: name, Role: model.RoleDonor}
		require.NoError(t, repos.Users.Create(ctx, &u))
		bt, l := "O-", loc
		_, _, err := repos.Donors.UpdateProfileIfCooledDown(ctx, u.ID, model.ProfileEdit{FullName: &name, BloodType: &bt, Location: &l}, time.Now(), time.Hour)
		require.NoError(t, err)
		_, err = repos.Donors.SetAvailability(ctx, u.ID, true)
		require.NoError(t, err)
		for i := 0; i < donations; i++ {
			_, err = repos.Donors.RecordDonation(ctx, u.ID, time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC))
			require.NoError(t, err)
		}
		return u.ID
	}
	a := mk("a", "North Dhaka", 1)
	b := mk("b", "dhaka south", 3)
	mk("c", "Chittagong", 5)

	req := model.User{Username: "r", Role: model.RoleRequester}
	require.NoError(t, repos.Users.Create(ctx, &req))

	got, err := repos.Donors.FindAvailable(ctx, repository.DonorQuery{BloodType: "O-", Location: "DHAKA"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, b, got[0].ID)
	require.Equal(t, a, got[1].ID)

	got, err = repos.Donors.FindAvailable(ctx, repository.DonorQuery{BloodType: "O-", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 5, got[0].DonationCount)

	donors, err := repos.Donors.ListDonors(ctx)
	require.NoError(t, err)
	require.Len(t, donors, 3)

	p, err := repos.Donors.RecordDonation(ctx, a, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 2, p.DonationCount)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *p.LastDonationDate)

	_, err = repos.Donors.Rate(ctx, a, 5)
	require.NoError(t, err)
	p, err = repos.Donors.Rate(ctx, a, 2)
	require.NoError(t, err)
	require.Equal(t, 2, p.RatingCount)
	require.InDelta(t, 3.5, p.RatingAvg, 1e-9)

	p, err = repos.Donors.SetVerified(ctx, a, true)
	require.NoError(t, err)
	require.True(t, p.IsVerified)
}

func TestEvents_CreateToggleList(t *testing.T) {
	ctx := context.Background()
	_, repos, rec := newStore(t)

	late := model.DonationEvent{Title: "late", StartsAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	early := model.DonationEvent{Title: "early", StartsAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, repos.Events.Create(ctx, &late))
	require.NoError(t, repos.Events.Create(ctx, &early))

	e, err := repos.Events.SetActive(ctx, late.ID, true)
	require.NoError(t, err)
	require.True(t, e.IsActive)

	list, err := repos.Events.List(ctx)
	require.NoError(t, err)
	require.Equal(t, "early", list[0].Title)
	require.Len(t, rec.events, 3)

	_, err = repos.Events.SetActive(ctx, uuid.Must(uuid.NewV4()), true)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
