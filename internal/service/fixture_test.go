package service

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/bloodlink/internal/feed"
	"github.com/and161185/bloodlink/internal/matcher"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
	"github.com/and161185/bloodlink/internal/repository/memory"
)

type fixture struct {
	hub      *feed.Hub
	repos    repository.Store
	requests *RequestService
	donors   *DonorService
	events   *EventService
	feed     *FeedService

	admin model.CurrentUser
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	hub := feed.NewHub(256, log)
	t.Cleanup(hub.Close)
	repos := memory.New(hub).Repositories()

	f := &fixture{
		hub:      hub,
		repos:    repos,
		requests: NewRequestService(repos, matcher.New(repos.Donors, 0), log),
		donors:   NewDonorService(repos.Donors, 0, log),
		events:   NewEventService(repos.Events),
		feed:     NewFeedService(hub, repos),
	}
	f.admin = f.user(t, "operator", model.RoleAdmin, true)
	return f
}

// user creates an account with a profile and returns it as an authenticated caller.
func (f *fixture) user(t *testing.T, name string, role model.Role, verified bool) model.CurrentUser {
	t.Helper()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, f.repos.Users.Create(ctx, &model.User{ID: id, Username: name, Role: role}))
	if verified {
		_, err := f.repos.Donors.SetVerified(ctx, id, true)
		require.NoError(t, err)
	}
	return model.CurrentUser{ID: id, Authenticated: true, Verified: verified, Role: role}
}

// donor creates an available donor with the given details.
func (f *fixture) donor(t *testing.T, name, bloodType, location string) model.CurrentUser {
	t.Helper()
	d := f.user(t, name, model.RoleDonor, false)
	_, ok, err := f.repos.Donors.UpdateProfileIfCooledDown(context.Background(), d.ID, model.ProfileEdit{
		FullName: &name, BloodType: &bloodType, Location: &location,
	}, time.Now().Add(-30*24*time.Hour), 0)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.repos.Donors.SetAvailability(context.Background(), d.ID, true)
	require.NoError(t, err)
	return d
}

func validRequest() model.NewRequest {
	return model.NewRequest{
		PatientName:  "Rahim Uddin",
		BloodType:    "o-",
		UnitsNeeded:  2,
		Hospital:     "Dhaka Medical College",
		Location:     "Dhaka",
		Urgency:      "critical",
		NeededBy:     time.Now().Add(24 * time.Hour),
		ContactName:  "Karim",
		ContactPhone: "+8801700000000",
	}
}
