package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBloodType(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]BloodType{"o-": "O-", " AB+ ": "AB+", "b+": "B+"} {
		got, ok := ParseBloodType(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}
	for _, in := range []string{"", "C+", "O", "AB"} {
		_, ok := ParseBloodType(in)
		require.False(t, ok, in)
	}
}

func TestEnumsValid(t *testing.T) {
	t.Parallel()

	require.True(t, UrgencyCritical.Valid())
	require.False(t, Urgency("critical").Valid())
	require.True(t, StatusCancelled.Valid())
	require.False(t, RequestStatus("DONE").Valid())
	require.True(t, RoleDonor.Valid())
	require.False(t, Role("root").Valid())
}

func TestStatsAddSub(t *testing.T) {
	t.Parallel()

	a := Stats{PendingRequests: 3, CriticalPending: 1, TotalDonors: 5, LivesSaved: 2}
	d := Stats{PendingRequests: -1, LivesSaved: 1}
	sum := a.Add(d)
	require.Equal(t, 2, sum.PendingRequests)
	require.Equal(t, 3, sum.LivesSaved)
	require.Equal(t, a, sum.Sub(d))
	require.Equal(t, Stats{}, a.Sub(a))
}

func TestCurrentUserIsOperator(t *testing.T) {
	t.Parallel()

	require.True(t, CurrentUser{Authenticated: true, Role: RoleAdmin}.IsOperator())
	require.False(t, CurrentUser{Role: RoleAdmin}.IsOperator())
	require.False(t, CurrentUser{Authenticated: true, Role: RoleDonor}.IsOperator())
}
