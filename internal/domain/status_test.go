package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		err      error
	}{
		{StatusProspect, StatusScreening, nil},
		{StatusProspect, StatusContracting, nil},
		{StatusRecommended, StatusDeclined, nil},
		{StatusScreening, StatusScreening, nil},
		{"pending", StatusScreening, nil},
		{"qualified", StatusPreparing, nil},
		{StatusPreparing, StatusScreening, ErrInvalidStateTransition},
		{StatusContracted, StatusDeclined, ErrInvalidStateTransition},
		{StatusDeclined, StatusProspect, ErrInvalidStateTransition},
		{"disqualified", StatusScreening, ErrInvalidStateTransition},
		{StatusProspect, "contacted", ErrInvalidInput},
		{StatusProspect, "bogus", ErrInvalidInput},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to)
		if tc.err == nil {
			require.NoError(t, err, "%s -> %s", tc.from, tc.to)
			continue
		}
		require.ErrorIs(t, err, tc.err, "%s -> %s", tc.from, tc.to)
	}
}

func TestSupervises(t *testing.T) {
	owner := User{ID: "u1", Role: RoleRecruiter, StationID: "st-1"}
	require.True(t, owner.Supervises(owner))
	require.True(t, User{ID: "a", Role: RoleAdmin}.Supervises(owner))
	require.True(t, User{ID: "c", Role: RoleCommander, StationID: "st-1"}.Supervises(owner))
	require.False(t, User{ID: "c", Role: RoleCommander, StationID: "st-2"}.Supervises(owner))
	require.False(t, User{ID: "p", Role: RolePendingCommander, StationID: "st-1"}.Supervises(owner))
	require.False(t, User{ID: "r", Role: RoleRecruiter, StationID: "st-1"}.Supervises(owner))
}

func TestDisplayLabel(t *testing.T) {
	require.Equal(t, DefaultCodeLabel, IdentityCode{}.DisplayLabel())
	require.Equal(t, "Mall kiosk", IdentityCode{Location: true, Label: "Mall kiosk"}.DisplayLabel())
}
