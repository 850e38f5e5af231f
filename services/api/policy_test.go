package api

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadScope(t *testing.T) {
	user := identity{UserID: "u1", Role: "user"}
	admin := identity{UserID: "a1", Role: "admin"}

	tests := []struct {
		name          string
		table         string
		id            identity
		authenticated bool
		wantCol       string
		wantErr       bool
	}{
		{"own notifications", "notifications", user, true, "user_id", false},
		{"own wishlist", "wishlist", user, true, "user_id", false},
		{"own follows", "following", user, true, "follower_id", false},
		{"public profiles", "profiles", user, true, "", false},
		{"anonymous products", "products", identity{}, false, "", false},
		{"anonymous wishlist denied", "wishlist", identity{}, false, "", true},
		{"admin unscoped notifications", "notifications", admin, true, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			policy, err := policyFor(tc.table)
			require.NoError(t, err)

			col, val, err := policy.readScope(tc.id, tc.authenticated)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantCol, col)
			if col != "" {
				require.Equal(t, tc.id.UserID, val)
			}
		})
	}
}

func TestWriteScope(t *testing.T) {
	policy, err := policyFor("wishlist")
	require.NoError(t, err)

	col, val := policy.writeScope(identity{UserID: "u1", Role: "user"})
	require.Equal(t, "user_id", col)
	require.Equal(t, "u1", val)

	col, _ = policy.writeScope(identity{UserID: "a1", Role: "admin"})
	require.Empty(t, col, "admins bypass the ownership filter")
}

func TestUnknownTableRejected(t *testing.T) {
	_, err := policyFor("accounts")
	require.Error(t, err, "credential tables must not be reachable over the data surface")

	_, err = policyFor("refresh_sessions")
	require.Error(t, err)
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
		check   func(t *testing.T, s queryScope)
	}{
		{
			name:  "filters and modifiers",
			query: "user_id=u1&_limit=5&_order=created_at.desc",
			check: func(t *testing.T, s queryScope) {
				require.Equal(t, map[string]string{"user_id": "u1"}, s.filters)
				require.Equal(t, 5, s.limit)
				require.Equal(t, "created_at", s.orderBy)
				require.True(t, s.desc)
			},
		},
		{
			name:  "default limit",
			query: "id=u1",
			check: func(t *testing.T, s queryScope) {
				require.Equal(t, defaultSelectLimit, s.limit)
			},
		},
		{
			name:  "limit clamped",
			query: "_limit=99999",
			check: func(t *testing.T, s queryScope) {
				require.Equal(t, maxSelectLimit, s.limit)
			},
		},
		{
			name:  "ascending order",
			query: "_order=name.asc",
			check: func(t *testing.T, s queryScope) {
				require.Equal(t, "name", s.orderBy)
				require.False(t, s.desc)
			},
		},
		{name: "bad limit", query: "_limit=abc", wantErr: true},
		{name: "bad direction", query: "_order=name.sideways", wantErr: true},
		{name: "unknown modifier", query: "_select=secret", wantErr: true},
		{name: "injection in column", query: url.Values{"id;drop table": {"x"}}.Encode(), wantErr: true},
		{name: "injection in order", query: "_order=" + url.QueryEscape("name;drop"), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values, err := url.ParseQuery(tc.query)
			require.NoError(t, err)

			scope, err := parseQuery(values)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.check != nil {
				tc.check(t, scope)
			}
		})
	}
}
