package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"exp":   exp.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(Options{
		BaseURL:    baseURL,
		StatePath:  filepath.Join(t.TempDir(), "session.json"),
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return client
}

func TestSignInWithPassword(t *testing.T) {
	access := signToken(t, "u1", "andi@example.com", time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/auth/token", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "andi@example.com", body["email"])
		require.Equal(t, "rahasia", body["password"])

		writeJSON(w, http.StatusOK, map[string]string{
			"access_token":  access,
			"refresh_token": "rt-1",
		})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	var mu sync.Mutex
	var events []*Session
	client.OnSessionChange(func(s *Session) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	})

	session, err := client.SignInWithPassword(context.Background(), "andi@example.com", "rahasia")
	require.NoError(t, err)
	require.Equal(t, "u1", session.UserID)
	require.Equal(t, "andi@example.com", session.Email)
	require.Equal(t, access, session.AccessToken)
	require.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	require.Equal(t, "u1", events[0].UserID)
}

func TestSignInRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	session, err := client.SignInWithPassword(context.Background(), "x@y.com", "wrong")
	require.Nil(t, session)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.ErrorContains(t, err, "invalid email or password")
}

func TestSelectSendsBearerAndFilters(t *testing.T) {
	access := signToken(t, "u1", "", time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/token":
			writeJSON(w, http.StatusOK, map[string]string{"access_token": access, "refresh_token": "rt-1"})
		case "/v1/data/profiles":
			require.Equal(t, "Bearer "+access, r.Header.Get("Authorization"))
			require.Equal(t, "u1", r.URL.Query().Get("id"))
			writeJSON(w, http.StatusOK, map[string]any{
				"rows": []map[string]any{{"id": "u1", "full_name": "Andi"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	_, err := client.SignInWithPassword(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, client.Select(context.Background(), "profiles", Filters{"id": "u1"}, &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "Andi", rows[0]["full_name"])
}

func TestExpiredTokenRefreshAndReplay(t *testing.T) {
	expired := signToken(t, "u1", "", time.Now().Add(-time.Minute))
	fresh := signToken(t, "u1", "", time.Now().Add(time.Hour))

	var mu sync.Mutex
	dataCalls := 0
	refreshCalls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh":
			mu.Lock()
			refreshCalls++
			mu.Unlock()
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			require.Equal(t, "rt-old", body["refresh_token"])
			writeJSON(w, http.StatusOK, map[string]string{"access_token": fresh, "refresh_token": "rt-new"})
		case "/v1/data/wishlist":
			mu.Lock()
			dataCalls++
			mu.Unlock()
			if r.Header.Get("Authorization") == "Bearer "+expired {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired"})
				return
			}
			require.Equal(t, "Bearer "+fresh, r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{"rows": []map[string]any{}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	client.mu.Lock()
	client.session = &Session{UserID: "u1", AccessToken: expired, ExpiresAt: time.Now().Add(-time.Minute)}
	client.refreshToken = "rt-old"
	client.mu.Unlock()

	var refreshed []*Session
	client.OnSessionChange(func(s *Session) { refreshed = append(refreshed, s) })

	require.NoError(t, client.Select(context.Background(), "wishlist", Filters{"user_id": "u1"}, nil))

	mu.Lock()
	require.Equal(t, 1, refreshCalls)
	require.Equal(t, 2, dataCalls, "rejected call plus replay")
	mu.Unlock()

	// Token rotation is observable as a session change.
	require.Len(t, refreshed, 1)
	require.Equal(t, fresh, refreshed[0].AccessToken)

	client.mu.Lock()
	require.Equal(t, "rt-new", client.refreshToken)
	client.mu.Unlock()
}

func TestRejectedRefreshEndsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/refresh", r.URL.Path)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "refresh token revoked"})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	client.mu.Lock()
	client.session = &Session{UserID: "u1", AccessToken: "x", ExpiresAt: time.Now().Add(-time.Minute)}
	client.refreshToken = "rt-dead"
	client.mu.Unlock()

	var events []*Session
	client.OnSessionChange(func(s *Session) { events = append(events, s) })

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session, "a revoked refresh token means signed out, not an error")
	require.Len(t, events, 1)
	require.Nil(t, events[0])
}

func TestSessionPersistsAcrossClients(t *testing.T) {
	access := signToken(t, "u1", "andi@example.com", time.Now().Add(time.Hour))
	statePath := filepath.Join(t.TempDir(), "session.json")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access_token": access, "refresh_token": "rt-1"})
	}))
	defer srv.Close()

	first, err := NewHTTPClient(Options{BaseURL: srv.URL, StatePath: statePath, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = first.SignInWithPassword(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	second, err := NewHTTPClient(Options{BaseURL: srv.URL, StatePath: statePath, Logger: zerolog.Nop()})
	require.NoError(t, err)
	session, err := second.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, "u1", session.UserID)
	require.Equal(t, "andi@example.com", session.Email)
}

func TestSignOutClearsStateDespiteServerError(t *testing.T) {
	access := signToken(t, "u1", "", time.Now().Add(time.Hour))
	statePath := filepath.Join(t.TempDir(), "session.json")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/token":
			writeJSON(w, http.StatusOK, map[string]string{"access_token": access, "refresh_token": "rt-1"})
		case "/v1/auth/signout":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
		}
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Options{BaseURL: srv.URL, StatePath: statePath, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = client.SignInWithPassword(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	var events []*Session
	client.OnSessionChange(func(s *Session) { events = append(events, s) })

	require.Error(t, client.SignOut(context.Background()))

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session)
	require.Len(t, events, 1)
	require.Nil(t, events[0])
}

func TestStatusSentinels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"forbidden", http.StatusForbidden, ErrPermissionDenied},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, map[string]string{"error": "denied"})
			}))
			defer srv.Close()

			client := newClient(t, srv.URL)
			err := client.Insert(context.Background(), "products", Row{"name": "x"})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUnreachableServiceIsUnavailable(t *testing.T) {
	client := newClient(t, "http://127.0.0.1:1")
	err := client.Insert(context.Background(), "products", Row{"name": "x"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSubscriptionScope(t *testing.T) {
	tests := []struct {
		name    string
		filters Filters
		want    string
		wantErr bool
	}{
		{"single filter", Filters{"user_id": "u1"}, "u1", false},
		{"no filters", Filters{}, "", true},
		{"two filters", Filters{"user_id": "u1", "kind": "comment"}, "", true},
		{"modifier", Filters{"_limit": "10"}, "", true},
		{"empty value", Filters{"user_id": ""}, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scope, err := subscriptionScope(tc.filters)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, scope)
		})
	}
}
