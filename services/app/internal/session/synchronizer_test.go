package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"umkmhub/services/app/internal/backend"
	"umkmhub/services/app/internal/relation"
)

// ---- fake client ----

type fakeClient struct {
	mu        sync.Mutex
	session   *backend.Session
	listeners []func(*backend.Session)

	// selectFn answers Select calls; default returns no rows.
	selectFn func(table string, filters backend.Filters, dest any) error
	selects  int

	updateErr   error
	lastTable   string
	lastFilters backend.Filters
	lastPatch   backend.Row

	signInSession *backend.Session
	signInErr     error
	signOutCalls  int
}

func (f *fakeClient) GetSession(ctx context.Context) (*backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeClient) OnSessionChange(fn func(*backend.Session)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {}
}

// fire delivers a session-change event synchronously, like the HTTP client does.
func (f *fakeClient) fire(s *backend.Session) {
	f.mu.Lock()
	f.session = s
	fns := append([]func(*backend.Session){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (f *fakeClient) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.signInSession, nil
}

func (f *fakeClient) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	f.session = nil
	return nil
}

func (f *fakeClient) Select(ctx context.Context, table string, filters backend.Filters, dest any) error {
	f.mu.Lock()
	f.selects++
	fn := f.selectFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(table, filters, dest)
}

func (f *fakeClient) Insert(ctx context.Context, table string, row backend.Row) error { return nil }

func (f *fakeClient) Update(ctx context.Context, table string, filters backend.Filters, patch backend.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTable = table
	f.lastFilters = filters
	f.lastPatch = patch
	return f.updateErr
}

func (f *fakeClient) Delete(ctx context.Context, table string, filters backend.Filters) error {
	return nil
}

func (f *fakeClient) Subscribe(table string, filters backend.Filters, onInsert func([]byte)) (io.Closer, error) {
	return nopCloser{}, nil
}

func (f *fakeClient) Close() error { return nil }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// rowsInto marshals generic rows into whatever slice Select was handed.
func rowsInto(dest any, rows []map[string]any) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func profileSelect(rows map[string][]map[string]any) func(string, backend.Filters, any) error {
	return func(table string, filters backend.Filters, dest any) error {
		if table != "profiles" {
			return nil
		}
		return rowsInto(dest, rows[filters["id"]])
	}
}

type fakeScoped struct {
	mu     sync.Mutex
	loads  []string
	resets int
}

func (s *fakeScoped) Load(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, userID)
	return nil
}

func (s *fakeScoped) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// ---- tests ----

func andiRow() map[string]any {
	return map[string]any{
		"id":            "u1",
		"full_name":     "Andi",
		"email":         "andi@example.com",
		"business_name": "Toko Andi",
		"role":          "user",
	}
}

func TestInitializeColdStartWithExistingSession(t *testing.T) {
	client := &fakeClient{
		session:  &backend.Session{UserID: "u1", Email: "andi@example.com"},
		selectFn: profileSelect(map[string][]map[string]any{"u1": {andiRow()}}),
	}
	scoped := &fakeScoped{}
	syn := New(client, zerolog.Nop(), scoped)

	require.Equal(t, StatusUninitialized, syn.Snapshot().Status)
	require.NoError(t, syn.Initialize(context.Background()))

	snap := syn.Snapshot()
	require.Equal(t, StatusAuthenticated, snap.Status)
	require.NotNil(t, snap.Profile)
	require.Equal(t, "u1", snap.Profile.ID)
	require.Equal(t, "Andi", snap.Profile.Name)
	require.Equal(t, "Toko Andi", snap.Profile.BusinessName)
	require.Equal(t, RoleUser, snap.Profile.Role)
	require.Contains(t, snap.Profile.ProfilePicture, "ui-avatars.com")
	require.Contains(t, snap.Profile.ProfilePicture, "Andi")
	require.Equal(t, []string{"u1"}, scoped.loads)
}

func TestInitializeWithoutSession(t *testing.T) {
	client := &fakeClient{}
	syn := New(client, zerolog.Nop())

	require.NoError(t, syn.Initialize(context.Background()))

	snap := syn.Snapshot()
	require.Equal(t, StatusUnauthenticated, snap.Status)
	require.Nil(t, snap.Session)
	require.Nil(t, snap.Profile)
}

func TestProfileNeverObservedWithoutSession(t *testing.T) {
	client := &fakeClient{
		selectFn: profileSelect(map[string][]map[string]any{"u1": {andiRow()}}),
	}
	syn := New(client, zerolog.Nop())
	require.NoError(t, syn.Initialize(context.Background()))

	var observed []Snapshot
	unsub := syn.Subscribe(func(s Snapshot) { observed = append(observed, s) })
	defer unsub()

	client.fire(&backend.Session{UserID: "u1"})
	client.fire(nil)

	for _, snap := range observed {
		if snap.Session == nil {
			require.Nil(t, snap.Profile, "profile must not outlive its session")
		}
	}
}

func TestHydrationFailureLeavesProfileNil(t *testing.T) {
	client := &fakeClient{
		session: &backend.Session{UserID: "u1"},
		selectFn: func(string, backend.Filters, any) error {
			return errors.New("boom")
		},
	}
	syn := New(client, zerolog.Nop())

	require.NoError(t, syn.Initialize(context.Background()))

	snap := syn.Snapshot()
	require.Equal(t, StatusAuthenticated, snap.Status)
	require.NotNil(t, snap.Session)
	require.Nil(t, snap.Profile)
}

func TestHydrationIdempotence(t *testing.T) {
	client := &fakeClient{
		session:  &backend.Session{UserID: "u1"},
		selectFn: profileSelect(map[string][]map[string]any{"u1": {andiRow()}}),
	}
	syn := New(client, zerolog.Nop())
	require.NoError(t, syn.Initialize(context.Background()))

	first := syn.Snapshot().Profile
	client.fire(&backend.Session{UserID: "u1"})
	second := syn.Snapshot().Profile

	require.NotNil(t, first)
	require.NotNil(t, second)
	require.Equal(t, *first, *second)
}

func TestStaleHydrationDiscarded(t *testing.T) {
	started := make(chan string, 2)
	release := map[string]chan struct{}{
		"a": make(chan struct{}),
		"b": make(chan struct{}),
	}
	rows := map[string][]map[string]any{
		"a": {{"id": "a", "full_name": "First", "role": "user"}},
		"b": {{"id": "b", "full_name": "Second", "role": "user"}},
	}

	client := &fakeClient{}
	client.selectFn = func(table string, filters backend.Filters, dest any) error {
		id := filters["id"]
		started <- id
		<-release[id]
		return rowsInto(dest, rows[id])
	}
	syn := New(client, zerolog.Nop())
	client.session = nil
	require.NoError(t, syn.Initialize(context.Background()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		client.fire(&backend.Session{UserID: "a"})
	}()
	require.Equal(t, "a", <-started)

	go func() {
		defer wg.Done()
		client.fire(&backend.Session{UserID: "b"})
	}()
	require.Equal(t, "b", <-started)

	// B's lookup resolves first, then A's stale response trails in.
	close(release["b"])
	close(release["a"])
	wg.Wait()

	snap := syn.Snapshot()
	require.NotNil(t, snap.Profile)
	require.Equal(t, "Second", snap.Profile.Name, "stale hydration for a must be discarded")
	require.Equal(t, "b", snap.Session.UserID)
}

func TestSignOutClearsStateSynchronously(t *testing.T) {
	client := &fakeClient{
		session:  &backend.Session{UserID: "u1"},
		selectFn: profileSelect(map[string][]map[string]any{"u1": {andiRow()}}),
	}
	scoped := &fakeScoped{}
	syn := New(client, zerolog.Nop(), scoped)
	require.NoError(t, syn.Initialize(context.Background()))
	require.NotNil(t, syn.Snapshot().Profile)

	// The fake delivers no session-change echo: the clear must not depend on it.
	require.NoError(t, syn.SignOut(context.Background()))

	snap := syn.Snapshot()
	require.Equal(t, StatusUnauthenticated, snap.Status)
	require.Nil(t, snap.Session)
	require.Nil(t, snap.Profile)
	require.Equal(t, 1, scoped.resets)
	require.Equal(t, 1, client.signOutCalls)
}

func TestUpdateProfilePartialPreservesOtherFields(t *testing.T) {
	client := &fakeClient{
		session:  &backend.Session{UserID: "u1"},
		selectFn: profileSelect(map[string][]map[string]any{"u1": {andiRow()}}),
	}
	syn := New(client, zerolog.Nop())
	require.NoError(t, syn.Initialize(context.Background()))

	business := "Toko Baru"
	require.NoError(t, syn.UpdateProfile(context.Background(), Patch{BusinessName: &business}))

	snap := syn.Snapshot()
	require.Equal(t, "Toko Baru", snap.Profile.BusinessName)
	require.Equal(t, "Andi", snap.Profile.Name)
	require.Equal(t, "andi@example.com", snap.Profile.Email)

	require.Equal(t, "profiles", client.lastTable)
	require.Equal(t, backend.Filters{"id": "u1"}, client.lastFilters)
	require.Equal(t, backend.Row{"business_name": "Toko Baru"}, client.lastPatch)
}

func TestUpdateProfileRejectionLeavesProfileUntouched(t *testing.T) {
	client := &fakeClient{
		session:   &backend.Session{UserID: "u1"},
		selectFn:  profileSelect(map[string][]map[string]any{"u1": {andiRow()}}),
		updateErr: errors.New("row-level security violation"),
	}
	syn := New(client, zerolog.Nop())
	require.NoError(t, syn.Initialize(context.Background()))
	before := *syn.Snapshot().Profile

	name := "Someone Else"
	err := syn.UpdateProfile(context.Background(), Patch{Name: &name})
	require.ErrorIs(t, err, ErrProfileUpdate)
	require.True(t, strings.Contains(err.Error(), "row-level security violation"))
	require.Equal(t, before, *syn.Snapshot().Profile)
}

func TestUpdateProfileRequiresSession(t *testing.T) {
	syn := New(&fakeClient{}, zerolog.Nop())
	require.NoError(t, syn.Initialize(context.Background()))

	name := "X"
	err := syn.UpdateProfile(context.Background(), Patch{Name: &name})
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSignInFailureLeavesStateUnchanged(t *testing.T) {
	client := &fakeClient{signInErr: errors.New("invalid credentials")}
	syn := New(client, zerolog.Nop())
	require.NoError(t, syn.Initialize(context.Background()))

	session, err := syn.SignIn(context.Background(), "bad@x.com", "wrong")
	require.Error(t, err)
	require.Nil(t, session)

	snap := syn.Snapshot()
	require.Equal(t, StatusUnauthenticated, snap.Status)
	require.Nil(t, snap.Profile)
}

func TestSignOutDuringScopedLoadKeepsCachesEmpty(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	client := &fakeClient{}
	client.selectFn = func(table string, filters backend.Filters, dest any) error {
		switch table {
		case "profiles":
			return rowsInto(dest, []map[string]any{andiRow()})
		case "wishlist":
			started <- struct{}{}
			<-release
			return rowsInto(dest, []map[string]any{{"user_id": "u1", "product_id": "p1"}})
		}
		return nil
	}

	wishlist := relation.NewWishlist(client, zerolog.Nop())
	syn := New(client, zerolog.Nop(), wishlist)
	require.NoError(t, syn.Initialize(context.Background()))

	fired := make(chan struct{})
	go func() {
		client.fire(&backend.Session{UserID: "u1", Email: "andi@example.com"})
		close(fired)
	}()
	<-started

	require.NoError(t, syn.SignOut(context.Background()))
	close(release)
	<-fired

	snap := syn.Snapshot()
	require.Equal(t, StatusUnauthenticated, snap.Status)
	require.Nil(t, snap.Profile)
	require.Equal(t, 0, wishlist.Len(), "wishlist must stay empty after sign-out")
	require.False(t, wishlist.Contains("p1"))
}
