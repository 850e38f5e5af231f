package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"umkmhub/services/app/internal/backend"
)

type fakeClient struct {
	mu sync.Mutex

	rows      []map[string]any
	selectErr error
	updateErr error
	subErr    error

	// When set, Select signals selectStarted and blocks until selectRelease
	// is closed.
	selectStarted chan struct{}
	selectRelease chan struct{}

	lastFilters backend.Filters
	lastPatch   backend.Row

	push   func([]byte)
	closed int
}

func (f *fakeClient) GetSession(ctx context.Context) (*backend.Session, error) { return nil, nil }
func (f *fakeClient) OnSessionChange(fn func(*backend.Session)) func()         { return func() {} }
func (f *fakeClient) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	return nil, nil
}
func (f *fakeClient) SignOut(ctx context.Context) error { return nil }

func (f *fakeClient) Select(ctx context.Context, table string, filters backend.Filters, dest any) error {
	if f.selectStarted != nil {
		f.selectStarted <- struct{}{}
		<-f.selectRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectErr != nil {
		return f.selectErr
	}
	f.lastFilters = filters
	data, err := json.Marshal(f.rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (f *fakeClient) Insert(ctx context.Context, table string, row backend.Row) error { return nil }

func (f *fakeClient) Update(ctx context.Context, table string, filters backend.Filters, patch backend.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.lastFilters = filters
	f.lastPatch = patch
	return nil
}

func (f *fakeClient) Delete(ctx context.Context, table string, filters backend.Filters) error {
	return nil
}

func (f *fakeClient) Subscribe(table string, filters backend.Filters, onInsert func([]byte)) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.push = onInsert
	return closerFunc(func() error {
		f.mu.Lock()
		f.closed++
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeClient) Close() error { return nil }

// deliver simulates a realtime insert arriving over the subscription.
func (f *fakeClient) deliver(t *testing.T, row map[string]any) {
	t.Helper()
	f.mu.Lock()
	push := f.push
	f.mu.Unlock()
	require.NotNil(t, push, "no active subscription")
	data, err := json.Marshal(row)
	require.NoError(t, err)
	push(data)
}

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

var fetchNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func loadedFeed(t *testing.T, client *fakeClient) *Feed {
	t.Helper()
	f := New(client, zerolog.Nop())
	f.now = func() time.Time { return fetchNow }
	require.NoError(t, f.Load(context.Background(), "u1"))
	return f
}

func notifRow(id string, age time.Duration, read bool) map[string]any {
	return map[string]any{
		"id":          id,
		"user_id":     "u1",
		"kind":        "comment",
		"title":       "Komentar baru",
		"description": "Seseorang membalas diskusi Anda",
		"read":        read,
		"created_at":  fetchNow.Add(-age).Format(time.RFC3339),
	}
}

func TestLoadFetchesAndComputesAges(t *testing.T) {
	client := &fakeClient{rows: []map[string]any{
		notifRow("n1", 30*time.Second, false),
		notifRow("n2", 5*time.Minute, false),
		notifRow("n3", 3*time.Hour, true),
		notifRow("n4", 2*24*time.Hour, true),
		notifRow("n5", 30*24*time.Hour, true),
	}}
	f := loadedFeed(t, client)

	items := f.Items()
	require.Len(t, items, 5)
	require.Equal(t, "just now", items[0].Age)
	require.Equal(t, "5m ago", items[1].Age)
	require.Equal(t, "3h ago", items[2].Age)
	require.Equal(t, "2d ago", items[3].Age)
	require.Equal(t, "8 Feb 2026", items[4].Age)

	require.Equal(t, "u1", client.lastFilters["user_id"])
	require.Equal(t, "created_at.desc", client.lastFilters["_order"])
	require.Equal(t, "20", client.lastFilters["_limit"])
	require.Equal(t, 2, f.UnreadCount())
}

func TestPushedNotificationIsJustNowAndPrepended(t *testing.T) {
	client := &fakeClient{rows: []map[string]any{notifRow("n1", time.Hour, true)}}
	f := loadedFeed(t, client)

	var pushed []Notification
	unsub := f.SubscribeNew(func(n Notification) { pushed = append(pushed, n) })
	defer unsub()

	client.deliver(t, notifRow("n2", 0, false))

	items := f.Items()
	require.Len(t, items, 2)
	require.Equal(t, "n2", items[0].ID)
	require.Equal(t, "just now", items[0].Age)
	require.Equal(t, KindComment, items[0].Kind)
	require.Len(t, pushed, 1)
	require.Equal(t, "n2", pushed[0].ID)
	require.Equal(t, 1, f.UnreadCount())
}

func TestPushForOtherUserDiscarded(t *testing.T) {
	client := &fakeClient{}
	f := loadedFeed(t, client)

	row := notifRow("n9", 0, false)
	row["user_id"] = "someone-else"
	client.deliver(t, row)

	require.Empty(t, f.Items())
}

func TestFetchFailureKeepsCachedFeed(t *testing.T) {
	client := &fakeClient{rows: []map[string]any{notifRow("n1", time.Minute, false)}}
	f := loadedFeed(t, client)
	require.Len(t, f.Items(), 1)

	client.mu.Lock()
	client.selectErr = errors.New("service unavailable")
	client.mu.Unlock()

	items, err := f.FetchRecent(context.Background(), 10)
	require.NoError(t, err, "fetch failures are absorbed")
	require.Len(t, items, 1)
	require.Equal(t, "n1", items[0].ID)
}

func TestLoadSurvivesSubscribeFailure(t *testing.T) {
	client := &fakeClient{
		rows:   []map[string]any{notifRow("n1", time.Minute, false)},
		subErr: errors.New("realtime down"),
	}
	f := New(client, zerolog.Nop())
	f.now = func() time.Time { return fetchNow }

	require.NoError(t, f.Load(context.Background(), "u1"))
	require.Len(t, f.Items(), 1)
}

func TestMarkAllRead(t *testing.T) {
	client := &fakeClient{rows: []map[string]any{
		notifRow("n1", time.Minute, false),
		notifRow("n2", time.Hour, false),
	}}
	f := loadedFeed(t, client)
	require.Equal(t, 2, f.UnreadCount())

	require.NoError(t, f.MarkAllRead(context.Background()))

	require.Equal(t, 0, f.UnreadCount())
	require.Equal(t, backend.Filters{"user_id": "u1"}, client.lastFilters)
	require.Equal(t, backend.Row{"read": true}, client.lastPatch)
}

func TestMarkAllReadFailureLeavesCacheUnchanged(t *testing.T) {
	client := &fakeClient{rows: []map[string]any{notifRow("n1", time.Minute, false)}}
	f := loadedFeed(t, client)

	client.mu.Lock()
	client.updateErr = errors.New("denied")
	client.mu.Unlock()

	require.Error(t, f.MarkAllRead(context.Background()))
	require.Equal(t, 1, f.UnreadCount())
}

func TestResetClosesSubscriptionAndClears(t *testing.T) {
	client := &fakeClient{rows: []map[string]any{notifRow("n1", time.Minute, false)}}
	f := loadedFeed(t, client)

	f.Reset()

	require.Empty(t, f.Items())
	require.Equal(t, 0, f.UnreadCount())
	client.mu.Lock()
	closed := client.closed
	client.mu.Unlock()
	require.Equal(t, 1, closed)

	// Stale pushes after reset must not resurrect entries.
	client.deliver(t, notifRow("n2", 0, false))
	require.Empty(t, f.Items())
}

func TestFetchWithoutSessionIsEmpty(t *testing.T) {
	f := New(&fakeClient{}, zerolog.Nop())
	items, err := f.FetchRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestResetDuringLoadDiscardsFetchAndSubscription(t *testing.T) {
	client := &fakeClient{
		rows:          []map[string]any{notifRow("n1", time.Minute, false)},
		selectStarted: make(chan struct{}, 1),
		selectRelease: make(chan struct{}),
	}
	f := New(client, zerolog.Nop())
	f.now = func() time.Time { return fetchNow }

	done := make(chan error, 1)
	go func() { done <- f.Load(context.Background(), "u1") }()

	<-client.selectStarted
	f.Reset()
	close(client.selectRelease)

	require.NoError(t, <-done)
	require.Empty(t, f.Items(), "rows fetched before the reset must not repopulate the feed")
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.closed == 1
	}, time.Second, 5*time.Millisecond, "a subscription opened by the invalidated load must be closed")
}
