// Package feed surfaces push-delivered and bulk-fetched notifications for the
// current session.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"umkmhub/services/app/internal/backend"
)

// Kind enumerates notification categories.
type Kind string

const (
	KindComment        Kind = "comment"
	KindEvent          Kind = "event"
	KindNewMember      Kind = "new_member"
	KindWishlistUpdate Kind = "wishlist_update"
)

// Notification is one feed entry. Age is a relative display string: computed
// from CreatedAt at fetch time, but the literal "just now" for pushed entries.
// That asymmetry mirrors the service contract; it is not normalized here.
type Notification struct {
	ID          string
	Kind        Kind
	Title       string
	Description string
	Age         string
	Read        bool
	CreatedAt   time.Time
}

const defaultFetchLimit = 20

// Feed mirrors the notifications table for the current session. Safe for
// concurrent use.
type Feed struct {
	client backend.Client
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	userID      string
	items       []Notification
	sub         io.Closer
	gen         uint64
	handlers    map[int]func(Notification)
	nextHandler int
}

// New constructs an empty Feed. It stays inert until Load establishes a
// session scope.
func New(client backend.Client, logger zerolog.Logger) *Feed {
	return &Feed{
		client:   client,
		logger:   logger,
		now:      time.Now,
		handlers: make(map[int]func(Notification)),
	}
}

type notificationRow struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Load scopes the feed to userID, performs the initial fetch, and opens the
// realtime subscription. Part of the session.Scoped contract. A Reset issued
// while Load is in flight invalidates it: stale items are discarded and the
// subscription is closed instead of stored.
func (f *Feed) Load(ctx context.Context, userID string) error {
	f.Reset()

	f.mu.Lock()
	f.userID = userID
	gen := f.gen
	f.mu.Unlock()

	if _, err := f.FetchRecent(ctx, defaultFetchLimit); err != nil {
		return err
	}

	sub, err := f.client.Subscribe("notifications", backend.Filters{"user_id": userID}, f.onPush)
	if err != nil {
		// The feed still works in fetch-only mode; pushes are best-effort.
		f.logger.Warn().Err(err).Msg("realtime subscription unavailable")
		return nil
	}

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	f.sub = sub
	f.mu.Unlock()
	return nil
}

// Reset tears down the subscription and clears the cached feed. Must run on
// every session change so no subscription outlives the identity it was
// opened for.
func (f *Feed) Reset() {
	f.mu.Lock()
	f.gen++
	sub := f.sub
	f.sub = nil
	f.userID = ""
	f.items = nil
	f.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
}

// FetchRecent returns the newest limit notifications, newest first, with ages
// computed at fetch time. A fetch failure is not surfaced: the feed remains
// at its last successfully fetched state.
func (f *Feed) FetchRecent(ctx context.Context, limit int) ([]Notification, error) {
	f.mu.Lock()
	userID := f.userID
	gen := f.gen
	f.mu.Unlock()

	if userID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	var rows []notificationRow
	err := f.client.Select(ctx, "notifications", backend.Filters{
		"user_id": userID,
		"_order":  "created_at.desc",
		"_limit":  fmt.Sprintf("%d", limit),
	}, &rows)
	if err != nil {
		f.logger.Warn().Err(err).Msg("notification fetch failed; keeping cached feed")
		f.mu.Lock()
		cached := append([]Notification(nil), f.items...)
		f.mu.Unlock()
		return cached, nil
	}

	now := f.now()
	items := make([]Notification, 0, len(rows))
	for _, row := range rows {
		n := row.toNotification()
		n.Age = relativeAge(now, row.CreatedAt)
		items = append(items, n)
	}

	f.mu.Lock()
	if f.gen == gen {
		f.items = items
	}
	f.mu.Unlock()
	return append([]Notification(nil), items...), nil
}

// Items returns the cached feed, newest first.
func (f *Feed) Items() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.items...)
}

// UnreadCount reports how many cached notifications are unread.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// SubscribeNew registers fn for pushed notifications. The returned function
// unregisters it.
func (f *Feed) SubscribeNew(fn func(Notification)) func() {
	f.mu.Lock()
	id := f.nextHandler
	f.nextHandler++
	f.handlers[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

// MarkAllRead flips the read flag on the service for every notification of
// the current session, then flips the cached copies. Not transactional with
// the push stream: a concurrently pushed notification may land unread.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	userID := f.userID
	f.mu.Unlock()

	if userID == "" {
		return nil
	}

	err := f.client.Update(ctx, "notifications",
		backend.Filters{"user_id": userID},
		backend.Row{"read": true})
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}

	f.mu.Lock()
	for i := range f.items {
		f.items[i].Read = true
	}
	f.mu.Unlock()
	return nil
}

// onPush handles one realtime-inserted row. Pushed entries carry the literal
// "just now" age; ages are only computed at fetch time.
func (f *Feed) onPush(data []byte) {
	var row notificationRow
	if err := json.Unmarshal(data, &row); err != nil {
		f.logger.Warn().Err(err).Msg("discarding undecodable pushed notification")
		return
	}

	n := row.toNotification()
	n.Age = "just now"

	f.mu.Lock()
	if f.userID == "" || row.UserID != f.userID {
		f.mu.Unlock()
		return
	}
	f.items = append([]Notification{n}, f.items...)
	fns := make([]func(Notification), 0, len(f.handlers))
	for _, fn := range f.handlers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

func (r notificationRow) toNotification() Notification {
	return Notification{
		ID:          r.ID,
		Kind:        Kind(r.Kind),
		Title:       r.Title,
		Description: r.Description,
		Read:        r.Read,
		CreatedAt:   r.CreatedAt,
	}
}

// relativeAge renders a coarse human-readable age.
func relativeAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
	return t.Format("2 Jan 2006")
}
