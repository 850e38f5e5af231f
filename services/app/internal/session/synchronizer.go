// Package session owns the mapping from the data service's opaque session to
// the application-level profile, and broadcasts state changes to consumers.
//
// The synchronizer is the single writer of Session and Profile. Views and
// other consumers read immutable snapshots and must not cache them across
// their own asynchronous boundaries.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"umkmhub/services/app/internal/backend"
)

// Status is the synchronizer's lifecycle state. Consumers must treat the
// pre-initialization interval as indeterminate rather than signed-out.
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

var (
	// ErrNotAuthenticated is returned by operations that require a live session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrProfileUpdate wraps a data service rejection of a profile write.
	ErrProfileUpdate = errors.New("profile update rejected")
)

// Snapshot is the read-only view handed to consumers. Profile is nil while
// unauthenticated, and transiently nil right after sign-in until hydration
// completes or fails.
type Snapshot struct {
	Status  Status
	Session *backend.Session
	Profile *Profile
}

// Scoped is per-session state that follows the session lifecycle: loaded in
// full when an identity is established, reset when it goes away. The
// relationship caches and the notification feed implement it.
type Scoped interface {
	Load(ctx context.Context, userID string) error
	Reset()
}

// Synchronizer reacts to session-change events from the data service,
// hydrates the profile, and keeps registered per-session state in step.
type Synchronizer struct {
	client backend.Client
	logger zerolog.Logger
	scoped []Scoped

	mu       sync.Mutex
	status   Status
	session  *backend.Session
	profile  *Profile
	epoch    uint64
	subs     map[int]func(Snapshot)
	nextSub  int
	unlisten func()
}

// New constructs a Synchronizer over the given client. The scoped caches are
// loaded and reset as sessions come and go. Call Initialize before use.
func New(client backend.Client, logger zerolog.Logger, scoped ...Scoped) *Synchronizer {
	return &Synchronizer{
		client: client,
		logger: logger,
		scoped: scoped,
		status: StatusUninitialized,
		subs:   make(map[int]func(Snapshot)),
	}
}

// Initialize restores any persisted session and hydrates from it. It resolves
// to a definitive signed-in or signed-out state; until it returns, Snapshot
// reports StatusInitializing.
func (s *Synchronizer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusUninitialized {
		s.mu.Unlock()
		return errors.New("already initialized")
	}
	s.status = StatusInitializing
	s.unlisten = s.client.OnSessionChange(func(session *backend.Session) {
		s.handleSession(context.Background(), session)
	})
	s.mu.Unlock()
	s.broadcast()

	session, err := s.client.GetSession(ctx)
	if err != nil {
		// Treat an unreachable service at startup as signed out; a later
		// session-change event corrects the state.
		s.logger.Warn().Err(err).Msg("session restore failed")
		session = nil
	}

	s.handleSession(ctx, session)
	return nil
}

// Close detaches from the client's session-change stream.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	unlisten := s.unlisten
	s.unlisten = nil
	s.mu.Unlock()
	if unlisten != nil {
		unlisten()
	}
}

// Snapshot returns the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for state changes and invokes it once immediately
// with the current snapshot. The returned function unregisters it.
func (s *Synchronizer) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	current := s.snapshotLocked()
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SignIn delegates to the data service and returns its raw result without
// local interpretation. On success the service emits a session-change event,
// which drives hydration.
func (s *Synchronizer) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	return s.client.SignInWithPassword(ctx, email, password)
}

// SignOut revokes the session and synchronously clears the profile and every
// scoped cache, without waiting for the session-change echo. This avoids a
// visible flash of stale authenticated state.
func (s *Synchronizer) SignOut(ctx context.Context) error {
	err := s.client.SignOut(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("sign-out call failed; clearing local state anyway")
	}

	s.mu.Lock()
	s.epoch++ // invalidate any in-flight hydration
	s.session = nil
	s.profile = nil
	s.status = StatusUnauthenticated
	s.mu.Unlock()

	for _, cache := range s.scoped {
		cache.Reset()
	}
	s.broadcast()
	return err
}

// UpdateProfile writes the set fields of patch to the profiles table and
// merges them into the in-memory profile on success. There is no optimistic
// local update: a rejected write leaves the profile untouched and returns an
// error matching ErrProfileUpdate.
func (s *Synchronizer) UpdateProfile(ctx context.Context, patch Patch) error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return ErrNotAuthenticated
	}

	cols := patch.columns()
	if len(cols) == 0 {
		return nil
	}

	err := s.client.Update(ctx, "profiles", backend.Filters{"id": session.UserID}, cols)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrProfileUpdate, err.Error())
	}

	s.mu.Lock()
	if s.session != nil && s.session.UserID == session.UserID && s.profile != nil {
		merged := patch.apply(*s.profile)
		s.profile = &merged
	}
	s.mu.Unlock()

	s.broadcast()
	return nil
}

// handleSession is the single entry point for session transitions: initial
// restore, sign-in, sign-out, and token refresh all funnel through it.
// Hydration always re-runs from scratch; no incremental patching.
func (s *Synchronizer) handleSession(ctx context.Context, session *backend.Session) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.session = session

	if session == nil {
		s.status = StatusUnauthenticated
		s.profile = nil
		s.mu.Unlock()

		for _, cache := range s.scoped {
			cache.Reset()
		}
		s.broadcast()
		return
	}

	s.status = StatusAuthenticated
	s.profile = nil
	s.mu.Unlock()
	s.broadcast()

	profile := s.hydrateProfile(ctx, session)

	// Apply only if no newer session event arrived while we were fetching.
	// A stale hydration result must be discarded, never applied.
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.profile = profile
	s.mu.Unlock()

	for _, cache := range s.scoped {
		if err := cache.Load(ctx, session.UserID); err != nil {
			s.logger.Warn().Err(err).Msg("scoped cache load failed")
		}
	}
	s.broadcast()
}

// hydrateProfile looks the profile up by the session subject. Failure is
// recovered by leaving the profile nil; it never propagates into the
// session-change pipeline.
func (s *Synchronizer) hydrateProfile(ctx context.Context, session *backend.Session) *Profile {
	var rows []profileRow
	err := s.client.Select(ctx, "profiles", backend.Filters{"id": session.UserID}, &rows)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", session.UserID).Msg("profile lookup failed")
		return nil
	}
	if len(rows) == 0 {
		s.logger.Error().Str("user_id", session.UserID).Msg("no profile row for session subject")
		return nil
	}

	profile := rows[0].toProfile()
	return &profile
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	snap := Snapshot{Status: s.status}
	if s.session != nil {
		session := *s.session
		snap.Session = &session
	}
	if s.profile != nil {
		profile := *s.profile
		snap.Profile = &profile
	}
	return snap
}

func (s *Synchronizer) broadcast() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
