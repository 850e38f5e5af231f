// Package backend contains the client-side contract for talking to the
// umkmhub data service.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see the Client interface) covering
//     authentication (SignInWithPassword, SignOut, GetSession,
//     OnSessionChange), generic row-level-secured table access
//     (Select/Insert/Update/Delete), and realtime insert subscriptions
//     (Subscribe).
//  2. A concrete HTTP implementation (see HTTPClient) that persists the
//     issued tokens to a local state file, restores them on startup,
//     transparently refreshes an expired access token and replays the
//     request, and broadcasts session changes to registered listeners.
//     Realtime subscriptions ride a NATS connection.
//
// # Error Handling
//
// Common conditions are exposed as sentinel errors that callers can match
// with errors.Is: ErrUnavailable, ErrUnauthorized, ErrPermissionDenied,
// ErrNotFound, ErrInvalidCredentials.
//
// All operations accept context.Context and honor cancellation/timeouts.
package backend
