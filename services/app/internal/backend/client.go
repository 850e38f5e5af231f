package backend

import (
	"context"
	"io"
	"time"
)

// Session is the authentication identity issued by the data service,
// independent of any application-level profile data.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

// Filters narrows a table operation to rows whose columns equal the given
// values. Keys starting with an underscore are reserved modifiers understood
// by the data service (_limit, _order).
type Filters map[string]string

// Row is a generic table row payload for inserts and patches.
type Row map[string]any

// Client is the transport-agnostic contract the client core depends on.
//
// Contract:
//   - GetSession: return the persisted session, or nil when signed out.
//   - OnSessionChange: register a listener invoked on sign-in, sign-out, and
//     token refresh; returns an unregister function.
//   - SignInWithPassword: authenticate; the raw service error is returned
//     without local interpretation.
//   - SignOut: invalidate the persisted session.
//   - Select/Insert/Update/Delete: row-level-secured table CRUD.
//   - Subscribe: push callback for newly inserted rows matching filters;
//     the returned closer deterministically tears the subscription down.
type Client interface {
	GetSession(ctx context.Context) (*Session, error)
	OnSessionChange(fn func(*Session)) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	Select(ctx context.Context, table string, filters Filters, dest any) error
	Insert(ctx context.Context, table string, row Row) error
	Update(ctx context.Context, table string, filters Filters, patch Row) error
	Delete(ctx context.Context, table string, filters Filters) error
	Subscribe(table string, filters Filters, onInsert func(row []byte)) (io.Closer, error)
	Close() error
}
