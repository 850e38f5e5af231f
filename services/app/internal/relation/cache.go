// Package relation keeps a per-session set of identifiers (wishlisted product
// ids, followed user ids) mirrored between local memory and the data service.
//
// Mutations are optimistic: the local set changes synchronously, then the
// remote write is issued in the background. A failed remote write is recorded
// in a bounded failure log and logged, but the local mutation is not rolled
// back; the next bulk load realigns the cache with service truth.
package relation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"umkmhub/services/app/internal/backend"
)

// WriteFailure records a remote insert or delete that the service rejected.
type WriteFailure struct {
	Op    string
	Table string
	ID    string
	Err   error
	At    time.Time
}

// failureLogCap bounds the failure log; older entries are dropped first.
const failureLogCap = 32

// SetCache is one named relationship set. Safe for concurrent use. Local
// mutations are applied in caller-invocation order; remote writes may
// complete out of order, which is fine since the observable contract is set
// membership, not per-operation ordering.
type SetCache struct {
	table     string
	ownerCol  string
	memberCol string
	client    backend.Client
	logger    zerolog.Logger

	pending sync.WaitGroup

	mu       sync.Mutex
	userID   string
	members  map[string]struct{}
	failures []WriteFailure
	gen      uint64
	subs     map[int]func([]string)
	nextSub  int
}

// NewWishlist returns the cache over the wishlist table, keyed by
// (user_id, product_id).
func NewWishlist(client backend.Client, logger zerolog.Logger) *SetCache {
	return newSetCache("wishlist", "user_id", "product_id", client, logger)
}

// NewFollowing returns the cache over the following table, keyed by
// (follower_id, followed_id).
func NewFollowing(client backend.Client, logger zerolog.Logger) *SetCache {
	return newSetCache("following", "follower_id", "followed_id", client, logger)
}

func newSetCache(table, ownerCol, memberCol string, client backend.Client, logger zerolog.Logger) *SetCache {
	return &SetCache{
		table:     table,
		ownerCol:  ownerCol,
		memberCol: memberCol,
		client:    client,
		logger:    logger.With().Str("table", table).Logger(),
		members:   make(map[string]struct{}),
		subs:      make(map[int]func([]string)),
	}
}

// Contains reports membership from local memory only. Always false when no
// session is established.
func (c *SetCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return false
	}
	_, ok := c.members[id]
	return ok
}

// Members returns a sorted copy of the set.
func (c *SetCache) Members() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membersLocked()
}

func (c *SetCache) membersLocked() []string {
	out := make([]string, 0, len(c.members))
	for id := range c.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers fn for membership changes and invokes it once
// immediately with the current members. The returned function unregisters it.
func (c *SetCache) Subscribe(fn func([]string)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	current := c.membersLocked()
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *SetCache) broadcast() {
	c.mu.Lock()
	members := c.membersLocked()
	fns := make([]func([]string), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(members)
	}
}

// Len returns the set cardinality.
func (c *SetCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Add optimistically inserts id locally, then issues the remote insert in the
// background. Re-adding a present id is a local no-op, though the duplicate
// remote insert may still be attempted; the service's unique pair index makes
// that harmless. No-op when no session is established.
func (c *SetCache) Add(ctx context.Context, id string) {
	c.mu.Lock()
	if c.userID == "" {
		c.mu.Unlock()
		return
	}
	userID := c.userID
	c.members[id] = struct{}{}
	c.mu.Unlock()
	c.broadcast()

	row := backend.Row{c.ownerCol: userID, c.memberCol: id}
	c.pending.Add(1)
	go c.write(ctx, "insert", id, func(ctx context.Context) error {
		return c.client.Insert(ctx, c.table, row)
	})
}

// Remove optimistically deletes id locally, then issues the remote delete in
// the background. No-op when no session is established.
func (c *SetCache) Remove(ctx context.Context, id string) {
	c.mu.Lock()
	if c.userID == "" {
		c.mu.Unlock()
		return
	}
	userID := c.userID
	delete(c.members, id)
	c.mu.Unlock()
	c.broadcast()

	filters := backend.Filters{c.ownerCol: userID, c.memberCol: id}
	c.pending.Add(1)
	go c.write(ctx, "delete", id, func(ctx context.Context) error {
		return c.client.Delete(ctx, c.table, filters)
	})
}

// Load fetches all rows for userID and replaces the entire local set. Any
// optimistic entries not yet acknowledged by the service are overwritten by
// the fetched state. A Reset or a newer Load issued while the fetch is in
// flight invalidates the result; a stale result is discarded, never applied.
func (c *SetCache) Load(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	var rows []map[string]any
	err := c.client.Select(ctx, c.table, backend.Filters{c.ownerCol: userID}, &rows)
	if err != nil {
		return fmt.Errorf("load %s: %w", c.table, err)
	}

	members := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if id, ok := row[c.memberCol].(string); ok && id != "" {
			members[id] = struct{}{}
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	c.userID = userID
	c.members = members
	c.mu.Unlock()
	c.broadcast()
	return nil
}

// Reset clears the set and detaches it from any session.
func (c *SetCache) Reset() {
	c.mu.Lock()
	c.gen++
	c.userID = ""
	c.members = make(map[string]struct{})
	c.failures = nil
	c.mu.Unlock()
	c.broadcast()
}

// Failures returns a copy of the recorded remote write failures, oldest first.
func (c *SetCache) Failures() []WriteFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WriteFailure, len(c.failures))
	copy(out, c.failures)
	return out
}

// Flush blocks until all background writes issued so far have completed.
func (c *SetCache) Flush() {
	c.pending.Wait()
}

// write runs one background remote write, awaiting and recording its result
// so no failure goes unobserved, even though none is surfaced to the caller.
func (c *SetCache) write(ctx context.Context, op, id string, fn func(context.Context) error) {
	defer c.pending.Done()
	// The write must outlive the caller's context; only the timeout binds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return
	}

	c.logger.Warn().Err(err).Str("op", op).Str("id", id).Msg("relationship write failed; local set unchanged")

	c.mu.Lock()
	c.failures = append(c.failures, WriteFailure{Op: op, Table: c.table, ID: id, Err: err, At: time.Now()})
	if len(c.failures) > failureLogCap {
		c.failures = c.failures[len(c.failures)-failureLogCap:]
	}
	c.mu.Unlock()
}
