package api

import (
	"fmt"
)

// tablePolicy is the row-level access rule for one table exposed through the
// generic /v1/data surface. ownerCol names the column that ties a row to the
// account that owns it; reads and writes outside that ownership are rejected
// unless the policy opens them up or the caller is an admin.
type tablePolicy struct {
	// ownerCol scopes writes (and reads unless publicRead) to the caller.
	ownerCol string
	// publicRead allows any authenticated caller to read all rows.
	publicRead bool
	// anonymousRead additionally allows unauthenticated reads.
	anonymousRead bool
	// insertable/updatable/deletable gate the mutating verbs entirely.
	insertable bool
	updatable  bool
	deletable  bool
	// eventTopic, when set, is published on every successful insert.
	eventTopic string
}

// tablePolicies is the registry of exposed tables. Absence means the table is
// not reachable over HTTP at all, whatever exists in the database.
var tablePolicies = map[string]tablePolicy{
	"profiles": {
		ownerCol:      "id",
		publicRead:    true,
		anonymousRead: true,
		updatable:     true,
	},
	"wishlist": {
		ownerCol:   "user_id",
		insertable: true,
		deletable:  true,
		eventTopic: wishlistAddedTopic,
	},
	"following": {
		ownerCol:   "follower_id",
		insertable: true,
		deletable:  true,
	},
	"notifications": {
		ownerCol:  "user_id",
		updatable: true,
	},
	"products": {
		ownerCol:      "seller_id",
		publicRead:    true,
		anonymousRead: true,
		insertable:    true,
		updatable:     true,
		deletable:     true,
		eventTopic:    productListedTopic,
	},
	"comments": {
		ownerCol:      "author_id",
		publicRead:    true,
		anonymousRead: true,
		insertable:    true,
		deletable:     true,
		eventTopic:    threadCommentedTopic,
	},
	"events": {
		ownerCol:      "organizer_id",
		publicRead:    true,
		anonymousRead: true,
		insertable:    true,
		updatable:     true,
		deletable:     true,
		eventTopic:    eventPublishedTopic,
	},
}

func policyFor(table string) (tablePolicy, error) {
	p, ok := tablePolicies[table]
	if !ok {
		return tablePolicy{}, fmt.Errorf("unknown table %q", table)
	}
	return p, nil
}

// readScope returns the filter the policy forces onto a read, or an error if
// the caller may not read at all. An empty column means the read is unscoped.
func (p tablePolicy) readScope(id identity, authenticated bool) (col, val string, err error) {
	if p.publicRead {
		if !authenticated && !p.anonymousRead {
			return "", "", fmt.Errorf("authentication required")
		}
		return "", "", nil
	}
	if !authenticated {
		return "", "", fmt.Errorf("authentication required")
	}
	if id.isAdmin() {
		return "", "", nil
	}
	return p.ownerCol, id.UserID, nil
}

// writeScope returns the owner filter forced onto updates and deletes.
// Admins bypass the ownership check but not the verb gates.
func (p tablePolicy) writeScope(id identity) (col, val string) {
	if id.isAdmin() {
		return "", ""
	}
	return p.ownerCol, id.UserID
}
