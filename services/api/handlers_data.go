package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultSelectLimit = 100
	maxSelectLimit     = 500
)

// queryScope is a parsed /v1/data query string: equality filters plus the
// reserved _limit and _order modifiers.
type queryScope struct {
	filters map[string]string
	limit   int
	orderBy string
	desc    bool
}

func parseQuery(values url.Values) (queryScope, error) {
	scope := queryScope{filters: map[string]string{}, limit: defaultSelectLimit}

	for key := range values {
		val := values.Get(key)
		switch key {
		case "_limit":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return scope, fmt.Errorf("invalid _limit %q", val)
			}
			if n > maxSelectLimit {
				n = maxSelectLimit
			}
			scope.limit = n
		case "_order":
			col, dir, found := strings.Cut(val, ".")
			if err := validColumn(col); err != nil {
				return scope, err
			}
			scope.orderBy = col
			if found {
				switch dir {
				case "asc":
				case "desc":
					scope.desc = true
				default:
					return scope, fmt.Errorf("invalid _order direction %q", dir)
				}
			}
		default:
			if strings.HasPrefix(key, "_") {
				return scope, fmt.Errorf("unknown modifier %q", key)
			}
			if err := validColumn(key); err != nil {
				return scope, err
			}
			scope.filters[key] = val
		}
	}
	return scope, nil
}

// validColumn rejects anything that could smuggle SQL through an identifier
// position; column names from clients are interpolated into gorm clauses.
func validColumn(name string) error {
	if name == "" {
		return errors.New("empty column name")
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return fmt.Errorf("invalid column name %q", name)
	}
	return nil
}

func (a *API) handleDataSelect(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	policy, err := policyFor(table)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	id, authenticated := identityFrom(r.Context())
	scopeCol, scopeVal, err := policy.readScope(id, authenticated)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	scope, err := parseQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	q := a.store.ORM.WithContext(ctx).Table(table)
	for col, val := range scope.filters {
		q = q.Where(col+" = ?", val)
	}
	if scopeCol != "" {
		// The forced owner scope wins over whatever the caller asked for.
		q = q.Where(scopeCol+" = ?", scopeVal)
	}
	if scope.orderBy != "" {
		dir := "asc"
		if scope.desc {
			dir = "desc"
		}
		q = q.Order(scope.orderBy + " " + dir)
	}

	rows := []map[string]any{}
	if err := q.Limit(scope.limit).Find(&rows).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.metrics.dataOps.WithLabelValues(table, "select").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (a *API) handleDataInsert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	policy, err := policyFor(table)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if !policy.insertable {
		respondError(w, http.StatusForbidden, fmt.Errorf("inserts into %q are not allowed", table))
		return
	}

	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}

	row := map[string]any{}
	if err := decodeJSON(r, &row); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	delete(row, "id")
	delete(row, "created_at")

	// Ownership is asserted by the token, not the payload.
	if !id.isAdmin() {
		row[policy.ownerCol] = id.UserID
	} else if _, present := row[policy.ownerCol]; !present {
		row[policy.ownerCol] = id.UserID
	}

	rowID := uuid.New()
	if !usesSerialKey(table) {
		row["id"] = rowID.String()
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.store.ORM.WithContext(ctx).Table(table).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			respondError(w, http.StatusConflict, errors.New("row already exists"))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.metrics.dataOps.WithLabelValues(table, "insert").Inc()
	a.pushInsert(table, fmt.Sprint(row[policy.ownerCol]), row)
	if policy.eventTopic != "" {
		a.publishJSON(policy.eventTopic, row)
	}

	respondJSON(w, http.StatusCreated, map[string]any{"row": row})
}

func (a *API) handleDataUpdate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	policy, err := policyFor(table)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if !policy.updatable {
		respondError(w, http.StatusForbidden, fmt.Errorf("updates to %q are not allowed", table))
		return
	}

	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}

	scope, err := parseQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	patch := map[string]any{}
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	delete(patch, "id")
	delete(patch, "created_at")
	delete(patch, policy.ownerCol)
	if table == "profiles" {
		// Privilege escalation via a profile patch is the obvious abuse.
		delete(patch, "role")
		delete(patch, "email")
	}
	if len(patch) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("empty patch"))
		return
	}
	for col := range patch {
		if err := validColumn(col); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	q := a.store.ORM.WithContext(ctx).Table(table)
	for col, val := range scope.filters {
		q = q.Where(col+" = ?", val)
	}
	if col, val := policy.writeScope(id); col != "" {
		q = q.Where(col+" = ?", val)
	}

	res := q.Updates(patch)
	if res.Error != nil {
		respondError(w, http.StatusInternalServerError, res.Error)
		return
	}

	a.metrics.dataOps.WithLabelValues(table, "update").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"updated": res.RowsAffected})
}

func (a *API) handleDataDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	policy, err := policyFor(table)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if !policy.deletable {
		respondError(w, http.StatusForbidden, fmt.Errorf("deletes from %q are not allowed", table))
		return
	}

	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}

	scope, err := parseQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(scope.filters) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("delete requires at least one filter"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	q := a.store.ORM.WithContext(ctx).Table(table)
	for col, val := range scope.filters {
		q = q.Where(col+" = ?", val)
	}
	if col, val := policy.writeScope(id); col != "" {
		q = q.Where(col+" = ?", val)
	}

	res := q.Delete(nil)
	if res.Error != nil {
		respondError(w, http.StatusInternalServerError, res.Error)
		return
	}

	a.metrics.dataOps.WithLabelValues(table, "delete").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"deleted": res.RowsAffected})
}

// usesSerialKey lists tables keyed by a database-assigned bigserial rather
// than a caller-assigned uuid.
func usesSerialKey(table string) bool {
	switch table {
	case "wishlist", "following":
		return true
	}
	return false
}
