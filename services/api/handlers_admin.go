package api

import (
	"net/http"
	"time"

	"umkmhub/pkg/db"
)

type platformStats struct {
	Members       int64 `db:"members" json:"members"`
	Products      int64 `db:"products" json:"products"`
	Follows       int64 `db:"follows" json:"follows"`
	Wishlisted    int64 `db:"wishlisted" json:"wishlisted"`
	Notifications int64 `db:"notifications" json:"notifications"`
}

type memberGrowthRow struct {
	Day   time.Time `db:"day" json:"day"`
	Count int64     `db:"count" json:"count"`
}

// handleAdminStats aggregates platform counters in a single round-trip.
func (a *API) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var stats platformStats
	err := db.Get(ctx, a.store.DB, &stats, `
		SELECT
			(SELECT count(*) FROM accounts)      AS members,
			(SELECT count(*) FROM products)      AS products,
			(SELECT count(*) FROM following)     AS follows,
			(SELECT count(*) FROM wishlist)      AS wishlisted,
			(SELECT count(*) FROM notifications) AS notifications`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// handleAdminMemberGrowth returns daily signup counts for the last 30 days.
func (a *API) handleAdminMemberGrowth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rows := []memberGrowthRow{}
	err := db.Select(ctx, a.store.DB, &rows, `
		SELECT date_trunc('day', created_at) AS day, count(*) AS count
		FROM accounts
		WHERE created_at > now() - interval '30 days'
		GROUP BY 1
		ORDER BY 1`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"growth": rows})
}
