package notifier

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestEventPayloadDecoding(t *testing.T) {
	t.Run("member joined", func(t *testing.T) {
		raw := `{"account_id":"a1","full_name":"Andi","email":"andi@umkm.id"}`
		var evt memberJoinedEvent
		require.NoError(t, json.Unmarshal([]byte(raw), &evt))
		require.Equal(t, memberJoinedEvent{AccountID: "a1", FullName: "Andi", Email: "andi@umkm.id"}, evt)
	})

	t.Run("product listed carries the inserted row", func(t *testing.T) {
		raw := `{"id":"p1","seller_id":"s1","name":"Keripik","price":15000,"stock":10}`
		var evt productListedEvent
		require.NoError(t, json.Unmarshal([]byte(raw), &evt))
		require.Equal(t, productListedEvent{ID: "p1", SellerID: "s1", Name: "Keripik"}, evt)
	})

	t.Run("thread commented", func(t *testing.T) {
		raw := `{"id":"c1","thread_id":"t1","author_id":"a1","recipient_id":"r1","body":"Mantap"}`
		var evt threadCommentedEvent
		require.NoError(t, json.Unmarshal([]byte(raw), &evt))
		require.Equal(t, "r1", evt.RecipientID)
		require.Equal(t, "a1", evt.AuthorID)
	})

	t.Run("wishlist added", func(t *testing.T) {
		raw := `{"user_id":"u1","product_id":"p1"}`
		var evt wishlistAddedEvent
		require.NoError(t, json.Unmarshal([]byte(raw), &evt))
		require.Equal(t, wishlistAddedEvent{UserID: "u1", ProductID: "p1"}, evt)
	})
}

// Clients decode pushed notifications with the same row shape they fetch, so
// the wire map must keep the fetch column names.
func TestNotificationWireShape(t *testing.T) {
	created := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	note := notificationModel{
		ID:          uuid.MustParse("6b1d3c52-0f1e-4b62-9a55-0a4c2f9de111"),
		UserID:      uuid.MustParse("9f2a7e84-3b6c-4d01-8e77-1c5d9ab02222"),
		Kind:        "comment",
		Title:       "Komentar baru",
		Description: "Budi membalas thread Anda",
		Read:        false,
		CreatedAt:   created,
	}

	data, err := json.Marshal(note.toWire())
	require.NoError(t, err)

	var row struct {
		ID          string    `json:"id"`
		UserID      string    `json:"user_id"`
		Kind        string    `json:"kind"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		Read        bool      `json:"read"`
		CreatedAt   time.Time `json:"created_at"`
	}
	require.NoError(t, json.Unmarshal(data, &row))
	require.Equal(t, note.ID.String(), row.ID)
	require.Equal(t, note.UserID.String(), row.UserID)
	require.Equal(t, "comment", row.Kind)
	require.Equal(t, "Komentar baru", row.Title)
	require.False(t, row.Read)
	require.True(t, created.Equal(row.CreatedAt))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, zerolog.Nop())
	require.Error(t, err)
}
