// Package notifier turns durable platform events into notification rows and
// pushes them to any client subscribed to the owner's realtime subject.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"umkmhub/pkg/bus"
)

const (
	memberJoinedSubject    = "umkmhub.members.joined"
	productListedSubject   = "umkmhub.products.listed"
	threadCommentedSubject = "umkmhub.threads.commented"
	eventPublishedSubject  = "umkmhub.events.published"
	wishlistAddedSubject   = "umkmhub.wishlist.added"

	realtimePrefix = "umkmhub.rt"
)

// Notifier fans platform events out into per-member notifications.
type Notifier struct {
	orm    *gorm.DB
	bus    *bus.Bus
	logger zerolog.Logger

	subsMu sync.Mutex
	subs   []io.Closer
}

// New creates a notifier bound to the provided dependencies.
func New(orm *gorm.DB, bus *bus.Bus, logger zerolog.Logger) (*Notifier, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	return &Notifier{orm: orm, bus: bus, logger: logger}, nil
}

// Start registers NATS subscriptions and begins processing events.
func (n *Notifier) Start(ctx context.Context) error {
	if n == nil {
		return errors.New("nil notifier")
	}

	specs := []struct {
		subject string
		durable string
		handler func(context.Context, []byte) error
	}{
		{memberJoinedSubject, "notifier-members", n.handleMemberJoined},
		{productListedSubject, "notifier-products", n.handleProductListed},
		{threadCommentedSubject, "notifier-comments", n.handleThreadCommented},
		{eventPublishedSubject, "notifier-events", n.handleEventPublished},
		{wishlistAddedSubject, "notifier-wishlist", n.handleWishlistAdded},
	}

	for _, spec := range specs {
		closer, err := n.bus.Subscribe(ctx, spec.subject, spec.durable, spec.handler)
		if err != nil {
			n.Close()
			return err
		}
		n.subsMu.Lock()
		n.subs = append(n.subs, closer)
		n.subsMu.Unlock()
	}

	return nil
}

// Close tears down active subscriptions.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}

	n.subsMu.Lock()
	defer n.subsMu.Unlock()

	var firstErr error
	for _, sub := range n.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.subs = nil
	return firstErr
}

func (n *Notifier) handleMemberJoined(ctx context.Context, data []byte) error {
	var evt memberJoinedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.FullName == "" {
		evt.FullName = evt.Email
	}

	var admins []profileModel
	if err := n.orm.WithContext(ctx).Where("role = ?", "admin").Find(&admins).Error; err != nil {
		return err
	}

	for _, admin := range admins {
		if admin.ID.String() == evt.AccountID {
			continue
		}
		err := n.notify(ctx, notificationModel{
			UserID:      admin.ID,
			Kind:        "new_member",
			Title:       "Anggota baru",
			Description: fmt.Sprintf("%s baru saja bergabung dengan komunitas", evt.FullName),
			Meta:        map[string]any{"account_id": evt.AccountID},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) handleProductListed(ctx context.Context, data []byte) error {
	var evt productListedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}

	seller, err := n.profile(ctx, evt.SellerID)
	if err != nil {
		return err
	}

	sellerName := seller.BusinessName
	if sellerName == "" {
		sellerName = seller.FullName
	}

	return n.notifyFollowers(ctx, seller.ID, notificationModel{
		Kind:        "event",
		Title:       "Produk baru",
		Description: fmt.Sprintf("%s menambahkan produk baru: %s", sellerName, evt.Name),
		Meta:        map[string]any{"product_id": evt.ID, "seller_id": evt.SellerID},
	})
}

func (n *Notifier) handleThreadCommented(ctx context.Context, data []byte) error {
	var evt threadCommentedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.RecipientID == "" || evt.RecipientID == evt.AuthorID {
		return nil
	}

	recipientID, err := uuid.Parse(evt.RecipientID)
	if err != nil {
		n.logger.Warn().Str("recipient_id", evt.RecipientID).Msg("dropping comment event with bad recipient")
		return nil
	}

	author, err := n.profile(ctx, evt.AuthorID)
	if err != nil {
		return err
	}

	return n.notify(ctx, notificationModel{
		UserID:      recipientID,
		Kind:        "comment",
		Title:       "Komentar baru",
		Description: fmt.Sprintf("%s membalas diskusi Anda", author.FullName),
		Meta:        map[string]any{"thread_id": evt.ThreadID, "comment_id": evt.ID},
	})
}

func (n *Notifier) handleEventPublished(ctx context.Context, data []byte) error {
	var evt eventPublishedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}

	organizer, err := n.profile(ctx, evt.OrganizerID)
	if err != nil {
		return err
	}

	return n.notifyFollowers(ctx, organizer.ID, notificationModel{
		Kind:        "event",
		Title:       "Event baru",
		Description: fmt.Sprintf("%s mengadakan event: %s", organizer.FullName, evt.Title),
		Meta:        map[string]any{"event_id": evt.ID, "organizer_id": evt.OrganizerID},
	})
}

func (n *Notifier) handleWishlistAdded(ctx context.Context, data []byte) error {
	var evt wishlistAddedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}

	productID, err := uuid.Parse(evt.ProductID)
	if err != nil {
		n.logger.Warn().Str("product_id", evt.ProductID).Msg("dropping wishlist event with bad product")
		return nil
	}

	var product productModel
	err = n.orm.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Product deleted before the event landed; nothing to tell anyone.
		return nil
	}
	if err != nil {
		return err
	}
	if product.SellerID.String() == evt.UserID {
		return nil
	}

	return n.notify(ctx, notificationModel{
		UserID:      product.SellerID,
		Kind:        "wishlist_update",
		Title:       "Produk Anda diminati",
		Description: fmt.Sprintf("Seseorang menambahkan %s ke wishlist", product.Name),
		Meta:        map[string]any{"product_id": evt.ProductID},
	})
}

func (n *Notifier) profile(ctx context.Context, id string) (profileModel, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return profileModel{}, fmt.Errorf("bad profile id %q: %w", id, err)
	}
	var p profileModel
	if err := n.orm.WithContext(ctx).Where("id = ?", parsed).First(&p).Error; err != nil {
		return profileModel{}, err
	}
	return p, nil
}

func (n *Notifier) notifyFollowers(ctx context.Context, followedID uuid.UUID, template notificationModel) error {
	var follows []followModel
	if err := n.orm.WithContext(ctx).Where("followed_id = ?", followedID).Find(&follows).Error; err != nil {
		return err
	}

	for _, follow := range follows {
		note := template
		note.UserID = follow.FollowerID
		if err := n.notify(ctx, note); err != nil {
			return err
		}
	}
	return nil
}

// notify writes the notification row, then pushes it to the owner's realtime
// subject so connected clients see it without refetching.
func (n *Notifier) notify(ctx context.Context, note notificationModel) error {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	if err := n.orm.WithContext(ctx).Create(&note).Error; err != nil {
		return err
	}

	subject := fmt.Sprintf("%s.notifications.%s", realtimePrefix, note.UserID)
	if err := n.bus.Push(subject, note.toWire()); err != nil {
		n.logger.Warn().Err(err).Str("subject", subject).Msg("realtime push failed")
	}
	return nil
}

// toWire matches the row shape clients decode from both fetches and pushes.
func (m notificationModel) toWire() map[string]any {
	return map[string]any{
		"id":          m.ID.String(),
		"user_id":     m.UserID.String(),
		"kind":        m.Kind,
		"title":       m.Title,
		"description": m.Description,
		"read":        m.Read,
		"created_at":  m.CreatedAt,
	}
}
