package api

import (
	"errors"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	presignURLExpiry       = 15 * time.Minute

	memberJoinedTopic    = "umkmhub.members.joined"
	productListedTopic   = "umkmhub.products.listed"
	threadCommentedTopic = "umkmhub.threads.commented"
	eventPublishedTopic  = "umkmhub.events.published"
	wishlistAddedTopic   = "umkmhub.wishlist.added"

	// realtimePrefix heads the subjects inserted rows are pushed on:
	// umkmhub.rt.{table}.{scope}.
	realtimePrefix = "umkmhub.rt"
)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AvatarBucket    string

	// Metrics defaults to the global registerer.
	Metrics prometheus.Registerer
}

// API wires dependencies and configuration for HTTP handlers.
type API struct {
	store   *Store
	config  Config
	tokens  *tokenAuthority
	metrics *apiMetrics
	logger  zerolog.Logger
}

// New initialises the API layer with sane defaults applied to the provided configuration.
func New(store *Store, cfg Config, logger zerolog.Logger) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("JWT_SECRET")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}

	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if cfg.AvatarBucket == "" {
		cfg.AvatarBucket = os.Getenv("S3_BUCKET")
	}

	if cfg.Metrics == nil {
		cfg.Metrics = prometheus.DefaultRegisterer
	}

	return &API{
		store:   store,
		config:  cfg,
		tokens:  newTokenAuthority([]byte(cfg.JWTSecret), cfg.AccessTokenTTL),
		metrics: newMetrics(cfg.Metrics),
		logger:  logger,
	}, nil
}
