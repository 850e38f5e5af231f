package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"umkmhub/pkg/bus"
	"umkmhub/services/app/internal/backend"
	"umkmhub/services/app/internal/config"
	"umkmhub/services/app/internal/feed"
	"umkmhub/services/app/internal/relation"
	"umkmhub/services/app/internal/session"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "umkmhub",
		Short:         "Client for the Komunitas UMKM Naik Kelas platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.umkmhub/config.yaml)")

	cmd.AddCommand(newLoginCommand(&configPath))
	cmd.AddCommand(newLogoutCommand(&configPath))
	cmd.AddCommand(newWhoamiCommand(&configPath))
	cmd.AddCommand(newProfileCommand(&configPath))
	cmd.AddCommand(newWishlistCommand(&configPath))
	cmd.AddCommand(newFollowCommand(&configPath))
	cmd.AddCommand(newUnfollowCommand(&configPath))
	cmd.AddCommand(newNotificationsCommand(&configPath))
	return cmd
}

// runtime bundles the wired client stack behind every command.
type runtime struct {
	client    *backend.HTTPClient
	syn       *session.Synchronizer
	wishlist  *relation.SetCache
	following *relation.SetCache
	feed      *feed.Feed
	logger    zerolog.Logger
}

func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	// Realtime is optional: without the bus everything degrades to fetch-only.
	var natsBus *bus.Bus
	if cfg.NATSURL != "" {
		natsBus, err = bus.New(cfg.NATSURL)
		if err != nil {
			logger.Debug().Err(err).Msg("realtime bus unavailable")
			natsBus = nil
		}
	}

	client, err := backend.NewHTTPClient(backend.Options{
		BaseURL:    cfg.APIBaseURL,
		StatePath:  cfg.StatePath,
		Bus:        natsBus,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		client:    client,
		wishlist:  relation.NewWishlist(client, logger),
		following: relation.NewFollowing(client, logger),
		feed:      feed.New(client, logger),
		logger:    logger,
	}
	rt.syn = session.New(client, logger, rt.wishlist, rt.following, rt.feed)

	if err := rt.syn.Initialize(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) close() {
	rt.wishlist.Flush()
	rt.following.Flush()
	rt.syn.Close()
	_ = rt.client.Close()
}

// requireAuthenticated fails fast for commands that need a signed-in session.
func (rt *runtime) requireAuthenticated() (session.Snapshot, error) {
	snap := rt.syn.Snapshot()
	if snap.Status != session.StatusAuthenticated {
		return snap, fmt.Errorf("not signed in; run \"umkmhub login\" first")
	}
	return snap, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
