package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"umkmhub/pkg/bus"
	"umkmhub/pkg/db"
	"umkmhub/services/notifier"
)

type config struct {
	DBDSN   string `env:"DB_DSN,required"`
	NATSURL string `env:"NATS_URL,default=nats://127.0.0.1:4222"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	orm, err := db.OpenGORM(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer func() {
		if err := db.CloseGORM(orm); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}()

	natsBus, err := bus.New(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer natsBus.Close()

	n, err := notifier.New(orm, natsBus, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init notifier")
	}

	if err := n.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start notifier")
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Error().Err(err).Msg("close notifier")
		}
	}()

	log.Info().Msg("umkmhub-notifier running")
	<-ctx.Done()
}
