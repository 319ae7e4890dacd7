package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuetimer/go/internal/audit"
	"github.com/mcdev12/cuetimer/go/internal/config"
	"github.com/mcdev12/cuetimer/go/internal/dbconfig"
	"github.com/mcdev12/cuetimer/go/internal/events"
)

// setupPublishers connects the optional event outputs. A sink that cannot be
// reached is logged and skipped; the timer itself never depends on them.
func setupPublishers(ctx context.Context, cfg config.Config) ([]events.Publisher, []func()) {
	var (
		publishers []events.Publisher
		closers    []func()
	)

	if cfg.Events.NATSURL != "" {
		jsConfig := events.DefaultJetStreamConfig()
		jsConfig.URL = cfg.Events.NATSURL
		jsConfig.StreamName = cfg.Events.StreamName
		jsConfig.SubjectPrefix = cfg.Events.SubjectPrefix

		publisher, err := events.NewJetStreamPublisher(ctx, jsConfig)
		if err != nil {
			log.Error().Err(err).Str("nats_url", jsConfig.URL).Msg("event stream disabled")
		} else {
			publishers = append(publishers, publisher)
			closers = append(closers, func() {
				if err := publisher.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close event stream")
				}
			})
		}
	}

	if cfg.Audit.Enabled {
		dbCfg := dbconfig.NewConfigFromEnv()
		recorder, err := audit.Open(ctx, dbCfg)
		if err != nil {
			log.Error().Err(err).Str("database", dbCfg.Database).Msg("audit log disabled")
		} else {
			log.Info().
				Str("database", dbCfg.Database).
				Str("host", dbCfg.Host).
				Msg("audit log enabled")
			publishers = append(publishers, recorder)
			closers = append(closers, func() {
				if err := recorder.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close audit database")
				}
			})
		}
	}

	return publishers, closers
}
