package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/jayusctrojan/Empire-sub002/internal/api"
	"github.com/jayusctrojan/Empire-sub002/internal/config"
	"github.com/jayusctrojan/Empire-sub002/internal/coordination"
	"github.com/jayusctrojan/Empire-sub002/internal/database"
	"github.com/jayusctrojan/Empire-sub002/internal/jobqueue"
	"github.com/jayusctrojan/Empire-sub002/internal/retry"
	"github.com/jayusctrojan/Empire-sub002/internal/roster"
	"github.com/jayusctrojan/Empire-sub002/internal/stream"
)

// ServeCommand returns the CLI command for starting the coordination server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the coordination API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	dbURL := cfg.Database.URL
	if dbURL == "" {
		dbURL, err = database.ResolveURL()
		if err != nil {
			return err
		}
	}

	db, err := database.NewDB(dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, dbURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := coordination.NewPostgresStore(db)
	crews := roster.NewPostgresResolver(db)

	hub := stream.NewHub()
	notify := stream.NewNotifyPublisher(pool)
	publisher := stream.MultiPublisher{hub, notify}
	svc := coordination.NewService(store, crews,
		coordination.WithStream(publisher),
		coordination.WithUrgencyWindow(cfg.UrgencyWindow()),
	)

	listener := stream.NewListener(pool, hub, notify.Origin())
	go func() {
		err := retry.Do(ctx, retry.ForeverConfig(), "interaction bridge", listener.Run)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Interaction bridge stopped")
		}
	}()

	if cfg.Jobs.Enabled {
		queue, err := jobqueue.NewJobQueue(pool, svc, &jobqueue.QueueConfig{
			MaxWorkers:    cfg.Jobs.MaxWorkers,
			MaxRetries:    jobqueue.DefaultQueueConfig().MaxRetries,
			SweepInterval: cfg.SweepInterval(),
		})
		if err != nil {
			return err
		}
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer queue.Stop(context.Background())
		svc.SetEscalationQueue(queue)
	}

	log.Info().Int("port", port).Msg("Starting coordination API server")
	return api.NewServer(port, svc, hub).Start()
}
