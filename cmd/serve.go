package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/SticksScripts/news/aggregator"
	"github.com/SticksScripts/news/config"
	"github.com/SticksScripts/news/fetcher"
	"github.com/SticksScripts/news/server"
	"github.com/SticksScripts/news/store"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the aggregated news feed",
		Description: `Starts the refresh scheduler and the HTTP server.

		Every interval the scheduler fetches all configured sources in
		parallel, merges the results into the store and trims it to the
		configured maximum. The freshest items are available on /api/items
		and streamed live on /api/items/sse.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/news.toml",
				Usage:   "Path to sources configuration file",
				EnvVars: []string{"NEWS_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   3000,
				Usage:   "Port for the HTTP server",
				EnvVars: []string{"NEWS_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}
			if len(cfg.Sources) == 0 {
				return errors.New("no sources configured")
			}

			st := store.New(cfg.MaxItems)
			bc := server.NewBroadcaster()
			sources := feedSources(cfg)

			agg := aggregator.New(&aggregator.Config{
				Store:     st,
				Fetcher:   fetcher.New(cfg.FetchTimeout),
				Sources:   sources,
				Interval:  cfg.Interval,
				Publisher: bc,
			})

			app := server.Server(&server.ServerConfig{
				Store:        st,
				Broadcaster:  bc,
				Sources:      sources,
				DefaultLimit: cfg.DefaultLimit,
			})

			aggCtx, cancel := context.WithCancel(ctx.Context)
			defer cancel()

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)
			go func() {
				<-c
				log.Info("Gracefully shutting down...")
				cancel()
				app.ShutdownWithTimeout(10 * time.Second)
				bc.Shutdown()
			}()

			go agg.Start(aggCtx)

			log.WithFields(log.Fields{
				"port":     ctx.Int("port"),
				"sources":  len(sources),
				"interval": cfg.Interval,
				"maxItems": cfg.MaxItems,
			}).Info("Starting server")

			return app.Listen(fmt.Sprintf(":%d", ctx.Int("port")))
		},
	}
}

func feedSources(cfg *config.Config) []fetcher.Source {
	return lo.Map(cfg.Sources, func(src config.TomlSource, _ int) fetcher.Source {
		return fetcher.Source{Name: src.Name, URL: src.URL}
	})
}
