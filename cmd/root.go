package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "news",
		Usage: "A bounded, deduplicating aggregator for syndicated news feeds",
		Description: `Aggregates RSS and Atom feeds from a configured set of sources
		into a single in-memory collection, deduplicated by entry identity
		with newest-wins semantics and bounded to a configured size.

		The freshest items are served over an HTTP API together with a
		server-sent-events stream of newly accepted items.

		Flags can generally be set via environment variables, e.g.:

		--config => NEWS_CONFIG=config/news.toml
		--port => NEWS_PORT=3000
		`,
		Commands: []*cli.Command{
			serveCmd(),
			fetchCmd(),
			sourcesCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
