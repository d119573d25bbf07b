package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/SticksScripts/news/aggregator"
	"github.com/SticksScripts/news/config"
	"github.com/SticksScripts/news/fetcher"
	"github.com/SticksScripts/news/models"
	"github.com/SticksScripts/news/store"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Run one refresh cycle and print the aggregated items",
		Description: `Fetches all configured sources once, merges and trims the
		result, and prints the retained items to stdout.

		Returns each item as a JSON object on a single line, freshest first.
		Use a tool like jq to process the output.

		Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/news.toml",
				Usage:   "Path to sources configuration file",
				EnvVars: []string{"NEWS_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   0,
				Usage:   "Maximum number of items to print, 0 prints the whole store",
			},
		},
		Action: func(ctx *cli.Context) error {
			// Keep stdout clean for the JSON output
			log.SetOutput(os.Stderr)

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			st := store.New(cfg.MaxItems)
			agg := aggregator.New(&aggregator.Config{
				Store:    st,
				Fetcher:  fetcher.New(cfg.FetchTimeout),
				Sources:  feedSources(cfg),
				Interval: cfg.Interval,
			})
			agg.RunCycle(ctx.Context)

			limit := ctx.Int("limit")
			if limit <= 0 {
				limit = st.Len()
			}
			for _, item := range st.Latest(limit) {
				printStdout(&item)
			}
			return nil
		},
	}
}

func printStdout(item *models.Item) {
	// Print as single JSON string on a single line
	itemJson, err := json.Marshal(item)
	if err == nil {
		fmt.Println(string(itemJson))
	}
}
