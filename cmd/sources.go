package cmd

import (
	"fmt"

	"github.com/SticksScripts/news/config"

	"github.com/urfave/cli/v2"
)

func sourcesCmd() *cli.Command {
	return &cli.Command{
		Name:  "sources",
		Usage: "List the configured feed sources",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/news.toml",
				Usage:   "Path to sources configuration file",
				EnvVars: []string{"NEWS_CONFIG"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}
			for _, src := range cfg.Sources {
				fmt.Printf("%s\t%s\n", src.Name, src.URL)
			}
			return nil
		},
	}
}
