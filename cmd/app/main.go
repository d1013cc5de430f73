package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ansuz/internal"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

func run(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	// Flags and their env sources win over the file.
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func applyFlags(cmd *cli.Command, cfg *internal.Config) {
	if cmd.IsSet("workers") {
		cfg.Pipeline.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("path") {
		cfg.Vault.Path = cmd.String("path")
	}
	if cmd.IsSet("timeout") {
		cfg.Pipeline.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("bucket") {
		cfg.Upload.Bucket = cmd.String("bucket")
	}
	if cmd.IsSet("db") {
		cfg.SQLite.Path = cmd.String("db")
	}
	if cmd.IsSet("skip-upload") {
		cfg.Upload.Skip = cmd.Bool("skip-upload")
	}
	if cmd.IsSet("watch") {
		cfg.Watch.Enabled = cmd.Bool("watch")
	}
	if cmd.IsSet("port") {
		cfg.App.HTTP.Port = int(cmd.Int("port"))
	}
	if cmd.Bool("debug") {
		cfg.App.LogLevel = slog.LevelDebug
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "ansuz",
		Usage:  "Ingest a markdown content vault into SQLite and publish its media assets",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (missing file means defaults)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Number of ingest workers",
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"p"},
				Usage:   "Vault directory",
				Sources: cli.EnvVars("VAULT_PATH"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Timeout for the whole ingest run",
			},
			&cli.StringFlag{
				Name:    "bucket",
				Aliases: []string{"b"},
				Usage:   "Bucket receiving media assets",
				Sources: cli.EnvVars("BUCKET_NAME"),
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "SQLite database file",
				Sources: cli.EnvVars("DB_NAME"),
			},
			&cli.BoolFlag{
				Name:    "skip-upload",
				Usage:   "Do not upload media assets",
				Sources: cli.EnvVars("SKIP_S3_UPLOAD"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("DEBUG"),
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Keep running and re-ingest on vault changes",
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Status server port in watch mode (0 disables)",
				Sources: cli.EnvVars("PORT"),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
