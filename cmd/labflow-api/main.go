package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/labflow/labflow/pkg/log"
	"github.com/labflow/labflow/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9080

func main() {
	command := &cli.Command{
		Name:                  "labflow-api",
		Usage:                 "Serve the lab workflow transition and SLA API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (postgres://... or empty for in-memory)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the alert stream (empty disables the stream)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "rules-file",
				Usage:   "JSON file overriding the built-in workflow rule tables",
				Sources: cli.EnvVars("RULES_FILE"),
			},
			&cli.StringFlag{
				Name:    "sla-file",
				Usage:   "JSON file overriding the built-in SLA thresholds",
				Sources: cli.EnvVars("SLA_FILE"),
			},
			&cli.StringFlag{
				Name:    "roles-file",
				Usage:   "JSON file with per-laboratory role grants",
				Sources: cli.EnvVars("ROLES_FILE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing LabFlow API")

			if command.Bool("tracing") {
				if _, err := otelhelper.NewTracer(ctx, "labflow-api"); err != nil {
					return err
				}
			}

			api, cleanup, err := NewAPI(ctx, logger, command)
			if err != nil {
				return err
			}
			defer cleanup(ctx)

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return api.Start(runCtx, command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
