// Package main provides the standalone SLA breach scanner daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/labflow/labflow/pkg/alertstream"
	"github.com/labflow/labflow/pkg/cmd"
	"github.com/labflow/labflow/pkg/log"
	"github.com/labflow/labflow/pkg/otelhelper"
	"github.com/labflow/labflow/pkg/rules"
	"github.com/labflow/labflow/pkg/scanner"
	"github.com/labflow/labflow/pkg/services"
	"github.com/labflow/labflow/pkg/sla"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "labflow-scanner",
		Usage:                 "Run the periodic SLA breach scanner",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
				Name:    "schedule",
				Usage:   "Cron expression or @every interval for scan sweeps",
				Value:   scanner.DefaultSchedule,
				Sources: cli.EnvVars("SCAN_SCHEDULE"),
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
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("scanner")
	logger.InfoContext(ctx, "Initializing LabFlow SLA scanner")

	if command.Bool("tracing") {
		if _, err := otelhelper.NewTracer(ctx, "labflow-scanner"); err != nil {
			return err
		}
	}

	ruleTable, err := loadRuleTable(command.String("rules-file"))
	if err != nil {
		return err
	}

	slaTable, err := loadSLATable(command.String("sla-file"))
	if err != nil {
		return err
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "labflow-scanner", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	var sink services.AlertSink

	if redisURL := command.String("redis-url"); redisURL != "" {
		stream, err := alertstream.NewPublisher(ctx, logger, redisURL, "")
		if err != nil {
			return err
		}

		defer func() {
			if err := stream.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close alert stream", "error", err)
			}
		}()

		sink = stream
	}

	slaService := services.NewSLAService(store, slaTable, eventBus, sink, logger)
	breachScanner := scanner.NewScanner(store, ruleTable, slaService, command.String("schedule"), logger)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := breachScanner.Start(runCtx); err != nil {
		return err
	}

	<-runCtx.Done()

	return breachScanner.Stop(context.Background())
}

func loadRuleTable(path string) (*rules.Table, error) {
	if path == "" {
		return rules.DefaultTable()
	}

	return rules.LoadFile(path)
}

func loadSLATable(path string) (*sla.Table, error) {
	if path == "" {
		return sla.DefaultTable()
	}

	return sla.LoadFile(path)
}
