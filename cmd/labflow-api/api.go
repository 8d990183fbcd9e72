// Package main provides the LabFlow API server implementation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/labflow/labflow/pkg/alertstream"
	"github.com/labflow/labflow/pkg/cmd"
	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/rules"
	"github.com/labflow/labflow/pkg/services"
	"github.com/labflow/labflow/pkg/sla"
	"github.com/labflow/labflow/pkg/web"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	handlers    *web.APIHandlers
}

// NewAPI wires the whole engine from command flags and returns the server
// plus a cleanup function for its resources.
func NewAPI(ctx context.Context, apiLogger *slog.Logger, command *cli.Command) (*API, func(context.Context), error) {
	ruleTable, err := loadRuleTable(command.String("rules-file"))
	if err != nil {
		return nil, nil, err
	}

	slaTable, err := loadSLATable(command.String("sla-file"))
	if err != nil {
		return nil, nil, err
	}

	resolver, err := loadRoleResolver(command.String("roles-file"))
	if err != nil {
		return nil, nil, err
	}

	store, err := cmd.NewPersistence(ctx, apiLogger, command.String("database-url"))
	if err != nil {
		return nil, nil, err
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "labflow-api", apiLogger)
	if err != nil {
		_ = store.Close(ctx)

		return nil, nil, err
	}

	var sink services.AlertSink

	var stream *alertstream.Publisher

	if redisURL := command.String("redis-url"); redisURL != "" {
		stream, err = alertstream.NewPublisher(ctx, apiLogger, redisURL, "")
		if err != nil {
			_ = store.Close(ctx)
			_ = eventBus.Close()

			return nil, nil, err
		}

		sink = stream
	}

	slaService := services.NewSLAService(store, slaTable, eventBus, sink, apiLogger)
	transitioner := services.NewTransitioner(store, ruleTable, slaService, eventBus, apiLogger)
	bulk := services.NewBulkTransitioner(transitioner, apiLogger)
	reader := services.NewWorkflowReader(store, ruleTable)

	handlers := web.NewAPIHandlers(
		transitioner, bulk, reader, slaService, resolver, store,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	cleanup := func(ctx context.Context) {
		if err := store.Close(ctx); err != nil {
			apiLogger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}

		if err := eventBus.Close(); err != nil {
			apiLogger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}

		if stream != nil {
			if err := stream.Close(); err != nil {
				apiLogger.ErrorContext(ctx, "Failed to close alert stream", "error", err)
			}
		}
	}

	return &API{
		logger:      apiLogger,
		persistence: store,
		handlers:    handlers,
	}, cleanup, nil
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("LabFlow API")
	})

	w := app.Group("/workflow")
	w.Post("/:kind/bulk-transition", a.handlers.BulkTransition)
	w.Post("/:kind/:id/transition", a.handlers.Transition)
	w.Get("/:kind/:id/next-states", a.handlers.NextStates)
	w.Get("/:kind/:id/history", a.handlers.History)

	s := app.Group("/sla")
	s.Get("/dashboard", a.handlers.SLADashboard)
	s.Get("/:kind/:id", a.handlers.SLAStatus)

	app.Get("/health", a.handlers.HealthCheck)

	return app
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(":" + strconv.Itoa(port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("Shutting down API server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return app.ShutdownWithContext(shutdownCtx)
	}
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

// loadRoleResolver reads role grants from a JSON file shaped as
// {"actor": {"laboratory_id": ["ROLE", ...]}}. With no file configured the
// resolver is empty and every role-restricted transition fails closed.
func loadRoleResolver(path string) (*services.StaticRoleResolver, error) {
	resolver := services.NewStaticRoleResolver()
	if path == "" {
		return resolver, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}

	var grants map[string]map[string][]string
	if err := json.Unmarshal(data, &grants); err != nil {
		return nil, fmt.Errorf("failed to parse roles file: %w", err)
	}

	for actor, labs := range grants {
		for laboratoryID, roles := range labs {
			resolver.Grant(actor, laboratoryID, roles...)
		}
	}

	return resolver, nil
}
