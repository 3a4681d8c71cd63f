// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package widgetd assembles the chat widget backend service.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the SQLite store, the assistant bridge,
// Telegram notifications, the idle-chat sweeper, and observability
// infrastructure.
//
// # Usage
//
//	cfg := widgetd.Config{Port: 8787, DBPath: "./data/widget.db"}
//	svc, err := widgetd.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package widgetd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aiwidget/server/services/assistant"
	"github.com/aiwidget/server/services/widgetd/cleanup"
	"github.com/aiwidget/server/services/widgetd/handlers"
	"github.com/aiwidget/server/services/widgetd/middleware"
	"github.com/aiwidget/server/services/widgetd/notify"
	"github.com/aiwidget/server/services/widgetd/routes"
	"github.com/aiwidget/server/services/widgetd/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the widget backend service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases background workers and the store.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service configuration options.
//
// # Description
//
// Config centralizes all configuration for the widget backend. Values
// are typically populated from environment variables by cmd/widgetd,
// or programmatically for testing.
//
// # Required Fields
//
// JWTSecret must be set; every other field has a usable default.
type Config struct {
	// Port is the HTTP server port. Default: 8787
	Port int

	// DBPath is the SQLite database path. Default: "./data/widget.db"
	DBPath string

	// JWTSecret signs session cookies. Required.
	JWTSecret string

	// AdminLogin and AdminPassword are the built-in operator
	// credentials checked before the users table.
	AdminLogin    string
	AdminPassword string

	// TelegramToken enables Telegram notifications when non-empty.
	TelegramToken string

	// AssistantTransport selects how assistant runs are consumed.
	// Valid values: assistant.TransportStream, assistant.TransportPoll.
	// Default: streaming.
	AssistantTransport string

	// ChatIdleAfter is how long a chat may sit untouched before the
	// sweeper closes it. Default: 24h.
	ChatIdleAfter time.Duration

	// CleanupInterval is how often the sweeper runs. Default: 1h.
	CleanupInterval time.Duration

	// OTelEndpoint is the OpenTelemetry collector endpoint. Tracing is
	// skipped entirely when empty.
	OTelEndpoint string

	// SecureCookies marks session cookies Secure. Enable behind TLS.
	SecureCookies bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses GIN_MODE env var or "debug".
	GinMode string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8787
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./data/widget.db"
	}
	if cfg.AssistantTransport == "" {
		cfg.AssistantTransport = assistant.TransportStream
	}
	if cfg.ChatIdleAfter == 0 {
		cfg.ChatIdleAfter = 24 * time.Hour
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	store         *store.SQLiteStore
	sweeper       *cleanup.Sweeper
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a widget backend Service with the given configuration.
//
// # Description
//
// New initializes all components in order:
//  1. Applies default configuration for missing values
//  2. Opens the SQLite store and runs schema migration
//  3. Builds the assistant bridge and Telegram notifier
//  4. Starts the idle-chat sweeper
//  5. Initializes OpenTelemetry tracing when an endpoint is configured
//  6. Sets up HTTP routes
//
// # Outputs
//
//   - Service: Ready-to-run service
//   - error: Non-nil if the store cannot be opened or config is invalid
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("widgetd: JWTSecret is required")
	}

	s := &service{config: cfg}

	var err error
	s.store, err = store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	bridge := assistant.NewOpenAIClient(assistant.Config{
		Transport: cfg.AssistantTransport,
	})

	telegram := notify.NewTelegramClient(cfg.TelegramToken)
	if telegram.Configured() {
		slog.Info("Telegram notifications enabled")
	} else {
		slog.Info("Telegram notifications disabled, no bot token configured")
	}
	notifier := notify.NewNotifier(telegram)

	s.sweeper = cleanup.NewSweeper(s.store, cleanup.Config{
		IdleAfter: cfg.ChatIdleAfter,
		Interval:  cfg.CleanupInterval,
	})
	s.sweeper.Start()

	if cfg.OTelEndpoint != "" {
		tracerCleanup, err := initTracer(cfg.OTelEndpoint)
		if err != nil {
			slog.Warn("Tracing initialization failed, continuing without it",
				"error", err)
		} else {
			s.tracerCleanup = tracerCleanup
		}
	}

	s.initRouter(bridge, notifier)

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.Close()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting widget backend", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close stops the sweeper, flushes the tracer, and closes the store.
// Safe to call more than once.
func (s *service) Close() error {
	s.sweeper.Stop()
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
	return s.store.Close()
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initRouter(bridge assistant.Client, notifier *notify.Notifier) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	if s.tracerCleanup != nil {
		s.router.Use(otelgin.Middleware("widgetd"))
	}

	authority := middleware.NewTokenAuthority(s.config.JWTSecret)
	routes.SetupRoutes(s.router, routes.Deps{
		Widget: handlers.WidgetDeps{
			Store:    s.store,
			Bridge:   bridge,
			Notifier: notifier,
		},
		Admin: handlers.AdminDeps{
			Store:  s.store,
			Bridge: bridge,
		},
		Auth: handlers.AuthDeps{
			Store:         s.store,
			Authority:     authority,
			AdminLogin:    s.config.AdminLogin,
			AdminPassword: s.config.AdminPassword,
			SecureCookies: s.config.SecureCookies,
		},
		Authority: authority,
	})
}

// initTracer sets up an OTLP trace exporter against the collector.
//
// Uses an insecure gRPC connection, appropriate for collectors on the
// same internal network.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("widgetd")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}
