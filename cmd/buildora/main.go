package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Suryansh1987/buildora-fr/internal/config"
	"github.com/Suryansh1987/buildora-fr/internal/controller"
	"github.com/Suryansh1987/buildora-fr/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "Path to a TOML config file")
		backendURL = flag.String("backend-url", "", "Builder backend base URL")
		projectID  = flag.Int64("project", 0, "Project id to drive (0 starts fresh)")
		sessionID  = flag.String("session-id", "", "Reuse an existing backend session by id")
		dbPath     = flag.String("db", "", "Path to the local transcript database")
		logDir     = flag.String("log-dir", "", "Directory for logs, traces, and metrics")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// flags win over file and environment, but only when actually set
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend-url":
			cfg.BackendURL = strings.TrimRight(*backendURL, "/")
		case "project":
			cfg.ProjectID = *projectID
		case "session-id":
			cfg.SessionID = *sessionID
		case "db":
			cfg.DBPath = *dbPath
		case "log-dir":
			cfg.LogDir = *logDir
		case "debug":
			cfg.Debug = *debug
		}
	})

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	db, err := telemetry.InitDB(cfg.DBPath)
	if err != nil {
		logger.Warn("transcript mirror disabled", "error", err)
		db = nil
	}

	ctrl := controller.New(cfg, db, logger, tracer, meter)
	defer ctrl.Close()

	if err := ctrl.Bootstrap(ctx); err != nil {
		// the page still runs; /retry reinitializes once the backend is up
		fmt.Fprintf(os.Stderr, "Could not initialize against the backend: %v\n", err)
		fmt.Fprintln(os.Stderr, "Type /retry once the backend is reachable.")
	}

	return ctrl.Run(ctx, os.Stdin, os.Stdout)
}
