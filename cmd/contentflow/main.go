package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"contentflow/db"
	"contentflow/internal/app"
	"contentflow/internal/config"
	"contentflow/internal/email"
	"contentflow/internal/logging"
	"contentflow/internal/scenario"
	"contentflow/internal/search"
	"contentflow/internal/session"
	"contentflow/internal/social"
	"contentflow/internal/store"

	"go.uber.org/zap"
)

func main() {
	scenarioPath := flag.String("scenario", "", "YAML scenario to seed and run")
	migrateOnly := flag.Bool("migrate-only", false, "apply migrations and exit")
	reindex := flag.Bool("reindex", false, "rebuild the search index from Postgres before running")
	flag.Parse()

	cfg := config.Load()
	logger, err := logging.New(logging.Config{
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
		ServiceName: "contentflow",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *scenarioPath, *migrateOnly, *reindex); err != nil {
		logger.Error("contentflow failed", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, scenarioPath string, migrateOnly, reindex bool) error {
	sqlDB, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpen)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	migrations, err := migrationSource(cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if err := store.ApplyMigrations(ctx, sqlDB, migrations); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations applied")
	if migrateOnly {
		return nil
	}

	directory := store.NewPostgresStore(sqlDB)

	annotations, err := social.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("annotation store: %w", err)
	}
	defer annotations.Close()

	tickets, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("ticket store: %w", err)
	}
	defer tickets.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(sqlDB), logger)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Info("SMTP not configured, assignee notifications disabled")
	}

	service := app.New(cfg, directory, annotations, tickets, searchService, mailer, logger)
	if err := service.Ping(ctx); err != nil {
		return fmt.Errorf("backing stores unreachable: %w", err)
	}

	if scenarioPath == "" {
		if reindex {
			if _, err := service.Reindex(ctx); err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
		}
		logger.Info("no scenario given, nothing to run")
		return nil
	}

	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return err
	}
	if err := scenario.Seed(ctx, directory, sc); err != nil {
		return err
	}
	if reindex {
		if _, err := service.Reindex(ctx); err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
	}

	report := scenario.Run(ctx, service, sc, logger)
	if report.Failed() {
		return fmt.Errorf("scenario %q: %d of %d steps failed", report.Scenario, failedSteps(report), len(report.Steps))
	}
	logger.Info("scenario passed", zap.String("scenario", report.Scenario), zap.Int("steps", len(report.Steps)))
	return nil
}

// migrationSource prefers an on-disk directory so schema changes can be
// tried without rebuilding.
func migrationSource(dir string) (fs.FS, error) {
	if strings.TrimSpace(dir) != "" {
		return os.DirFS(dir), nil
	}
	sub, err := fs.Sub(db.Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("embedded migrations: %w", err)
	}
	return sub, nil
}

func failedSteps(report scenario.Report) int {
	count := 0
	for _, step := range report.Steps {
		if len(step.Failures) > 0 {
			count++
		}
	}
	return count
}
