package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/ehr/careflow/internal/config"
	"github.com/ehr/careflow/internal/domain/concept"
	"github.com/ehr/careflow/internal/domain/program"
	"github.com/ehr/careflow/internal/enrollment"
	"github.com/ehr/careflow/internal/metadata"
	"github.com/ehr/careflow/internal/platform/auth"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
	"github.com/ehr/careflow/internal/platform/middleware"
	"github.com/ehr/careflow/internal/sweep"
	"github.com/ehr/careflow/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "careflow-server",
		Short:        "Care program enrollment automation",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(installMetadataCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the careflow API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Auto-complete enrollments that exceeded their program duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				a, err := newApp(cfg, pool, newLogger(cfg))
				if err != nil {
					return err
				}
				report, err := a.sweep.Run(ctx)
				if err != nil {
					return fmt.Errorf("sweep failed: %w", err)
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			})
		},
	}
}

func installMetadataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install-metadata",
		Short: "Ensure the care programs, workflows and states exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				a, err := newApp(cfg, pool, newLogger(cfg))
				if err != nil {
					return err
				}
				report, err := a.installer.Install(ctx)
				if err != nil {
					return fmt.Errorf("install metadata: %w", err)
				}
				fmt.Printf("Installed: %v\nSkipped: %v\n", report.Installed, report.Skipped)
				return nil
			})
		},
	}
}

// withPool loads the configuration and opens a pool for one-shot commands.
func withPool(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app is the wired service graph shared by the server and the one-shot
// commands.
type app struct {
	programs   *program.Service
	installer  *metadata.Installer
	dispatcher *enrollment.Dispatcher
	sweep      *sweep.Task
}

func newApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	catalog, err := metadata.Load(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	childDef, ok := catalog.Program(metadata.ChildNutrition)
	if !ok {
		return nil, fmt.Errorf("catalog has no %s program", metadata.ChildNutrition)
	}
	prenatalDef, ok := catalog.Program(metadata.Prenatal)
	if !ok {
		return nil, fmt.Errorf("catalog has no %s program", metadata.Prenatal)
	}

	tx := db.NewTransactor(pool)
	clk := clock.RealClock{}
	conceptSvc := concept.NewService(concept.NewRepoPG(pool))
	programSvc := program.NewService(program.NewProgramRepoPG(pool), program.NewEnrollmentRepoPG(pool))

	deps := enrollment.Deps{
		Programs: programSvc,
		Concepts: conceptSvc,
		Clock:    clk,
		Logger:   logger,
	}

	return &app{
		programs:  programSvc,
		installer: metadata.NewInstaller(catalog, conceptSvc, programSvc, tx, logger),
		dispatcher: enrollment.NewDispatcher(tx, logger,
			enrollment.NewChildNutrition(childDef, deps),
			enrollment.NewPrenatal(prenatalDef, deps),
		),
		sweep: sweep.NewTask(catalog, programSvc, conceptSvc, tx, clk, logger),
	}, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	a, err := newApp(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	if cfg.InstallMetadata {
		report, err := a.installer.Install(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("metadata install failed")
		}
		logger.Info().Strs("installed", report.Installed).Strs("skipped", report.Skipped).Msg("metadata installed")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.BodyLimit("2M"))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: signingKey(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	enrollment.NewHandler(a.dispatcher).RegisterRoutes(apiV1)
	sweep.NewHandler(a.sweep).RegisterRoutes(apiV1)
	program.NewHandler(a.programs).RegisterRoutes(apiV1)

	var scheduler *sweep.Scheduler
	if cfg.SweepEnabled {
		scheduler, err = sweep.NewScheduler(cfg.SweepSchedule, a.sweep, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule sweep")
		}
		scheduler.Start()
	}

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("sweep scheduler did not stop in time")
		}
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func signingKey(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
