package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/ledger"
	"DubbingPlatform-server/logging"
	"DubbingPlatform-server/models"
	"DubbingPlatform-server/pipeline"
	"DubbingPlatform-server/routers"
	"DubbingPlatform-server/routers/api"
	"DubbingPlatform-server/service"
	"DubbingPlatform-server/stages"
	"DubbingPlatform-server/storage"

	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app holds the shared dependencies every subcommand builds on.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	store  storage.Store
	ledger *ledger.Ledger
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "dubbing",
		Short:         "Multilingual dubbing job server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "Configuration file path")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newWorkerCommand(&configPath))
	root.AddCommand(newMigrateCommand(&configPath))
	root.AddCommand(newComplianceCommand(&configPath))
	return root
}

func bootstrap(ctx context.Context, configPath string, withStore bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := models.OpenDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}
	if !withStore {
		return a, nil
	}
	a.store, err = storage.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := []ledger.Option{ledger.WithLogger(logger)}
	if cfg.Stages.Watermark.URL != "" {
		opts = append(opts, ledger.WithEmbedder(stages.NewHTTPWatermarker(cfg.Stages.Watermark, http.DefaultClient)))
	}
	a.ledger = ledger.New(db, a.store, cfg.Ethics, opts...)
	return a, nil
}

func (a *app) processor() *service.Processor {
	set := stages.NewHTTPSet(a.cfg.Stages, http.DefaultClient)
	orch := pipeline.New(a.db, set, a.ledger, a.cfg, pipeline.WithLogger(a.logger))
	return service.NewProcessor(orch, a.cfg, a.logger)
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServeCommand(configPath *string) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, *configPath, true)
			if err != nil {
				return err
			}
			defer a.close()
			if err := models.AutoMigrate(a.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			queue := service.NewQueue(a.cfg, a.logger)
			defer queue.Close()
			jobs := service.NewJobService(a.db, a.store, a.ledger, queue, a.cfg, models.SystemClock{}, a.logger)

			if withWorker {
				proc := a.processor()
				if err := proc.Start(); err != nil {
					return fmt.Errorf("start processor: %w", err)
				}
				defer proc.Shutdown()
			}

			staticDir := ""
			if a.cfg.Storage.Backend == "local" {
				staticDir = a.cfg.Storage.LocalDir
			}
			r := routers.InitRouter(api.NewHandler(jobs, a.ledger, a.store, a.logger), staticDir)

			cors := handlers.CORS(
				handlers.AllowedOrigins(a.cfg.Server.AllowedOrigins),
				handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
				handlers.AllowedHeaders([]string{"Content-Type", api.OwnerHeader, "Authorization"}),
			)
			srv := &http.Server{
				Addr:              a.cfg.Server.Port,
				Handler:           handlers.CombinedLoggingHandler(os.Stdout, cors(r)),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server starting", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("shutdown signal received, draining requests")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("forced shutdown: %w", err)
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", true, "Also consume dubbing jobs in this process")
	return cmd
}

func newWorkerCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume dubbing jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, *configPath, true)
			if err != nil {
				return err
			}
			defer a.close()

			proc := a.processor()
			if err := proc.Start(); err != nil {
				return fmt.Errorf("start processor: %w", err)
			}
			<-ctx.Done()
			a.logger.Info("worker stopping")
			proc.Shutdown()
			return nil
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.close()
			if err := models.AutoMigrate(a.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database schema up to date")
			return nil
		},
	}
}

func newComplianceCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "compliance <project-id>",
		Short: "Print the compliance dashboard of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer a.close()
			d, err := a.ledger.Dashboard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDashboard(d))
			return nil
		},
	}
}

func renderDashboard(d *ledger.Dashboard) string {
	types := func(v []string) string {
		if len(v) == 0 {
			return "-"
		}
		return strings.Join(v, ", ")
	}
	rows := [][]string{
		{"Consent", "records", strconv.Itoa(d.Consent.Total)},
		{"", "active", strconv.Itoa(d.Consent.Active)},
		{"", "types", types(d.Consent.Types)},
		{"Watermarking", "records", strconv.Itoa(d.Watermarking.Total)},
		{"", "types", types(d.Watermarking.Types)},
		{"", "average strength", strconv.FormatFloat(d.Watermarking.AverageStrength, 'f', 2, 64)},
		{"", "high quality", strconv.Itoa(d.Watermarking.HighQuality)},
		{"", "robust", strconv.Itoa(d.Watermarking.Robust)},
		{"Provenance", "records", strconv.Itoa(d.Provenance.Total)},
		{"", "signed", strconv.Itoa(d.Provenance.Compliant)},
		{"", "human reviewed", strconv.Itoa(d.Provenance.HumanReviewed)},
		{"Score", "", strconv.FormatFloat(d.ComplianceScore, 'f', 1, 64)},
	}
	return renderTable([]string{"Area", "Metric", "Value"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight})
}
