package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/analysis"
	"github.com/stagegate/stagegate/internal/analysis/provider/builtin"
	"github.com/stagegate/stagegate/internal/controller/rollout"
	"github.com/stagegate/stagegate/internal/credentials"
	"github.com/stagegate/stagegate/internal/event"
	"github.com/stagegate/stagegate/internal/logging"
	versionpkg "github.com/stagegate/stagegate/internal/version"
)

type runConfig struct {
	// QueryBackendQPS bounds the rate of queries the query provider issues
	// to any metrics backend.
	QueryBackendQPS int `envconfig:"QUERY_BACKEND_QPS" default:"10"`
	// StoreRetention is how long resolved analysis runs are retained for
	// audit.
	StoreRetention time.Duration `envconfig:"ANALYSIS_STORE_RETENTION" default:"24h"`
}

func runConfigFromEnv() runConfig {
	cfg := runConfig{}
	envconfig.MustProcess("", &cfg)
	return cfg
}

func newRunCommand() *cobra.Command {
	var filename string
	cmd := &cobra.Command{
		Use:               "run",
		Short:             "Execute a rollout manifest to completion",
		DisableAutoGenTag: true,
		SilenceErrors:     true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := logging.LoggerFromContext(ctx)

			version := versionpkg.GetVersion()
			logger.Info(
				"starting stagegate",
				"version", version.Version,
				"commit", version.GitCommit,
			)

			data, err := os.ReadFile(filename)
			if err != nil {
				return fmt.Errorf("read manifest %s: %w", filename, err)
			}
			r, err := v1alpha1.UnmarshalRollout(data)
			if err != nil {
				return err
			}

			cfg := runConfigFromEnv()
			bus := event.NewBus()
			runner := analysis.NewRunner(
				builtin.NewRegistry(builtin.Config{
					QueryBackendQPS: cfg.QueryBackendQPS,
				}),
				credentials.NewEnvDatabase(credentials.EnvDatabaseConfigFromEnv()),
				analysis.NewStore(cfg.StoreRetention),
				analysis.RunnerConfigFromEnv(),
			)
			controller := rollout.NewController(
				runner,
				rollout.NewLogRouter(),
				bus,
				rollout.ControllerConfigFromEnv(),
			)

			events, unsubscribe := bus.Subscribe(16)
			defer unsubscribe()

			executor, err := controller.Launch(ctx, r)
			if err != nil {
				return err
			}

			for {
				select {
				case e := <-events:
					logEvent(ctx, e)
				case <-executor.Done():
					status := executor.Status()
					if status.Phase != v1alpha1.RolloutPhaseHealthy {
						return fmt.Errorf(
							"rollout %q resolved %s: %s",
							status.Name, status.Phase, status.Message,
						)
					}
					logger.Info("rollout healthy", "rollout", status.Name)
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVarP(
		&filename, "filename", "f", "", "path to the rollout manifest",
	)
	_ = cmd.MarkFlagRequired("filename")
	return cmd
}

func logEvent(ctx context.Context, e event.Event) {
	logger := logging.LoggerFromContext(ctx)
	switch ev := e.(type) {
	case event.AnalysisRunCompleted:
		logger.Info(
			"analysis run completed",
			"analysisRun", ev.Run.ID,
			"phase", ev.Run.Phase,
		)
	case event.RolloutAborted:
		logger.Info(
			"rollout aborted",
			"rollout", ev.Status.Name,
			"reason", ev.Report.Reason,
		)
	case event.RollbackEscalation:
		logger.Error(
			fmt.Errorf("%s", ev.Reason),
			"traffic reversion not confirmed; manual intervention required",
			"rollout", ev.Status.Name,
		)
	default:
		logger.Debug("event", "kind", e.Kind())
	}
}
