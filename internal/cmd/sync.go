package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turbine-data/adsync/internal/catalog"
	"github.com/turbine-data/adsync/internal/config"
	"github.com/turbine-data/adsync/internal/retry"
	"github.com/turbine-data/adsync/internal/sync"
)

func newSyncCommand() *cobra.Command {
	var configPath string
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Extracts records from the remote advertising platform and emits them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.NewAdSyncFromFile(configPath)
			if err != nil {
				return err
			}
			applyEnvOverrides(c)
			if err := c.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(c.Global.Logger.Level)
			if err != nil {
				return err
			}
			defer logger.Sync()
			l := logger.Named("adsync.sync")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cat, err := loadCatalog(catalogPath)
			if err != nil {
				return err
			}

			store, err := config.InitializeStateStore(ctx, c, l)
			if err != nil {
				return err
			}

			emit, err := config.InitializeEmitter(ctx, c, l)
			if err != nil {
				return err
			}
			defer emit.Close(ctx)

			client := config.InitializeClient(c, l)

			retrier := retry.New(
				retry.WithLogger(l),
				retry.WithMaxAttempts(c.Extract.RetryMaxAttempts),
				retry.WithFactor(time.Duration(c.Extract.RetryFactorSecs)*time.Second),
			)

			runnerOpts := []sync.RunnerOption{
				sync.WithLogger(l),
				sync.WithRetrier(retrier),
			}
			if c.Source.UserID != "" {
				runnerOpts = append(runnerOpts, sync.WithUser(client.User(c.Source.UserID), c.Source.UserID))
			}
			if c.Global.Server.Addr != "" {
				server := sync.NewServer(l.Named("adsync.server"))
				runnerOpts = append(runnerOpts, sync.WithServer(server))
				go server.ListenAndServe(ctx, c.Global.Server.Addr)
			}

			opts := sync.Options{
				StartDate:          c.StartTime(),
				SpecifiedIDs:       c.Extract.SpecifiedIDs,
				OnlyActive:         c.Extract.OnlyActive,
				OnlyTimeRange:      c.Extract.OnlyTimeRange,
				InsightsBufferDays: c.Extract.InsightsBufferDays,
				InsightsChunkDays:  c.Extract.InsightsChunkDays,
				ResultReturnLimit:  c.Extract.ResultReturnLimit,
				BatchRequestSize:   c.Extract.BatchRequestSize,
			}
			if end, ok := c.EndTime(); ok {
				opts.EndDate = end
			}

			runner := sync.NewRunner(
				cat,
				client.Account(c.Source.AccountID),
				client,
				store,
				c.StateID(),
				emit,
				opts,
				runnerOpts...,
			)

			return runner.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Path to catalog file; omit to sync all streams")
	cmd.MarkFlagRequired("config")

	return cmd
}

func loadCatalog(fpath string) (*catalog.Catalog, error) {
	if fpath == "" {
		cat := catalog.Discover()
		cat.SelectAll()
		return cat, nil
	}
	return catalog.NewFromFile(fpath)
}

// applyEnvOverrides lets credentials come from the environment instead
// of the config file, e.g. ADSYNC_SOURCE_ACCESS_TOKEN.
func applyEnvOverrides(c *config.AdSync) {
	v := viper.New()
	v.SetEnvPrefix("ADSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if tok := v.GetString("source.access_token"); tok != "" {
		c.Source.AccessToken = tok
	}
	if id := v.GetString("source.account_id"); id != "" {
		c.Source.AccountID = id
	}
	if id := v.GetString("source.user_id"); id != "" {
		c.Source.UserID = id
	}
	if d := v.GetString("extract.start_date"); d != "" {
		c.Extract.StartDate = d
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}
