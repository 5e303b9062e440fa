// Package tiffincli wires the api, client, scheduler and maintenance commands
// into the tiffin binary.
package tiffincli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tiffinledger/tiffin/internal/apiapp"
	"github.com/tiffinledger/tiffin/internal/clientapp"
	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/envutil"
	"github.com/tiffinledger/tiffin/internal/logging"
	"github.com/tiffinledger/tiffin/internal/notify"
	"github.com/tiffinledger/tiffin/internal/scheduler"
	"github.com/tiffinledger/tiffin/internal/security"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// clientStartDelay lets the api bind before the client starts proxying to it.
const clientStartDelay = 500 * time.Millisecond

type cli struct {
	envFile string
	logger  *zap.Logger
}

// NewRootCommand builds the command tree. Commands other than setup load the
// env file first.
func NewRootCommand() *cobra.Command {
	c := &cli{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "tiffin",
		Short:         "Meal subscription ledger for tiffin services",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "setup" {
				return nil
			}
			return c.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "path to .env file")

	root.AddCommand(
		c.setupCommand(),
		c.runCommand(),
		c.billsCommand(),
		c.backupCommand(),
		c.restoreCommand(),
		c.menuCommand(),
	)
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func (c *cli) init() error {
	if err := envutil.LoadDotEnv(c.envFile); err != nil {
		return fmt.Errorf("load %s: %w", c.envFile, err)
	}
	logger, err := logging.New(logging.Config{
		Level: envutil.String("LOG_LEVEL", "info"),
		JSON:  envutil.Bool("LOG_JSON", false),
	})
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func (c *cli) setupCommand() *cobra.Command {
	var (
		adminUser string
		adminPass string
		dataDir   string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a .env file with the admin account and default addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if adminPass == "" {
				return errors.New("--admin-password is required")
			}
			if _, err := security.HashPassword(adminPass); err != nil {
				return fmt.Errorf("invalid admin password: %w", err)
			}
			values := map[string]string{
				"ADMIN_USERNAME":         adminUser,
				"ADMIN_PASSWORD":         adminPass,
				"DATA_DIR":               dataDir,
				"API_ADDR":               ":8080",
				"CLIENT_ADDR":            ":3000",
				"API_BASE_URL":           "http://localhost:8080",
				"TIME_ZONE":              "Asia/Kolkata",
				"LOG_LEVEL":              "info",
				"BILLING_CHECK_INTERVAL": scheduler.DefaultInterval.String(),
			}
			if err := envutil.WriteDotEnv(c.envFile, values, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", c.envFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminUser, "admin-username", "admin", "initial admin username")
	cmd.Flags().StringVar(&adminPass, "admin-password", "", "initial admin password")
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "document store directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing env file")
	return cmd
}

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "run api|client|all",
		Short:     "Run the api server, the client server, or both",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"api", "client", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var err error
			switch args[0] {
			case "api":
				err = c.runAPI(ctx)
			case "client":
				err = c.runClient(ctx)
			default:
				err = c.runAll(ctx)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// runAPI serves the api and the billing scheduler on one store.
func (c *cli) runAPI(ctx context.Context) error {
	cfg := apiapp.DefaultConfigFromEnv()
	store, err := c.openStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("load time zone %q: %w", cfg.TimeZone, err)
	}
	service := apiapp.NewService(store, c.logger)
	sched := scheduler.New(service, envutil.Duration("BILLING_CHECK_INTERVAL", scheduler.DefaultInterval), loc, c.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiapp.Run(gctx, cfg, apiapp.Deps{
			Store:    store,
			Notifier: notify.New(envutil.String("TELEGRAM_BOT_TOKEN", ""), c.logger),
			Logger:   c.logger,
		})
	})
	g.Go(func() error { return sched.Run(gctx) })
	return g.Wait()
}

func (c *cli) runClient(ctx context.Context) error {
	return clientapp.Run(ctx, clientapp.DefaultConfigFromEnv(), c.logger)
}

func (c *cli) runAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.runAPI(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-time.After(clientStartDelay):
		}
		return c.runClient(gctx)
	})
	return g.Wait()
}

func (c *cli) openStore(dataDir string) (*docstore.Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return docstore.Open(dataDir, c.logger)
}

func dataDirFromEnv() string {
	return envutil.String("DATA_DIR", "data")
}
