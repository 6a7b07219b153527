package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/cseek11/VeroSuite-sub002/internal/server"
	"github.com/cseek11/VeroSuite-sub002/internal/server/auth"
	"github.com/cseek11/VeroSuite-sub002/internal/server/config"
	"github.com/cseek11/VeroSuite-sub002/internal/server/eventlog"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/repomanager"
	"github.com/spf13/cobra"
)

// newS3Client is a seam for tests.
var newS3Client = func(ctx context.Context, cfg eventlog.S3Config) (eventlog.ObjectPutter, error) {
	return eventlog.NewS3Client(ctx, cfg)
}

// newRootCmd builds the command tree. args are the raw process arguments;
// the server's short config flags (-a, -d, -c ...) are read from them
// directly, so cobra is told to let unknown flags through.
func newRootCmd(args []string) *cobra.Command {
	load := func() (*config.Config, logging.Logger, error) {
		cfg, err := config.LoadConfig(args)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, logging.New(cfg.LogFormat, os.Stdout), nil
	}

	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := load()
		if err != nil {
			return err
		}
		app, err := server.NewApp(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer app.Close()
		return app.Run(cmd.Context())
	}

	rootCmd := &cobra.Command{
		Use:                "server",
		Short:              "Dashboard region collaboration server",
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		SilenceUsage:       true,
		RunE:               serve,
	}

	serveCmd := &cobra.Command{
		Use:                "serve",
		Short:              "Run the gRPC API, the websocket endpoint and the sweeper",
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE:               serve,
	}

	migrateCmd := &cobra.Command{
		Use:                "migrate",
		Short:              "Apply database migrations and exit",
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			db, err := repomanager.Open(cmd.Context(), cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			um, err := repomanager.NewPostgresRepositoryManager(db)
			if err != nil {
				return err
			}
			if err := um.RunMigrations(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrations error: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, newExportCmd(load), newIssueTokenCmd(load))
	rootCmd.SetArgs(args)
	return rootCmd
}

type loader func() (*config.Config, logging.Logger, error)

func newExportCmd(load loader) *cobra.Command {
	var tenantID, from, to string

	cmd := &cobra.Command{
		Use:                "export-audit",
		Short:              "Upload a tenant's events to object storage as NDJSON",
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}
			now := time.Now().UTC()
			fromT, err := parseTime(from, now.Add(-24*time.Hour))
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			toT, err := parseTime(to, now)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if toT.Before(fromT) {
				return fmt.Errorf("--to is before --from")
			}

			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := repomanager.Open(ctx, cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			um, err := repomanager.NewPostgresRepositoryManager(db)
			if err != nil {
				return err
			}

			client, err := newS3Client(ctx, cfg.S3())
			if err != nil {
				return fmt.Errorf("s3 client: %w", err)
			}

			x := eventlog.NewExporter(eventlog.New(um.Events(um.Conn()), logger), client, cfg.S3Bucket)
			key, n, err := x.Export(ctx, tenantID, fromT, toT)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d events to s3://%s/%s\n", n, cfg.S3Bucket, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&from, "from", "", "start of range, RFC3339 (default 24h ago)")
	cmd.Flags().StringVar(&to, "to", "", "end of range, RFC3339 (default now)")
	return cmd
}

func parseTime(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

func newIssueTokenCmd(load loader) *cobra.Command {
	var (
		userID, tenantID string
		roles            []string
	)

	cmd := &cobra.Command{
		Use:                "issue-token",
		Short:              "Mint a development access token",
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" || tenantID == "" {
				return fmt.Errorf("--user and --tenant are required")
			}
			cfg, _, err := load()
			if err != nil {
				return err
			}
			p := models.Principal{UserID: userID, TenantID: tenantID, Roles: roles}
			token, err := auth.GenerateToken(p, []byte(cfg.SecretKey), cfg.TokenValidityDuration)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "comma separated roles")
	return cmd
}
