package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wardops/wardops/internal/config"
	"github.com/wardops/wardops/internal/platform/db"
	"github.com/wardops/wardops/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wardops-server",
		Short: "Ward on-call escalation coordinator",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(handoverCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger().
			Level(zerolog.DebugLevel)
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the on-call API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, newLogger(cfg))
		},
	}
}

// withMigrator opens a pool against DATABASE_URL and hands fn a migrator
// over the embedded schema files.
func withMigrator(fn func(ctx context.Context, cfg *config.Config, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, MinConns: 0})
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, cfg, db.NewMigrator(pool, migrations.FS))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withMigrator(func(ctx context.Context, cfg *config.Config, m *db.Migrator) error {
				schema, err := db.SchemaName(tenantOrDefault(tenant, cfg))
				if err != nil {
					return err
				}
				fmt.Printf("Running migrations on schema: %s\n", schema)

				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant whose schema is migrated (default DEFAULT_TENANT)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withMigrator(func(ctx context.Context, cfg *config.Config, m *db.Migrator) error {
				schema, err := db.SchemaName(tenantOrDefault(tenant, cfg))
				if err != nil {
					return err
				}
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
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
	}
	statusCmd.Flags().String("tenant", "", "Tenant whose schema is inspected (default DEFAULT_TENANT)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply every migration to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return withMigrator(func(ctx context.Context, cfg *config.Config, m *db.Migrator) error {
				fmt.Printf("Creating tenant schema: tenant_%s\n", name)
				if err := db.CreateTenantSchema(ctx, m.Pool(), name, m); err != nil {
					return err
				}
				fmt.Println("Tenant created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func handoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handover",
		Short: "Print the handover report for one on-call owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}
			ack, _ := cmd.Flags().GetBool("acknowledge")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Diagnostics go to stderr so the report can be piped.
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().
				Level(zerolog.WarnLevel)

			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.handover.Compile(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Text)
			if report.Stale {
				return fmt.Errorf("handover for %s was compiled from stale data", owner)
			}

			if ack {
				moved, err := a.handover.Acknowledge(ctx, owner)
				if err != nil {
					return fmt.Errorf("acknowledge handover: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%d job(s) handed over.\n", len(moved))
			}
			return nil
		},
	}
	cmd.Flags().String("owner", "", "On-call owner whose handover is printed")
	cmd.Flags().Bool("acknowledge", false, "Mark done jobs as handed over after printing")
	return cmd
}

func tenantOrDefault(tenant string, cfg *config.Config) string {
	if tenant != "" {
		return tenant
	}
	return cfg.DefaultTenant
}
