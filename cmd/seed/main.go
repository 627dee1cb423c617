// Package main implements the seed CLI for loading pricing data and
// registering projects.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vnmchuo/llm-cost-tracker/config"
	"github.com/vnmchuo/llm-cost-tracker/internal/auth"
	"github.com/vnmchuo/llm-cost-tracker/internal/billing"
	"github.com/vnmchuo/llm-cost-tracker/internal/seeder"
	"github.com/vnmchuo/llm-cost-tracker/internal/telemetry"
)

func main() {
	if _, err := telemetry.InitLogger(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:          "seed",
		Short:        "Seed the LLM cost tracker database",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("dsn", "", "PostgreSQL DSN (defaults to POSTGRES_DSN)")

	rootCmd.AddCommand(pricingCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(deactivateCmd())

	err := rootCmd.Execute()
	_ = telemetry.Logger().Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// pricingCmd replaces the pricing table with the built-in or a file-supplied one.
func pricingCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Replace the pricing table",
		Long:  `Deletes every pricing row and inserts the built-in table, or the YAML table given with --file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := loadEntries(file)
			if err != nil {
				return err
			}

			pool, err := connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := seeder.SeedPricing(cmd.Context(), billing.NewPostgresPricingStore(pool), entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d pricing entries\n", len(entries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML pricing table (defaults to the built-in table)")

	return cmd
}

// projectCmd creates a project. Without --name it creates the local
// development project with the well-known test key.
func projectCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create a project and print its API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := auth.NewPostgresStore(pool)
			out := cmd.OutOrStdout()

			if name == "" {
				p, err := seeder.SeedTestProject(cmd.Context(), store)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "project %s (%s)\napi key: %s\n", p.ID, p.Name, seeder.TestAPIKey)
				return nil
			}

			p, key, err := seeder.CreateProject(cmd.Context(), store, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "project %s (%s)\napi key: %s\n", p.ID, p.Name, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")

	return cmd
}

func deactivateCmd() *cobra.Command {
	var redisAddr string

	cmd := &cobra.Command{
		Use:   "deactivate <project-id>",
		Short: "Deactivate a project so its API key is rejected",
		Long: `Marks the project inactive. With --redis the cached key is evicted as well;
otherwise running services keep accepting it until the auth cache entry expires.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := auth.NewPostgresStore(pool)

			var lookup *auth.Lookup
			if redisAddr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
				defer rdb.Close()
				lookup = auth.NewLookup(store, rdb, auth.DefaultCacheTTL)
			}

			if err := seeder.DeactivateProject(cmd.Context(), store, lookup, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project %s deactivated\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address of the auth cache to evict the key from")

	return cmd
}

func loadEntries(file string) ([]billing.PriceEntry, error) {
	if file == "" {
		return seeder.DefaultPricing()
	}

	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open pricing table: %w", err)
		}
		defer f.Close()
		r = f
	}
	return seeder.LoadPricing(r)
}

func connect(cmd *cobra.Command) (*pgxpool.Pool, error) {
	dsn, _ := cmd.Flags().GetString("dsn")
	if dsn == "" {
		cfg, err := config.LoadDatabase()
		if err != nil {
			return nil, err
		}
		dsn = cfg.PostgresDSN
	}
	if dsn == "" {
		return nil, errors.New("POSTGRES_DSN is required (or pass --dsn)")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}
