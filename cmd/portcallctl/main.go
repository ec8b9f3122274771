// portcallctl is the operator CLI for the canonical timestamp store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmfg/portcall-timestamp-service/internal/adapter/postgres"
	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portcallctl",
		Short: "Operate the port-call timestamp store",
	}

	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(timestampsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func purgeCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete events older than the retention horizon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, pool, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			deleted, err := store.DeleteOlderThan(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events older than %s\n", deleted, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 168*time.Hour, "purge horizon")
	return cmd
}

func timestampsCmd() *cobra.Command {
	var (
		mmsi   int
		imo    int
		locode string
	)

	cmd := &cobra.Command{
		Use:   "timestamps",
		Short: "Query the windowed, newest-wins event set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, pool, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			var events []domain.CanonicalEvent
			switch {
			case mmsi != 0:
				events, err = store.FindByShip(cmd.Context(), domain.Ship{MMSI: &mmsi})
			case imo != 0:
				events, err = store.FindByShip(cmd.Context(), domain.Ship{IMO: &imo})
			case locode != "":
				events, err = store.FindByLocode(cmd.Context(), locode)
			default:
				return fmt.Errorf("one of --mmsi, --imo or --locode is required")
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		},
	}
	cmd.Flags().IntVar(&mmsi, "mmsi", 0, "query by MMSI")
	cmd.Flags().IntVar(&imo, "imo", 0, "query by IMO")
	cmd.Flags().StringVar(&locode, "locode", "", "query by destination locode")
	return cmd
}

func openStore(ctx context.Context) (*postgres.Store, interface{ Close() }, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is not set")
	}
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.NewStore(pool, postgres.Window{
		Past:   13 * 24 * time.Hour,
		Future: 84 * time.Hour,
	}, nil, discardLogger())
	return store, pool, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
