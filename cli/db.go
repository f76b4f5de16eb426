package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/db"
)

var recentLimit int

func initDBCommand() *cobra.Command {
	dbCommand := &cobra.Command{
		Use:   "db",
		Short: "Commands for the comment archive",
		Example: "  # Applies pending migrations\n" +
			"  " + os.Args[0] + " db migrate --db-dsn postgres://localhost/commentcast",
	}
	dbCommand.PersistentFlags().String("db-dsn", "", "Postgres DSN (default COMMENTCAST_DB_DSN)")

	dbCommand.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Applies pending migrations",
		Args:  cobra.NoArgs,
		RunE: withDatabase(func(cmd *cobra.Command, database *sql.DB) error {
			return db.Migrate(cmd.Context(), database)
		}),
	})
	dbCommand.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rolls back the most recent migration (drops archived comments)",
		Args:  cobra.NoArgs,
		RunE: withDatabase(func(cmd *cobra.Command, database *sql.DB) error {
			return db.MigrateDown(database)
		}),
	})
	dbCommand.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Prints the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withDatabase(func(cmd *cobra.Command, database *sql.DB) error {
			v, dirty, err := db.MigrationVersion(database)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
			return nil
		}),
	})

	recentCommand := &cobra.Command{
		Use:   "recent",
		Short: "Lists the most recently presented comments",
		Args:  cobra.NoArgs,
		RunE: withDatabase(func(cmd *cobra.Command, database *sql.DB) error {
			recs, err := db.NewStore(database).Recent(cmd.Context(), recentLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.PresentedAt.Format("2006-01-02 15:04:05"), r.Source, r.Name, r.Text)
			}
			return tw.Flush()
		}),
	}
	recentCommand.Flags().IntVar(&recentLimit, "limit", 20, "Number of comments")
	dbCommand.AddCommand(recentCommand)

	return dbCommand
}

// withDatabase opens the configured archive for the duration of fn.
func withDatabase(fn func(cmd *cobra.Command, database *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlag("db_dsn", cmd.Flag("db-dsn")); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		database, err := db.Connect(cmd.Context(), cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		return fn(cmd, database)
	}
}
