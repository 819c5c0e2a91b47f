package commands

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"reviewharvest/lib/serviceutil"
	"reviewharvest/lib/sqliteutil"
	"reviewharvest/services/reviews"
	"reviewharvest/services/reviews/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	ingestFolder *string
	ingestDb     *string
	ingestChunk  *int
	ingestKeep   *bool
)

func init() {
	ingestFolder = ingestCmd.Flags().String("folder", "html", "The folder holding crawled page snapshots.")
	ingestDb = ingestCmd.Flags().String("db", "reviews.db", "The database to merge extracted records into.")
	ingestChunk = ingestCmd.Flags().Int("chunk-size", reviews.DefaultChunkSize, "Number of source files merged per transaction.")
	ingestKeep = ingestCmd.Flags().Bool("keep-sources", false, "Keep source files after they are ingested instead of deleting them.")
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [--folder <dir>] [--db <path>] [--chunk-size <n>]",
	Short: "Extracts crawled page snapshots into the review database.",
	Run: func(cmd *cobra.Command, args []string) {
		database, err := sqliteutil.OpenDB(db.Schema, *ingestDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer database.Close()

		candidates, err := filepath.Glob(filepath.Join(*ingestFolder, "*.html"))
		if err != nil {
			serviceutil.Fatal("failed to list source files", err)
		}
		slog.Info("ingesting", "folder", *ingestFolder, "candidates", len(candidates), "db", *ingestDb)

		store := reviews.NewStore(database)
		t1 := time.Now()
		stats, err := reviews.RunIngest(cmd.Context(), store, candidates, reviews.IngestOptions{
			ChunkSize:      *ingestChunk,
			RemoveIngested: !*ingestKeep,
		})
		if err != nil {
			serviceutil.Fatal("ingest failed", err)
		}

		printStats(stats, time.Since(t1))
	},
}

func printStats(stats reviews.Stats, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"metric", "count"})
	t.AppendRows([]table.Row{
		{"candidate files", stats.Candidates},
		{"skipped (already ingested)", stats.Skipped},
		{"sources ingested", stats.Sources},
		{"sources failed", stats.Failed},
		{"users", stats.Users},
		{"authors", stats.Authors},
		{"books", stats.Books},
		{"ratings", stats.Ratings},
	})
	t.AppendFooter(table.Row{"elapsed", elapsed.Round(time.Millisecond)})
	t.Render()
}
