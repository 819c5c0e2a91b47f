package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"reviewharvest/lib/configutil"
	"reviewharvest/lib/restyutil"
	"reviewharvest/lib/scrapers/goodreads"
	"reviewharvest/lib/serviceutil"

	"github.com/spf13/cobra"
)

type Config struct {
	BaseUrl   string `json:"base_url"`
	UserAgent string `json:"user_agent"`
}

var (
	crawlFolder *string
	crawlStart  *int64
	crawlEnd    *int64
)

func init() {
	crawlFolder = crawlCmd.Flags().String("folder", "html", "The folder to save crawled page snapshots to.")
	crawlStart = crawlCmd.Flags().Int64("user-id-start", 0, "First user id to crawl. Defaults to the latest id already present in the folder.")
	crawlEnd = crawlCmd.Flags().Int64("user-id-end", 999999, "Last user id to crawl.")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--folder <dir>] [--user-id-start <id>] [--user-id-end <id>]",
	Short: "Crawls user review listings into a folder of page snapshots.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			serviceutil.Fatal("failed to read config", err)
		}

		client, err := goodreads.NewClient(goodreads.ClientOptions{
			BaseUrl:   cfg.BaseUrl,
			UserAgent: cfg.UserAgent,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize client", err)
		}
		if *verbose {
			client.SetDumpOutput(restyutil.NewFilesystemOutput(".dev/resty/goodreads"))
		}

		start := *crawlStart
		if start == 0 {
			start, err = goodreads.LatestUserID(*crawlFolder)
			if err != nil {
				serviceutil.Fatal("cannot resume crawl, pass --user-id-start", err)
			}
			slog.Info("resuming crawl", "latest_user_id", start)
		}

		slog.Info("crawling", "folder", *crawlFolder, "from", start, "to", *crawlEnd)

		crawler := goodreads.NewCrawler(client)
		err = crawler.CrawlRange(cmd.Context(), *crawlFolder, start, *crawlEnd)
		if err != nil && !errors.Is(err, context.Canceled) {
			serviceutil.Fatal("crawl failed", err)
		}
	},
}
