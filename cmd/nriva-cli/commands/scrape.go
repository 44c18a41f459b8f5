package commands

import (
	"log/slog"
	"path/filepath"
	"time"

	"nriva-archiver/lib/configutil"
	"nriva-archiver/lib/fetch"
	"nriva-archiver/lib/scrapers/nriva/core"
	"nriva-archiver/lib/scrapers/nriva/search"
	"nriva-archiver/lib/serviceutil"
	"nriva-archiver/lib/sqliteutil"
	"nriva-archiver/services/archiver"
	"nriva-archiver/services/archiver/db"

	"github.com/spf13/cobra"
)

type ScrapeOptions struct {
	UseHeadlessBrowser bool    `json:"use_headless_browser"`
	DelaySeconds       float64 `json:"delay_seconds"`
	MaxRetries         int     `json:"max_retries"`
	TimeoutSeconds     float64 `json:"timeout_seconds"`
	BackoffSeconds     float64 `json:"backoff_seconds"`
	MaxPages           int     `json:"max_pages"`
	PageLength         int     `json:"page_length"`
	DebugTranscriptDir string  `json:"debug_transcript_dir"`
}

type Config struct {
	BaseUrl   string          `json:"base_url"`
	Endpoints core.Endpoints  `json:"endpoints"`
	Username  string          `json:"username"`
	Password  string          `json:"password"`
	Scrape    ScrapeOptions   `json:"scrape"`
	Criteria  search.Criteria `json:"criteria"`
	OutputDir string          `json:"output_dir"`
}

var scrapeOut *string

func init() {
	scrapeOut = scrapeCmd.Flags().String("out", "", "Override the configured output directory.")
	rootCmd.AddCommand(scrapeCmd)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--out <path/to/archive>]",
	Short: "Runs one full scraping batch according to config.json5.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := configutil.Read[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.BaseUrl == "" {
			cfg.BaseUrl = "https://www.nriva.org"
		}
		if cfg.OutputDir == "" {
			cfg.OutputDir = "archive"
		}
		if *scrapeOut != "" {
			cfg.OutputDir = *scrapeOut
		}

		client, err := core.NewClient(ctx, core.ClientOptions{
			BaseUrl:            cfg.BaseUrl,
			Endpoints:          cfg.Endpoints,
			Username:           cfg.Username,
			Password:           cfg.Password,
			UseHeadlessBrowser: cfg.Scrape.UseHeadlessBrowser,
			Timeout:            seconds(cfg.Scrape.TimeoutSeconds),
			DebugTranscriptDir: cfg.Scrape.DebugTranscriptDir,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize client", err)
		}

		archive, err := archiver.NewArchive(cfg.OutputDir)
		if err != nil {
			serviceutil.Fatal("failed to create archive directory", err)
		}

		database, err := sqliteutil.OpenDB(db.Schema, filepath.Join(archive.DataDir(), "outcomes.db"))
		if err != nil {
			serviceutil.Fatal("failed to open outcome db", err)
		}
		defer database.Close()

		memLog := &fetch.MemoryLog{}
		sched := fetch.NewScheduler(fetch.SchedulerOptions{
			Delay:      seconds(cfg.Scrape.DelaySeconds),
			Timeout:    seconds(cfg.Scrape.TimeoutSeconds),
			MaxRetries: cfg.Scrape.MaxRetries,
			Backoff:    seconds(cfg.Scrape.BackoffSeconds),
			Recorder: fetch.MultiRecorder{
				memLog,
				archiver.DbRecorder{Store: db.NewStore(database)},
			},
		})
		walker := search.NewWalker(client, sched, search.WalkerOptions{
			PageLength: cfg.Scrape.PageLength,
			MaxPages:   cfg.Scrape.MaxPages,
		})

		service := archiver.NewService(client, sched, walker, archive)

		t1 := time.Now()
		summary, err := service.Run(ctx, cfg.Criteria)
		if err != nil {
			serviceutil.Fatal("scraping batch failed", err)
		}
		slog.Info("scraping time", "seconds", time.Since(t1).Seconds())
		slog.Info("batch summary", "result", summary.String())

		if err := archiver.WriteReport(archive, cfg.Criteria, summary, memLog.Entries()); err != nil {
			serviceutil.Fatal("failed to write report", err)
		}
	},
}
