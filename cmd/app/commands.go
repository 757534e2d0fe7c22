package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"webextract/internal/pkg/batch"
	"webextract/internal/pkg/config"
	"webextract/internal/pkg/logging"
	"webextract/internal/pkg/mcpserver"
	"webextract/internal/pkg/metrics"
	"webextract/internal/pkg/orchestrator"
	"webextract/internal/pkg/search"
)

const (
	serviceName     = "webextract"
	shutdownTimeout = 10 * time.Second
)

type globalFlags struct {
	configPath string
	logLevel   string
}

// app is the state shared by every subcommand once the root has loaded
// the configuration.
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	var (
		flags globalFlags
		a     app
	)
	cmd := &cobra.Command{
		Use:   "webextract",
		Short: "Fetch, extract and search web content for language model tools",
		Long: heredoc.Doc(`
			webextract fetches web pages, extracts their main content with numbered
			citations, and searches the web through SearXNG. It runs as an MCP server
			on stdio or as a one shot command line tool.
		`),
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if flags.logLevel != "" {
				cfg.LogLevel = flags.logLevel
			}
			a.cfg = cfg
			a.logger = logging.Init(serviceName, cfg.LogLevel, cfg.LogFormat)
			a.registry = prometheus.NewRegistry()
			a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			a.metrics = metrics.New(a.registry)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(&a),
		newScrapeCmd(&a),
		newSearchCmd(&a),
		newResearchCmd(&a),
		newBatchCmd(&a),
	)
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Builds the service and runs fn with it, draining history on the way out.
func (a *app) withService(ctx context.Context, fn func(context.Context, *orchestrator.Service) error) error {
	svc, closeFn, err := orchestrator.Build(ctx, a.cfg, a.logger, a.metrics)
	if err != nil {
		return err
	}
	runErr := fn(ctx, svc)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := closeFn(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown incomplete")
	}
	return runErr
}

func newServeCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Example: heredoc.Doc(`
			$ webextract serve
			$ webextract serve --metrics-addr :9190 --log-level debug
		`),
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, stop := signalContext(c.Context())
			defer stop()

			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}
			if metricsAddr != "" {
				go func() {
					if err := metrics.Serve(ctx, metricsAddr, a.registry, logging.Component(a.logger, "metrics")); err != nil {
						a.logger.Error().Err(err).Msg("metrics server stopped")
					}
				}()
			}
			return a.withService(ctx, func(ctx context.Context, svc *orchestrator.Service) error {
				return mcpserver.New(svc, a.logger).Serve(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
	return cmd
}

func newScrapeCmd(a *app) *cobra.Command {
	var (
		req      orchestrator.ScrapeRequest
		allLinks bool
	)
	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Fetch one page and print its extracted content",
		Example: heredoc.Doc(`
			$ webextract scrape https://go.dev/doc/effective_go
			$ webextract scrape go.dev/blog --format json --max-chars 2000
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signalContext(c.Context())
			defer stop()

			req.URL = args[0]
			req.ContentLinksOnly = orchestrator.Ptr(!allLinks)
			return a.withService(ctx, func(ctx context.Context, svc *orchestrator.Service) error {
				res, err := svc.Scrape(ctx, req)
				if err != nil {
					return err
				}
				return printBody(c.OutOrStdout(), res.Body)
			})
		},
	}
	cmd.Flags().IntVar(&req.MaxChars, "max-chars", 0, "Content budget in characters (100 to 50000)")
	cmd.Flags().IntVar(&req.MaxLinks, "max-links", 0, "Maximum sources listed (1 to 500)")
	cmd.Flags().StringVar(&req.OutputFormat, "format", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&allLinks, "all-links", false, "Number every link on the page, not only those in the main content")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var req orchestrator.SearchRequest
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the web through SearXNG",
		Example: heredoc.Doc(`
			$ webextract search "tokio mutex deadlock"
			$ webextract search golang generics --time-range year --max-results 5
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signalContext(c.Context())
			defer stop()

			req.Query = strings.Join(args, " ")
			return a.withService(ctx, func(ctx context.Context, svc *orchestrator.Service) error {
				res, err := svc.Search(ctx, req)
				if err != nil {
					return err
				}
				return printBody(c.OutOrStdout(), res.Body)
			})
		},
	}
	addSearchFlags(cmd, &req.Params)
	cmd.Flags().StringVar(&req.OutputFormat, "format", "text", "Output format: text or json")
	return cmd
}

func addSearchFlags(cmd *cobra.Command, p *search.Params) {
	cmd.Flags().StringVar(&p.Engines, "engines", "", "Comma separated SearXNG engines")
	cmd.Flags().StringVar(&p.Categories, "categories", "", "Comma separated SearXNG categories")
	cmd.Flags().StringVar(&p.Language, "language", "", "Result language code")
	cmd.Flags().IntVar(&p.SafeSearch, "safesearch", 0, "Safe search level (0, 1, 2)")
	cmd.Flags().StringVar(&p.TimeRange, "time-range", "", "day, week, month or year")
	cmd.Flags().IntVar(&p.PageNo, "page", 1, "Result page")
	cmd.Flags().IntVar(&p.MaxResults, "max-results", search.DefaultMaxResults, "Results returned (1 to 100)")
}

func newResearchCmd(a *app) *cobra.Command {
	var req orchestrator.ResearchRequest
	cmd := &cobra.Command{
		Use:   "research <query>",
		Short: "Search, then read the top results",
		Example: heredoc.Doc(`
			$ webextract research "rust async runtime comparison" --top-n 3
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signalContext(c.Context())
			defer stop()

			req.Query = strings.Join(args, " ")
			return a.withService(ctx, func(ctx context.Context, svc *orchestrator.Service) error {
				res, err := svc.Research(ctx, req)
				if err != nil {
					return err
				}
				return printBody(c.OutOrStdout(), res.Body)
			})
		},
	}
	cmd.Flags().IntVar(&req.TopN, "top-n", 0, "How many top results to read")
	cmd.Flags().IntVar(&req.MaxChars, "max-chars", 0, "Content budget per page")
	cmd.Flags().StringVar(&req.OutputFormat, "format", "text", "Output format: text or json")
	return cmd
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		input    string
		output   string
		progress string
		workers  int
		maxChars int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Scrape every URL listed in a file, resuming where the last run stopped",
		Example: heredoc.Doc(`
			$ webextract batch --input top-sites.txt --output results.jsonl
			$ webextract batch --input urls.txt --workers 16 --progress /var/lib/webextract/urls.progress
		`),
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, stop := signalContext(c.Context())
			defer stop()

			if workers <= 0 {
				workers = a.cfg.BatchWorkers
			}
			if progress == "" {
				base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
				progress = filepath.Join(a.cfg.BatchProgressDir, base+".progress")
			}

			out := c.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open batch output: %w", err)
				}
				defer f.Close()
				out = f
			}

			return a.withService(ctx, func(ctx context.Context, svc *orchestrator.Service) error {
				runner := batch.NewRunner(svc, batch.Options{
					Workers:      workers,
					ProgressFile: progress,
					Request: orchestrator.ScrapeRequest{
						MaxChars:     maxChars,
						OutputFormat: "json",
					},
				}, a.logger)
				summary, err := runner.Run(ctx, input, out)
				a.logger.Info().
					Int("start_line", summary.StartLine).
					Int("succeeded", summary.Succeeded).
					Int("failed", summary.Failed).
					Bool("completed", summary.Completed).
					Msg("batch summary")
				return err
			})
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "File with one URL or domain per line")
	cmd.Flags().StringVar(&output, "output", "-", "JSON lines output file, - for stdout")
	cmd.Flags().StringVar(&progress, "progress", "", "Progress file (default <batch_progress_dir>/<input>.progress)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent scrapes (default from config)")
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "Content budget per page")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func printBody(w io.Writer, body string) error {
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	_, err := io.WriteString(w, body)
	return err
}
