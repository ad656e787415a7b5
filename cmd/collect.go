package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/text-audit/data-collector/internal/clock/system"
	"github.com/text-audit/data-collector/internal/collector"
	"github.com/text-audit/data-collector/internal/id/uuid"
	"github.com/text-audit/data-collector/internal/metrics"
	"github.com/text-audit/data-collector/internal/queue/memory"
	"github.com/text-audit/data-collector/internal/sink"
)

type collectFlags struct {
	sourceType  string
	url         string
	file        string
	params      []string
	filters     []string
	maxCount    int
	concurrency int
	rateLimit   float64
	timeout     time.Duration
	output      string
	metricsAddr string
}

// newCollectCmd creates and configures the 'collect' subcommand. It runs one
// collection end to end: engine produces into the bounded queue, a drain
// loop writes records to the sink.
func newCollectCmd() *cobra.Command {
	flags := &collectFlags{}
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Runs one collection from a single source",
		Long: `Collects text from one source (web page, zhihu, JSON API, or
local file), applies the configured filter pipeline, and writes accepted
records to a JSON-lines output file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.sourceType, "type", "web", "source type: web, zhihu, api, file")
	cmd.Flags().StringVar(&flags.url, "url", "", "source URL (web, zhihu, api)")
	cmd.Flags().StringVar(&flags.file, "file", "", "source file path (file)")
	cmd.Flags().StringArrayVar(&flags.params, "param", nil, "source parameter key=value (repeatable)")
	cmd.Flags().StringArrayVar(&flags.filters, "filter", nil, "filter name[:threshold] (repeatable)")
	cmd.Flags().IntVar(&flags.maxCount, "max-count", 0, "record cap (0 = source-type default)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "concurrent fetches (0 = default)")
	cmd.Flags().Float64Var(&flags.rateLimit, "rate-limit", 0, "requests per second (0 = default)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "per-request timeout (0 = default)")
	cmd.Flags().StringVar(&flags.output, "out", "", "output path (overrides sink.path)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "expose /metrics on this address (empty = disabled)")

	return cmd
}

func runCollect(ctx context.Context, flags *collectFlags) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	source, runCfg, err := buildRequest(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	recorder, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if flags.metricsAddr != "" {
		serveMetrics(flags.metricsAddr, registry, logger)
	}

	base, escalated := cfg.BackoffIntervals()
	engine := collector.NewEngine(
		logger,
		uuid.NewGenerator(),
		system.New(),
		collector.WithMetrics(recorder),
		collector.WithUserAgents(cfg.UserAgents),
		collector.WithDefaults(cfg.Defaults()),
		collector.WithBackoffIntervals(base, escalated),
	)

	outputPath := cfg.Sink.Path
	if flags.output != "" {
		outputPath = flags.output
	}
	fileSink, err := sink.NewFileSink(outputPath, logger)
	if err != nil {
		return err
	}

	q := memory.NewQueue(cfg.Queue.Depth)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer q.Close()
		return engine.Collect(gctx, source, runCfg, q.Producer())
	})
	g.Go(func() error {
		for {
			rec, err := q.Dequeue(gctx)
			if errors.Is(err, memory.ErrClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := fileSink.Write(gctx, rec); err != nil {
				return err
			}
		}
	})

	runErr := g.Wait()
	if cerr := fileSink.Close(); cerr != nil {
		logger.Warn("failed to close sink", zap.Error(cerr))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("collect: %w", runErr)
	}

	logger.Info("collection finished",
		zap.String("source_type", flags.sourceType),
		zap.Int64("records", fileSink.Count()),
		zap.String("output", outputPath),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// buildRequest turns CLI flags into the engine's source and config.
func buildRequest(flags *collectFlags) (*collector.Source, *collector.Config, error) {
	sourceType := collector.SourceType(flags.sourceType)
	switch sourceType {
	case collector.SourceWeb, collector.SourceZhihu, collector.SourceAPI:
		if flags.url == "" {
			return nil, nil, fmt.Errorf("--url is required for source type %q", flags.sourceType)
		}
	case collector.SourceFile:
		if flags.file == "" {
			return nil, nil, fmt.Errorf("--file is required for source type %q", flags.sourceType)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported source type %q", flags.sourceType)
	}

	params := make(map[string]string, len(flags.params))
	for _, raw := range flags.params {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("invalid --param %q: expected key=value", raw)
		}
		params[key] = value
	}

	specs := make([]collector.FilterSpec, 0, len(flags.filters))
	for _, raw := range flags.filters {
		spec, err := collector.ParseFilterSpec(raw)
		if err != nil {
			return nil, nil, err
		}
		specs = append(specs, spec)
	}

	source := &collector.Source{
		Type:       sourceType,
		URL:        flags.url,
		FilePath:   flags.file,
		Parameters: params,
	}
	runCfg := &collector.Config{
		MaxCount:    flags.maxCount,
		Concurrency: flags.concurrency,
		RateLimit:   flags.rateLimit,
		Timeout:     flags.timeout,
		Filters:     specs,
	}
	return source, runCfg, nil
}

// serveMetrics exposes the Prometheus registry in the background. The server
// lives for the process; collect runs are short enough that teardown is the
// process exit.
func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics exposed", zap.String("addr", addr))
}
