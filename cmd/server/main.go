package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pricedash/internal/aggregator"
	"pricedash/internal/cache"
	"pricedash/internal/channel"
	"pricedash/internal/config"
	"pricedash/internal/handlers"
	"pricedash/internal/instrumentation"
	"pricedash/internal/marketapi"
	"pricedash/internal/mcp"
	"pricedash/internal/valuation"
)

const (
	seedTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("pricedash_starting",
		"http_port", cfg.HTTPPort,
		"transport", cfg.TickTransport,
		"topic", cfg.TickTopic,
		"quote", cfg.QuoteCurrency,
		"symbols", cfg.Symbols,
		"mirror_enabled", cfg.MirrorEnabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := instrumentation.NewMetrics(registry)

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics_server_starting", "port", cfg.PrometheusPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", "error", err)
		}
	}()

	// Tick channel and snapshot store
	var ch channel.Channel
	switch cfg.TickTransport {
	case config.TransportKafka:
		ch = channel.NewKafka(cfg.KafkaBrokers, cfg.KafkaGroupID, logger)
	default:
		ch = channel.NewStomp(cfg.StompURL, cfg.StompHost, logger)
	}

	agg := aggregator.New(ch, cfg.TickTopic, logger, metrics)

	// Redis mirror warm start
	var mirror *cache.Mirror
	if cfg.MirrorEnabled() {
		mirror, err = cache.New(cfg.RedisURL, cfg.RedisPassword, cfg.CacheTTL, logger, metrics)
		if err != nil {
			logger.Error("failed to create redis mirror", "error", err)
			os.Exit(1)
		}
		defer mirror.Close()

		loadCtx, loadCancel := context.WithTimeout(ctx, seedTimeout)
		ticks, err := mirror.Load(loadCtx, cfg.Symbols)
		loadCancel()
		if err != nil {
			logger.Warn("warm_start_failed", "error", err)
		} else {
			agg.SetInitialPrices(ticks)
		}
	}

	// CoinGecko seed
	coingecko := marketapi.NewCoinGecko(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey, cfg.QuoteCurrency, cfg.Timeout(), logger)

	seedCtx, seedCancel := context.WithTimeout(ctx, seedTimeout)
	seed, err := coingecko.Markets(seedCtx, cfg.Symbols)
	seedCancel()
	if err != nil {
		logger.Warn("initial_seed_failed", "error", err)
		metrics.RecordError("seed", "fetch_failed")
	} else {
		agg.SetInitialPrices(seed)
	}

	agg.Start(ctx)

	// FX rates
	rates := marketapi.NewRatePoller(coingecko, cfg.FXCurrencies, cfg.FXPollPeriod, logger)
	go rates.Run(ctx)

	if mirror != nil {
		go func() {
			if err := mirror.Run(ctx, agg.WatchPrices()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("mirror_stopped", "error", err)
			}
		}()
	}

	// HTTP surface
	valuator := valuation.NewValuator(agg, rates, metrics,
		valuation.WithQuote(cfg.QuoteCurrency),
		valuation.WithFiat(rates.Currencies()...),
	)
	wallet := marketapi.NewWallet(cfg.WalletAPIURL, cfg.Timeout(), logger)

	valuationHandler, err := handlers.NewValuationHandler(valuator, wallet, logger)
	if err != nil {
		logger.Error("failed to create valuation handler", "error", err)
		os.Exit(1)
	}

	invoker, err := mcp.NewToolInvoker(mcp.NewToolExecutor(agg, valuator), cfg.QuoteCurrency)
	if err != nil {
		logger.Error("failed to create tool invoker", "error", err)
		os.Exit(1)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Store:     agg,
		Valuation: valuationHandler,
		MCP:       handlers.NewMCPInvokeHandler(invoker, cfg.Timeout(), logger),
		Timeout:   cfg.Timeout(),
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("http_server_listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	logger.Info("pricedash_running", "status", "healthy")

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown_signal_received", "signal", sig.String())
	case err := <-errChan:
		logger.Error("server_error", "error", err)
	}

	// Ending the feeds releases open SSE and WebSocket streams.
	if err := agg.Close(); err != nil {
		logger.Error("aggregator_close_error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_error", "error", err)
	}
	cancel()

	metricsCtx, metricsCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer metricsCancel()
	if err := metricsSrv.Shutdown(metricsCtx); err != nil {
		logger.Error("metrics_shutdown_error", "error", err)
	}

	logger.Info("pricedash_stopped")
}
