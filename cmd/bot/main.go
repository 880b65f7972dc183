// The bot command runs the trading agent: market data feed, decision loop,
// metrics and health endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantavn/ai-futures-bot/internal/bot"
	"github.com/quantavn/ai-futures-bot/internal/config"
	"github.com/quantavn/ai-futures-bot/internal/exchange/bybit"
	"github.com/quantavn/ai-futures-bot/internal/executor"
	"github.com/quantavn/ai-futures-bot/internal/features"
	"github.com/quantavn/ai-futures-bot/internal/feed"
	"github.com/quantavn/ai-futures-bot/internal/killswitch"
	"github.com/quantavn/ai-futures-bot/internal/logger"
	"github.com/quantavn/ai-futures-bot/internal/monitoring"
	"github.com/quantavn/ai-futures-bot/internal/notify"
	"github.com/quantavn/ai-futures-bot/internal/policy"
	"github.com/quantavn/ai-futures-bot/internal/predictor"
	"github.com/quantavn/ai-futures-bot/internal/risk"
	"github.com/quantavn/ai-futures-bot/internal/tradelog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Secrets come from the environment; a local .env is a convenience.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Errorf("bot exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := bybit.NewClient(bybit.Config{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Category:  cfg.Exchange.Category,
		Testnet:   cfg.Exchange.Testnet,
		Demo:      cfg.Exchange.Demo,
	})
	log.Infof("exchange client ready: %s environment", client.Environment())

	exec := executor.New(client, cfg.Executor, log)

	streamURL := feed.MainnetURL
	if cfg.Exchange.Testnet {
		streamURL = feed.TestnetURL
	}
	marketFeed := feed.NewWSFeed(streamURL, cfg.Bot.Symbol, cfg.Feed.Interval,
		cfg.Feed.ReconnectDelay.Std(), log)
	go marketFeed.Run(ctx)

	engine := features.NewEngine()
	warmupCtx, warmupCancel := context.WithTimeout(ctx, 30*time.Second)
	klines, err := client.Klines(warmupCtx, cfg.Bot.Symbol, feed.Interval(cfg.Feed.Interval), 200)
	warmupCancel()
	if err != nil {
		log.Warnf("kline warmup fetch failed, features will build up live: %v", err)
	} else {
		engine.Warmup(klines)
		log.Infof("feature engine warmed up with %d candles", len(klines))
	}

	pred := buildPredictor(cfg, log)
	pol := buildPolicy(cfg, log)

	store, err := buildMarkerStore(cfg)
	if err != nil {
		return err
	}
	halt := killswitch.New(store, cfg.KillSwitch.AuditLog, log)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notifications.Enabled {
		notifier = notify.NewTelegram(cfg.Notifications.Token, cfg.Notifications.ChatID, log)
	}

	trades, err := buildTradeLog(cfg, log)
	if err != nil {
		return err
	}
	defer trades.Close()

	metrics := monitoring.NewMetrics()
	health := monitoring.NewHealthChecker(5 * cfg.Bot.CheckInterval.Std())
	serveHTTP(cfg.Monitoring.MetricsPort, "/metrics", metrics.Handler(), log)
	serveHTTP(cfg.Monitoring.HealthPort, "/health", health.Handler(), log)

	controller := bot.New(cfg.Bot, cfg.Risk, cfg.Feed, bot.Deps{
		Feed:      marketFeed,
		Features:  engine,
		Predictor: pred,
		Policy:    pol,
		Risk:      risk.NewManager(cfg.Risk, log),
		Executor:  exec,
		Halt:      halt,
		Notifier:  notifier,
		TradeLog:  trades,
		Metrics:   metrics,
		Health:    health,
		Logger:    log,
	})

	if err := controller.Start(ctx); err != nil {
		return err
	}
	notifier.Send(fmt.Sprintf("Bot started: %s %dx (simulation=%v)",
		cfg.Bot.Symbol, cfg.Bot.Leverage, cfg.Bot.Simulation))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infof("received signal %s, shutting down", sig)
	case <-controller.Done():
		log.Infof("trading loop halted, shutting down")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Minute)
	defer stopCancel()
	controller.Stop(stopCtx)
	return nil
}

// buildPredictor selects the loaded-weights model when an artifact is
// configured and readable, the rule-based stand-in otherwise.
func buildPredictor(cfg *config.Config, log *logger.Logger) predictor.Predictor {
	if cfg.Models.PredictorWeights != "" {
		m, err := predictor.NewWeightsModel(cfg.Models.PredictorWeights)
		if err == nil {
			log.Infof("loaded predictor weights from %s", cfg.Models.PredictorWeights)
			return m
		}
		log.Warnf("predictor weights unusable, using rule model: %v", err)
	}
	return predictor.NewRuleModel()
}

func buildPolicy(cfg *config.Config, log *logger.Logger) policy.Policy {
	if cfg.Models.PolicyWeights != "" {
		p, err := policy.NewWeightsPolicy(cfg.Models.PolicyWeights)
		if err == nil {
			log.Infof("loaded policy weights from %s", cfg.Models.PolicyWeights)
			return p
		}
		log.Warnf("policy weights unusable, using rule policy: %v", err)
	}
	return policy.NewRulePolicy()
}

func buildMarkerStore(cfg *config.Config) (killswitch.MarkerStore, error) {
	switch cfg.KillSwitch.Store {
	case "redis":
		return killswitch.NewRedisStore(cfg.KillSwitch.RedisAddr, cfg.KillSwitch.RedisKey), nil
	case "file":
		return killswitch.NewFileStore(cfg.KillSwitch.MarkerPath), nil
	}
	return nil, fmt.Errorf("unknown kill switch store %q", cfg.KillSwitch.Store)
}

func buildTradeLog(cfg *config.Config, log *logger.Logger) (tradelog.Store, error) {
	switch cfg.TradeLog.Backend {
	case "sqlite":
		return tradelog.NewSQLite(cfg.TradeLog.DBPath, log)
	case "jsonl":
		return tradelog.NewJSONL(cfg.TradeLog.Path, log)
	}
	return nil, fmt.Errorf("unknown trade log backend %q", cfg.TradeLog.Backend)
}

func serveHTTP(port int, path string, handler http.Handler, log *logger.Logger) {
	if port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("serving %s on :%d", path, port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server on :%d failed: %v", port, err)
		}
	}()
}
