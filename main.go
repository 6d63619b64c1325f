package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trendline-bot/config"
	"trendline-bot/execution"
	"trendline-bot/journal"
	"trendline-bot/marketdata"
	"trendline-bot/metrics"
	"trendline-bot/risk"
	"trendline-bot/strategy"
)

type bot struct {
	config     *config.Config
	logger     *zap.Logger
	location   *time.Location
	feed       marketdata.DataFeed
	recognizer *strategy.Recognizer
	gate       *risk.Gate
	manager    *execution.Manager
	stream     *execution.TradeStream
	journal    *journal.Writer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	b, err := newBot(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.run(ctx); err != nil {
		logger.Fatal("bot exited", zap.Error(err))
	}
}

func newBot(cfg *config.Config, logger *zap.Logger) (*bot, error) {
	location, err := config.MarketLocation()
	if err != nil {
		return nil, err
	}

	feedCfg := marketdata.DefaultClientConfig()
	feedCfg.BaseURL = cfg.DataURL
	feedCfg.APIKey = cfg.APIKey
	feedCfg.APISecret = cfg.APISecret
	feed := marketdata.NewClient(feedCfg, logger.Named("marketdata"))

	recogCfg := strategy.DefaultRecognizerConfig()
	recogCfg.SwingLookback = cfg.SwingLookback
	recogCfg.RetracementTolerance = cfg.RetracementTolerance
	recogCfg.MaxRetestBars = cfg.MaxRetestBars
	recognizer := strategy.NewRecognizer(recogCfg, logger.Named("strategy"))

	var broker execution.Broker
	var stream *execution.TradeStream
	if cfg.Paper && cfg.APIKey == "" {
		// Offline dry run with a simulated account.
		broker = execution.NewPaperBroker(decimal.NewFromFloat(cfg.StartingBalance))
	} else {
		brokerCfg := execution.DefaultBrokerConfig()
		brokerCfg.BaseURL = cfg.BrokerURL
		brokerCfg.APIKey = cfg.APIKey
		brokerCfg.APISecret = cfg.APISecret
		broker = execution.NewAlpacaBroker(brokerCfg, logger.Named("broker"))
	}

	gateCfg := risk.DefaultGateConfig()
	gateCfg.RiskPerTrade = cfg.AccountRiskPerTrade
	gateCfg.MaxDailyLossPct = cfg.MaxDailyLossPct
	gateCfg.MaxOpenTrades = cfg.MaxOpenTrades
	gateCfg.MinRiskReward = cfg.MinRiskReward
	gate := risk.NewGate(gateCfg, broker, location, logger.Named("risk"))

	jw, err := journal.NewWriter(cfg.TradesDir, location, logger.Named("journal"))
	if err != nil {
		return nil, err
	}

	mgrCfg := execution.DefaultManagerConfig()
	mgrCfg.SubmitRetries = cfg.SubmitRetries
	mgrCfg.PollInterval = cfg.PollInterval
	manager := execution.NewManager(mgrCfg, broker, gate, jw, logger.Named("execution"))

	if cfg.StreamURL != "" && cfg.APIKey != "" {
		streamCfg := execution.DefaultStreamConfig()
		streamCfg.URL = cfg.StreamURL
		streamCfg.APIKey = cfg.APIKey
		streamCfg.APISecret = cfg.APISecret
		stream = execution.NewTradeStream(streamCfg, manager, logger.Named("stream"))
	}

	return &bot{
		config:     cfg,
		logger:     logger,
		location:   location,
		feed:       feed,
		recognizer: recognizer,
		gate:       gate,
		manager:    manager,
		stream:     stream,
		journal:    jw,
	}, nil
}

func (b *bot) run(ctx context.Context) error {
	metricsSrv := &http.Server{Addr: b.config.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// Positions held before this process started must count against the
	// concurrency cap before any new signal can be admitted.
	if err := b.manager.Reconcile(ctx); err != nil {
		return err
	}

	b.manager.Start(ctx)
	if b.stream != nil {
		if err := b.stream.Start(ctx); err != nil {
			b.logger.Warn("trade update stream unavailable, relying on polling", zap.Error(err))
		}
	}

	b.logger.Info("bot started",
		zap.Strings("symbols", b.config.Symbols),
		zap.Duration("scan_interval", b.config.ScanInterval),
		zap.Bool("paper", b.config.Paper))

	ticker := time.NewTicker(b.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown(metricsSrv)
			return nil
		case <-ticker.C:
			now := time.Now().In(b.location)
			if !marketOpen(now) {
				b.logger.Debug("market closed, skipping scan", zap.Time("now", now))
				continue
			}
			b.scanAll(ctx)
		}
	}
}

func (b *bot) shutdown(metricsSrv *http.Server) {
	b.logger.Info("shutting down")
	if b.stream != nil {
		b.stream.Stop()
	}
	b.manager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Shutdown(shutdownCtx)

	if err := b.journal.Close(); err != nil {
		b.logger.Error("journal close failed", zap.Error(err))
	}
}

// scanAll runs one scan cycle, each symbol in its own goroutine. Symbols
// never share recognizer state, so the only cross-symbol coordination is
// inside the risk gate.
func (b *bot) scanAll(ctx context.Context) {
	start := time.Now()
	var wg sync.WaitGroup
	for _, symbol := range b.config.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			b.scanSymbol(ctx, symbol)
		}(symbol)
	}
	wg.Wait()
	elapsed := time.Since(start)
	metrics.ScanDuration.Observe(elapsed.Seconds())
	b.logger.Info("scan cycle complete",
		zap.Int("symbols", len(b.config.Symbols)),
		zap.Int("open_trades", b.gate.OpenTradeCount()),
		zap.Bool("halted", b.gate.Halted()),
		zap.Duration("elapsed", elapsed))
}

func (b *bot) scanSymbol(ctx context.Context, symbol string) {
	bars, err := b.feed.GetBars(ctx, symbol, b.config.LookbackBars)
	if err != nil {
		b.logger.Warn("scan skipped", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	signal := b.recognizer.Scan(symbol, bars)
	if signal == nil {
		return
	}
	metrics.SignalsTotal.WithLabelValues(symbol, string(signal.Direction)).Inc()

	order, err := b.gate.Evaluate(ctx, signal)
	if err != nil {
		var rej *risk.Rejection
		if !errors.As(err, &rej) {
			b.logger.Error("risk evaluation failed", zap.String("symbol", symbol), zap.Error(err))
		}
		return
	}

	if _, err := b.manager.Execute(ctx, order); err != nil {
		b.logger.Error("order execution failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// marketOpen reports whether t falls inside regular trading hours, Monday to
// Friday 09:30 to 16:00 in t's own location.
func marketOpen(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
