package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowtrader/internal/api"
	"flowtrader/internal/backtest"
	"flowtrader/internal/events"
	"flowtrader/internal/flow"
	"flowtrader/internal/live"
	"flowtrader/internal/market"
	"flowtrader/internal/risk"
	"flowtrader/pkg/config"
	"flowtrader/pkg/db"
	"flowtrader/pkg/exchange"
	binance "flowtrader/pkg/market/binance"
)

const version = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	strat, err := config.LoadStrategy(cfg.StrategyPath)
	if err != nil {
		log.Fatalf("strategy preset: %v", err)
	}
	log.Printf("Starting flowtrader %s: mode=%s strategy=%s symbols=%v",
		version, cfg.Mode, strat.Name, strat.Symbols())

	flowFeed, err := loadFlowFeed(cfg)
	if err != nil {
		log.Fatalf("flow feed: %v", err)
	}

	switch cfg.Mode {
	case config.ModeBacktest:
		runBacktest(cfg, strat, flowFeed)
	case config.ModeLive:
		runLive(cfg, strat, flowFeed)
	}
}

func loadFlowFeed(cfg *config.Config) (flow.Feed, error) {
	if cfg.FlowCSV == "" {
		log.Printf("No FLOW_CSV configured; flow confirmation disabled")
		return nil, nil
	}
	feed, err := flow.LoadCSV(cfg.FlowCSV)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded flow samples from %s", cfg.FlowCSV)
	return feed, nil
}

func runBacktest(cfg *config.Config, strat *config.Strategy, flowFeed flow.Feed) {
	var candles []market.Candle
	if cfg.CandleCSV != "" {
		for _, sym := range strat.Symbols() {
			loaded, err := market.LoadCandlesCSV(cfg.CandleCSV, sym)
			if err != nil {
				log.Fatalf("candle csv: %v", err)
			}
			candles = append(candles, loaded...)
		}
	} else {
		mock := &market.MockFeed{StartPrice: 100, Step: 0.5, Seed: 1}
		for _, sym := range strat.Symbols() {
			generated, err := mock.LatestCandles(context.Background(), sym, strat.Interval, 500)
			if err != nil {
				log.Fatalf("mock candles: %v", err)
			}
			candles = append(candles, generated...)
		}
	}

	runner := &backtest.Runner{
		Strategy:       strat,
		Flow:           flowFeed,
		InitialBalance: cfg.InitialBalance,
	}
	res, err := runner.Run(context.Background(), candles)
	if err != nil {
		log.Fatalf("backtest: %v", err)
	}

	s := res.Summary
	log.Printf("Backtest complete: %d trades, win rate %.1f%%, pnl %.2f (%.2f%%), max drawdown %.2f%%",
		s.TotalTrades, s.WinRate, s.TotalPnL, s.TotalReturnPct, s.MaxDrawdownPct)
	for _, tr := range res.Trades {
		log.Printf("  %s %s %s entry=%.4f exit=%.4f qty=%v pnl=%.4f",
			tr.ExitTime.Format(time.RFC3339), tr.Symbol, tr.Direction,
			tr.EntryPrice, tr.ExitPrice, tr.Qty, tr.PnL)
	}
}

func runLive(cfg *config.Config, strat *config.Strategy, flowFeed flow.Feed) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	defer bus.Close()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	var feed market.Feed
	if cfg.UseMockFeed {
		log.Printf("Using mock market feed")
		feed = &market.MockFeed{StartPrice: 100, Step: 0.5, Seed: time.Now().UnixNano()}
	} else {
		// closed bars arrive over the kline websocket; REST covers warmup
		// and stream gaps
		sf := market.NewStreamFeed(
			&market.BinanceFeed{Client: binance.NewClient(cfg.BinanceTestnet)},
			binance.NewStreamClient(cfg.BinanceTestnet),
		)
		sf.Start(ctx, strat.Symbols(), strat.Interval)
		feed = sf
	}

	// Dry-run live mode trades against the simulated venue; otherwise orders
	// route to the real venue behind the same Gateway interface.
	var (
		gw  exchange.Gateway
		src exchange.InstrumentSource
	)
	if cfg.DryRun {
		sim := exchange.NewSim(cfg.InitialBalance, backtest.InstrumentMetas(strat))
		// mirror ticks into the sim venue so conditional fills track the feed
		go mirrorMarks(ctx, bus, sim)
		gw, src = sim, sim
	} else {
		bg, gwErr := exchange.NewBinanceGateway(exchange.BinanceConfig{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
		}, backtest.InstrumentMetas(strat))
		if gwErr != nil {
			log.Fatalf("binance gateway: %v", gwErr)
		}
		if syncErr := bg.SyncTime(ctx); syncErr != nil {
			log.Printf("WARNING: time sync failed, using local clock: %v", syncErr)
		}
		gw, src = bg, bg
	}

	mgr := risk.NewManager(backtest.RiskConfig(strat), gw, src, bus)

	server := api.NewServer(mgr, database, api.SystemMeta{
		Mode:     cfg.Mode,
		DryRun:   cfg.DryRun,
		Strategy: strat.Name,
		Symbols:  strat.Symbols(),
		Version:  version,
	}, cfg.JWTSecret, cfg.InitialBalance)
	go func() {
		if err := server.Start(":" + cfg.APIPort); err != nil {
			log.Printf("API server stopped: %v", err)
		}
	}()

	engine := &live.Engine{
		Strategy:          strat,
		Feed:              feed,
		Flow:              flowFeed,
		Gateway:           gw,
		Instruments:       src,
		Manager:           mgr,
		Bus:               bus,
		Journal:           database,
		TickInterval:      time.Duration(cfg.TickSeconds) * time.Second,
		ReconcileInterval: time.Duration(cfg.ReconcileSeconds) * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Printf("Signal received, shutting down")
		cancel()
	}()

	if err := engine.Run(ctx); err != nil {
		log.Printf("Engine stopped with error: %v", err)
	}
	log.Printf("Shutdown complete")
}

func mirrorMarks(ctx context.Context, bus *events.Bus, sim *exchange.Sim) {
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ticks:
			if !ok {
				return
			}
			if c, isCandle := payload.(market.Candle); isCandle && c.Close > 0 {
				sim.SetMarkPrice(c.Symbol, c.Close)
			}
		}
	}
}
