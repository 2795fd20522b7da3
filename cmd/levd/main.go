package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"levfolio/bank"
	"levfolio/config"
	"levfolio/core/events"
	"levfolio/engine"
	"levfolio/gateway"
	"levfolio/market"
	"levfolio/observability"
	"levfolio/observability/logging"
	"levfolio/oracle"
	"levfolio/rpc"
)

// logEmitter forwards engine events to the structured log.
type logEmitter struct {
	log *slog.Logger
}

func (e logEmitter) Emit(ev events.Event) {
	renderer, ok := ev.(events.Renderer)
	if !ok {
		e.log.Info("engine event", "type", ev.EventType())
		return
	}
	record := renderer.Render()
	args := make([]any, 0, 2*len(record.Attributes))
	for key, value := range record.Attributes {
		args = append(args, key, value)
	}
	e.log.Info(record.Type, args...)
}

func main() {
	configFile := flag.String("config", "./levd.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("levd", cfg.Environment, logging.ParseLevel(cfg.LogLevel))

	book, eng, err := buildVenue(cfg, logger)
	if err != nil {
		logger.Error("assemble venue", slog.Any("error", err))
		os.Exit(1)
	}

	if err := seedPosition(cfg, book, eng, logger); err != nil {
		logger.Error("seed position", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(eng, book, logger, cfg.Venue.RateLimitPerSecond, cfg.Venue.RateLimitBurst)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("rpc listening", slog.String("addr", cfg.RPCAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failed", slog.Any("error", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("rpc shutdown", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("metrics shutdown", slog.Any("error", err))
	}
}

// buildVenue assembles the book, oracle, money market, swap pair, and engine
// from the configuration.
func buildVenue(cfg *config.Config, logger *slog.Logger) (*bank.Book, *engine.Engine, error) {
	engineAddr, ownerAddr, feeAddr, marketAddr, pairAddr, err := cfg.Venue.Addresses()
	if err != nil {
		return nil, nil, err
	}
	pos, err := cfg.Instrument.Position()
	if err != nil {
		return nil, nil, err
	}

	book := bank.NewBook()
	router := oracle.NewRouter(pos.DebtAsset)
	price, ok := new(big.Rat).SetString(cfg.Venue.CollateralPrice)
	if !ok {
		return nil, nil, fmt.Errorf("venue.CollateralPrice: invalid ratio %q", cfg.Venue.CollateralPrice)
	}
	router.SetRate(pos.CollateralAsset, price)

	factor, err := config.ParseRatio(cfg.Venue.CollateralFactor)
	if err != nil {
		return nil, nil, err
	}
	mkt := market.NewMoneyMarket(book, router, marketAddr, pos.CollateralAsset, pos.DebtAsset, factor)
	pair := gateway.NewPair(book, pairAddr, pos.CollateralAsset, pos.DebtAsset, cfg.Venue.SwapFeeBps)

	for _, seed := range []struct {
		asset  bank.Asset
		to     string
		amount string
	}{
		{pos.CollateralAsset, "pair", cfg.Venue.PairCollateralReserve},
		{pos.DebtAsset, "pair", cfg.Venue.PairDebtReserve},
		{pos.DebtAsset, "market", cfg.Venue.MarketLiquidity},
	} {
		amount, err := config.ParseAmount(seed.amount)
		if err != nil {
			return nil, nil, err
		}
		if amount.Sign() == 0 {
			continue
		}
		to := pairAddr
		if seed.to == "market" {
			to = marketAddr
		}
		if err := book.Mint(seed.asset, to, amount); err != nil {
			return nil, nil, fmt.Errorf("seed %s: %w", seed.asset, err)
		}
	}
	pair.Sync()

	eng := engine.NewEngine(engineAddr, ownerAddr, feeAddr, pos, book, mkt, pair, router)
	eng.SetEmitter(logEmitter{log: logger})
	eng.SetMetrics(observability.DefaultEngineMetrics())
	pair.Register(engineAddr, eng)
	for _, code := range mkt.EnterMarkets(engineAddr, []bank.Asset{pos.CollateralAsset, pos.DebtAsset}) {
		if code != market.CodeNoError {
			return nil, nil, market.Check("enter markets", code)
		}
	}
	return book, eng, nil
}

// seedPosition runs the one-time Initialize flow when the instrument block
// carries seeding amounts and the position is still unseeded.
func seedPosition(cfg *config.Config, book *bank.Book, eng *engine.Engine, logger *slog.Logger) error {
	collateral, err := config.ParseAmount(cfg.Instrument.InitialCollateral)
	if err != nil {
		return err
	}
	if collateral.Sign() == 0 || eng.Position().Initialized {
		return nil
	}
	debt, err := config.ParseAmount(cfg.Instrument.InitialDebt)
	if err != nil {
		return err
	}
	shares, err := config.ParseAmount(cfg.Instrument.InitialShares)
	if err != nil {
		return err
	}
	funding, err := config.ParseAmount(cfg.Instrument.InitialFunding)
	if err != nil {
		return err
	}

	_, ownerAddr, _, _, _, err := cfg.Venue.Addresses()
	if err != nil {
		return err
	}
	pos := eng.Position()
	if funding.Sign() > 0 {
		if err := book.Mint(pos.DebtAsset, ownerAddr, funding); err != nil {
			return err
		}
		if err := book.Transfer(pos.DebtAsset, ownerAddr, eng.Address(), funding); err != nil {
			return err
		}
	}
	if err := eng.Initialize(ownerAddr, collateral, debt, shares); err != nil {
		return err
	}
	logger.Info("position seeded",
		slog.String("collateral", collateral.String()),
		slog.String("debt", debt.String()),
		slog.String("shares", shares.String()))
	return nil
}
