package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"tokenmart/api"
	"tokenmart/common"
	"tokenmart/config"
	"tokenmart/core/events"
	"tokenmart/core/types"
	"tokenmart/custody"
	"tokenmart/fees"
	"tokenmart/ledger"
	"tokenmart/market"
	"tokenmart/observability/logging"
	"tokenmart/observability/metrics"
	"tokenmart/oracle"
	"tokenmart/royalty"
	"tokenmart/storage"
)

// logEmitter writes every marketplace event as a structured log line.
type logEmitter struct {
	log *slog.Logger
}

func (e logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{"event", evt.EventType()}
	if detailed, ok := evt.(interface{ Event() *types.Event }); ok {
		if detail := detailed.Event(); detail != nil {
			for key, value := range detail.Attributes {
				attrs = append(attrs, key, value)
			}
		}
	}
	e.log.Info("market event", attrs...)
}

func main() {
	configFile := flag.String("config", "./tokenmart.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TOKENMART_ENV"))
	logger := logging.Setup("tokenmartd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	kv := storage.NewKVStore(db)
	store := market.NewStore(kv)

	deeds := custody.NewMemoryDeeds()
	tokens := custody.NewMemoryTokens()
	bank := custody.NewMemoryBank()
	royalties := royalty.NewRegistry()
	priceOracle := oracle.NewManualOracle()

	admin := cfg.Admin()
	led, err := ledger.NewLedger(kv, admin)
	if err != nil {
		logger.Error("open user ledger", slog.Any("error", err))
		os.Exit(1)
	}

	calc, err := fees.NewCalculator(fees.Config{
		FeeRecipient:    cfg.FeeRecipient(),
		FeeBps:          cfg.Fees.FeeBps,
		MaxFeeBps:       cfg.Fees.MaxFeeBps,
		MinFeeUSD:       cfg.MinFeeAmount(),
		MaxRoyaltyBps:   cfg.Fees.MaxRoyaltyBps,
		StaleSeconds:    cfg.Fees.StaleSeconds,
		MaxStaleSeconds: cfg.Fees.MaxStaleSeconds,
		RiskFactorBps:   cfg.Fees.RiskFactorBps,
	}, priceOracle, royalties, led)
	if err != nil {
		logger.Error("configure fee calculator", slog.Any("error", err))
		os.Exit(1)
	}

	emitter := metrics.NewInstrumentedEmitter(logEmitter{log: logger})
	led.SetEmitter(emitter)

	pauses := common.NewSwitchboard()
	listings := market.NewListingEngine(store, deeds, bank, led, calc)
	auctions := market.NewAuctionEngine(store, deeds, bank, led, calc, cfg.Owner())
	orders := market.NewOrderBookEngine(store, tokens, bank, led, calc)
	for _, engine := range []interface {
		SetEmitter(events.Emitter)
		SetPauses(common.PauseView)
	}{listings, auctions, orders} {
		engine.SetEmitter(emitter)
		engine.SetPauses(pauses)
	}
	for _, module := range []ethcommon.Address{
		listings.ModuleAddress(), auctions.ModuleAddress(), orders.ModuleAddress(),
	} {
		if err := led.Authorize(admin, module); err != nil {
			logger.Error("authorize engine", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if cfg.SeedFile != "" {
		if err := applySeed(cfg.SeedFile, deeds, tokens, bank, royalties, priceOracle); err != nil {
			logger.Error("apply seed", slog.String("path", cfg.SeedFile), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("seed applied", slog.String("path", cfg.SeedFile))
	}

	server := api.NewServer(api.Deps{
		Listings:       listings,
		Auctions:       auctions,
		Orders:         orders,
		Ledger:         led,
		Calc:           calc,
		Oracle:         priceOracle,
		Pauses:         pauses,
		Admin:          admin,
		Log:            logger,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", slog.String("address", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
	logger.Info("stopped")
}

// applySeed loads development fixtures: funded accounts, minted assets,
// royalty terms and an initial oracle quote.
func applySeed(path string, deeds *custody.MemoryDeeds, tokens *custody.MemoryTokens, bank *custody.MemoryBank, royalties *royalty.Registry, priceOracle *oracle.ManualOracle) error {
	seed, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	if seed.Oracle.Price != "" {
		if err := priceOracle.Set(config.Amount(seed.Oracle.Price), seed.Oracle.Decimals, time.Now()); err != nil {
			return err
		}
	}
	for _, acct := range seed.Accounts {
		if err := bank.Deposit(ethcommon.HexToAddress(acct.Address), config.Amount(acct.Balance)); err != nil {
			return err
		}
	}
	for _, deed := range seed.Deeds {
		asset := custody.AssetRef{
			Collection: ethcommon.HexToAddress(deed.Collection),
			TokenID:    big.NewInt(deed.TokenID),
		}
		if err := deeds.Mint(asset, ethcommon.HexToAddress(deed.Owner)); err != nil {
			return err
		}
	}
	for _, token := range seed.Tokens {
		if err := tokens.Mint(ethcommon.HexToAddress(token.Token), ethcommon.HexToAddress(token.Holder), config.Amount(token.Amount)); err != nil {
			return err
		}
	}
	for _, terms := range seed.Royalty {
		err := royalties.SetTerms(ethcommon.HexToAddress(terms.Collection), royalty.Terms{
			Recipient: ethcommon.HexToAddress(terms.Recipient),
			Bps:       terms.Bps,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
