// Package trading implements the flash-loan trade coordinator bounded context.
package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	tradingDI "github.com/hasanhalabi/arbitrage-smart-contract/business/trading/di"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/infra/amm"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/infra/eventlog"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/infra/ledger"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/infra/uniswap"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/config"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/di"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/monolith"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/ratelimit"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/wsconn"
)

const connectTimeout = 10 * time.Second

// Module implements the trading bounded context.
type Module struct {
	mu      sync.Mutex
	closers []func() error
	records *wsconn.Client
}

func (m *Module) onClose(fn func() error) {
	m.mu.Lock()
	m.closers = append(m.closers, fn)
	m.mu.Unlock()
}

// Close releases stores, sinks and resolver caches, newest first.
func (m *Module) Close() error {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterServices registers all trading services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, tradingDI.Ledger, func(sr di.ServiceRegistry) *ledger.Ledger {
		log := sr.Get(monolith.ServiceLogger).(logger.LoggerInterface)
		l, err := ledger.New(log)
		if err != nil {
			panic("failed to create ledger: " + err.Error())
		}
		return l
	})

	// Register EventLog - the primary store fanned out to the optional sinks
	di.RegisterToken(c, tradingDI.EventLog, func(sr di.ServiceRegistry) app.EventLog {
		cfg := sr.Get(monolith.ServiceConfig).(*config.Config)
		log := sr.Get(monolith.ServiceLogger).(logger.LoggerInterface)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		store, err := m.openStore(ctx, cfg.EventLog)
		if err != nil {
			panic("failed to open event log: " + err.Error())
		}

		var sinks []app.RecordSink
		if rc := cfg.EventLog.Redis; rc.Addr != "" {
			stream, err := eventlog.NewRedisStream(ctx, eventlog.RedisConfig{
				Addr:     rc.Addr,
				Password: rc.Password,
				DB:       rc.DB,
				Stream:   rc.Stream,
			})
			if err != nil {
				// Sinks are best effort; the store alone is enough to trade.
				log.Warn(ctx, "redis record sink disabled", "addr", rc.Addr, "error", err)
			} else {
				m.onClose(stream.Close)
				sinks = append(sinks, stream)
			}
		}
		if wc := cfg.EventLog.WebSocket; wc.URL != "" {
			wsCfg := wsconn.DefaultConfig(wc.URL, "records")
			wsCfg.InitialBackoff = wc.InitialBackoff
			wsCfg.MaxBackoff = wc.MaxBackoff
			wsCfg.Logger = log
			client, err := wsconn.New(wsCfg)
			if err != nil {
				panic("failed to create record websocket: " + err.Error())
			}
			m.onClose(client.Close)
			m.mu.Lock()
			m.records = client
			m.mu.Unlock()
			sinks = append(sinks, eventlog.NewWebSocket(client))
		}

		if len(sinks) == 0 {
			return store
		}
		return eventlog.NewFanOut(store, log, sinks...)
	})

	di.RegisterToken(c, tradingDI.Exchanges, func(sr di.ServiceRegistry) []*amm.Exchange {
		cfg := sr.Get(monolith.ServiceConfig).(*config.Config)
		log := sr.Get(monolith.ServiceLogger).(logger.LoggerInterface)
		if cfg.Trading.Mode != config.ModePaper {
			return nil
		}

		l := tradingDI.GetLedger(sr)
		out := make([]*amm.Exchange, 0, len(cfg.Market.Venues))
		for _, v := range cfg.Market.Venues {
			out = append(out, amm.NewExchange(v.Name,
				common.HexToAddress(v.Router), common.HexToAddress(v.Factory), l, log))
		}
		return out
	})

	// Register SwapRouter and LoanResolver - both depend on the trading mode
	di.RegisterToken(c, tradingDI.SwapRouter, func(sr di.ServiceRegistry) *app.SwapRouter {
		cfg := sr.Get(monolith.ServiceConfig).(*config.Config)
		router := app.NewSwapRouter()

		if cfg.Trading.Mode == config.ModePaper {
			for _, ex := range tradingDI.GetExchanges(sr) {
				router.Register(ex)
			}
			return router
		}

		for _, v := range m.quotedVenues(sr, cfg) {
			router.Register(v)
		}
		return router
	})

	di.RegisterToken(c, tradingDI.LoanResolver, func(sr di.ServiceRegistry) app.PoolResolver {
		cfg := sr.Get(monolith.ServiceConfig).(*config.Config)

		if cfg.Trading.Mode == config.ModePaper {
			for _, ex := range tradingDI.GetExchanges(sr) {
				if ex.Name() == cfg.Trading.LenderVenue {
					return ex
				}
			}
			panic("lender venue not found: " + cfg.Trading.LenderVenue)
		}

		for _, v := range cfg.Market.Venues {
			if v.Name == cfg.Trading.LenderVenue {
				return m.resolver(sr, cfg, v)
			}
		}
		panic("lender venue not found: " + cfg.Trading.LenderVenue)
	})

	di.RegisterToken(c, tradingDI.Lender, func(sr di.ServiceRegistry) app.LoanSource {
		cfg := sr.Get(monolith.ServiceConfig).(*config.Config)
		log := sr.Get(monolith.ServiceLogger).(logger.LoggerInterface)
		return ledger.NewFlashLender(tradingDI.GetLedger(sr), cfg.Trading.EngineAddressHex(), log)
	})

	di.RegisterToken(c, tradingDI.Reserve, func(sr di.ServiceRegistry) app.Reserve {
		cfg := sr.Get(monolith.ServiceConfig).(*config.Config)
		return ledger.NewReserve(tradingDI.GetLedger(sr), cfg.Trading.EngineAddressHex())
	})

	di.RegisterToken(c, tradingDI.Coordinator, func(sr di.ServiceRegistry) *app.Coordinator {
		cfg := sr.Get(monolith.ServiceConfig).(*config.Config)
		log := sr.Get(monolith.ServiceLogger).(logger.LoggerInterface)
		registry := sr.Get(monolith.ServiceAssetRegistry).(*asset.Registry)

		base, ok := registry.GetBySymbolAndChain(cfg.Trading.BaseAsset, cfg.Ethereum.ChainID)
		if !ok {
			panic("unknown base asset: " + cfg.Trading.BaseAsset)
		}

		coord, err := app.NewCoordinator(
			app.CoordinatorConfig{
				Engine:          cfg.Trading.EngineAddressHex(),
				Base:            base,
				DefaultDeadline: cfg.Trading.DefaultDeadline,
			},
			tradingDI.GetLoanResolver(sr),
			tradingDI.GetLender(sr),
			tradingDI.GetSwapRouter(sr),
			tradingDI.GetEventLog(sr),
			log,
		)
		if err != nil {
			panic("failed to create coordinator: " + err.Error())
		}
		return coord
	})

	// Register TradeService (public - exposed to the command line)
	di.RegisterToken(c, tradingDI.TradeService, func(sr di.ServiceRegistry) *app.TradeService {
		cfg := sr.Get(monolith.ServiceConfig).(*config.Config)
		log := sr.Get(monolith.ServiceLogger).(logger.LoggerInterface)

		var limiter *ratelimit.Limiter
		if cfg.Trading.AttemptsPerMinute > 0 {
			limiter = ratelimit.New(cfg.Trading.AttemptsPerMinute)
		}

		return app.NewTradeService(
			tradingDI.GetCoordinator(sr),
			app.InitiatorPolicy{Initiator: cfg.Trading.InitiatorAddressHex()},
			tradingDI.GetReserve(sr),
			tradingDI.GetEventLog(sr),
			limiter,
			log,
		)
	})

	di.RegisterToken(c, tradingDI.Reconciler, func(sr di.ServiceRegistry) *app.Reconciler {
		log := sr.Get(monolith.ServiceLogger).(logger.LoggerInterface)
		return app.NewReconciler(tradingDI.GetEventLog(sr), log)
	})

	return nil
}

func (m *Module) openStore(ctx context.Context, cfg config.EventLogConfig) (app.EventLog, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := eventlog.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		m.onClose(s.Close)
		return s, nil
	case config.DriverPostgres:
		p, err := eventlog.OpenPostgres(ctx, eventlog.PostgresConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			return nil, err
		}
		m.onClose(func() error { p.Close(); return nil })
		return p, nil
	default:
		return eventlog.NewMemory(), nil
	}
}

// resolver builds the on-chain pool resolver for a venue's factory.
func (m *Module) resolver(sr di.ServiceRegistry, cfg *config.Config, v config.VenueConfig) *uniswap.PoolResolver {
	log := sr.Get(monolith.ServiceLogger).(logger.LoggerInterface)
	client := sr.Get(monolith.ServiceEthClient).(*ethclient.Client)

	r := uniswap.NewPoolResolver(client, uniswap.ResolverConfig{
		Factory:      common.HexToAddress(v.Factory),
		InitCodeHash: cfg.Uniswap.PoolInitCodeHashHex(),
		CacheTTL:     cfg.Uniswap.PoolCacheTTL,
	}, log)
	m.onClose(func() error { r.Close(); return nil })
	return r
}

func (m *Module) quotedVenues(sr di.ServiceRegistry, cfg *config.Config) []*uniswap.QuotedVenue {
	log := sr.Get(monolith.ServiceLogger).(logger.LoggerInterface)
	client := sr.Get(monolith.ServiceEthClient).(*ethclient.Client)

	out := make([]*uniswap.QuotedVenue, 0, len(cfg.Market.Venues))
	for _, v := range cfg.Market.Venues {
		quoterAddr := cfg.Uniswap.QuoterAddressHex()
		if v.Quoter != "" {
			quoterAddr = common.HexToAddress(v.Quoter)
		}
		q, err := uniswap.NewQuoter(client, quoterAddr, log)
		if err != nil {
			panic(fmt.Sprintf("failed to create quoter for %s: %v", v.Name, err))
		}
		out = append(out, uniswap.NewQuotedVenue(v.Name, common.HexToAddress(v.Router), m.resolver(sr, cfg, v), q, log))
	}
	return out
}

// Startup seeds the market, connects sinks and closes attempts left open by
// a previous run.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	cfg := mono.Config()
	sr := mono.Services()
	registry := mono.AssetRegistry()

	l := tradingDI.GetLedger(sr)

	if err := seedPools(ctx, cfg, registry, l, tradingDI.GetExchanges(sr)); err != nil {
		return fmt.Errorf("seed pools: %w", err)
	}

	for _, b := range cfg.Market.Balances {
		a, ok := registry.GetBySymbolAndChain(b.Asset, cfg.Ethereum.ChainID)
		if !ok {
			return fmt.Errorf("balance for %s: unknown asset %q", b.Account, b.Asset)
		}
		amt, err := asset.ParseString(a, b.Amount)
		if err != nil {
			return fmt.Errorf("balance for %s: %w", b.Account, err)
		}
		if err := l.Mint(ctx, common.HexToAddress(b.Account), amt); err != nil {
			return err
		}
	}

	// Build the service graph now so store failures surface at startup.
	tradingDI.GetTradeService(sr)

	m.connectSinks(ctx, log)

	if cfg.Trading.ReconcileOnStart {
		closed, err := tradingDI.GetReconciler(sr).Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		if closed > 0 {
			log.Warn(ctx, "closed attempts left open by a previous run", "count", closed)
		}
	}

	log.Info(ctx, "trading module started",
		"mode", cfg.Trading.Mode,
		"venues", len(cfg.Market.Venues),
		"event_log", cfg.EventLog.Driver,
	)
	return nil
}

// seedPools lists the configured pools. Paper pools go through their
// exchange; in quoted mode only the inventory at the CREATE2 address is
// minted, prices come from the quoter.
func seedPools(ctx context.Context, cfg *config.Config, registry *asset.Registry, l *ledger.Ledger, exchanges []*amm.Exchange) error {
	byName := make(map[string]*amm.Exchange, len(exchanges))
	for _, ex := range exchanges {
		byName[ex.Name()] = ex
	}

	for _, v := range cfg.Market.Venues {
		for _, p := range v.Pools {
			ra, rb, err := poolReserves(cfg, registry, p)
			if err != nil {
				return fmt.Errorf("venue %s: %w", v.Name, err)
			}

			if ex, ok := byName[v.Name]; ok {
				if _, err := ex.AddPool(ctx, ra, rb, domain.FeeTier(p.Fee)); err != nil {
					return fmt.Errorf("venue %s: %w", v.Name, err)
				}
				continue
			}

			id := domain.NewPoolIdentity(ra.Asset().ID(), rb.Asset().ID(), domain.FeeTier(p.Fee))
			addr := id.Address(common.HexToAddress(v.Factory), cfg.Uniswap.PoolInitCodeHashHex())
			for _, r := range []asset.Amount{ra, rb} {
				if r.IsZero() {
					continue
				}
				if err := l.Mint(ctx, addr, r); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func poolReserves(cfg *config.Config, registry *asset.Registry, p config.PoolConfig) (asset.Amount, asset.Amount, error) {
	parse := func(symbol, amount string) (asset.Amount, error) {
		a, ok := registry.GetBySymbolAndChain(symbol, cfg.Ethereum.ChainID)
		if !ok {
			return asset.Amount{}, fmt.Errorf("unknown asset %q", symbol)
		}
		if amount == "" {
			return asset.Zero(a), nil
		}
		return asset.ParseString(a, amount)
	}

	ra, err := parse(p.TokenA, p.ReserveA)
	if err != nil {
		return asset.Amount{}, asset.Amount{}, err
	}
	rb, err := parse(p.TokenB, p.ReserveB)
	if err != nil {
		return asset.Amount{}, asset.Amount{}, err
	}
	return ra, rb, nil
}

// connectSinks dials the record websocket without blocking startup. A
// failed first dial is retried in the background until it succeeds.
func (m *Module) connectSinks(ctx context.Context, log logger.LoggerInterface) {
	m.mu.Lock()
	client := m.records
	m.mu.Unlock()
	if client == nil {
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	err := client.Connect(connectCtx)
	if err == nil {
		return
	}
	log.Warn(ctx, "record websocket connection failed, will retry in background", "error", err)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				if client.State() == wsconn.StateClosed {
					return
				}
				if err := client.Connect(ctx); err != nil {
					log.Warn(ctx, "record websocket retry failed", "error", err)
					continue
				}
				log.Info(ctx, "record websocket connected")
				return
			}
		}
	}()
}
