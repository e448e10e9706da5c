package uniswap

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/cache"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/circuitbreaker"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

var _ app.PoolResolver = (*PoolResolver)(nil)

// ResolverConfig configures pool discovery.
type ResolverConfig struct {
	Factory      common.Address
	InitCodeHash common.Hash
	CacheTTL     time.Duration
}

// PoolResolver finds pools at their CREATE2 address and confirms a contract
// is deployed there. Positive lookups are cached; misses are not.
type PoolResolver struct {
	client ChainReader
	cfg    ResolverConfig
	cache  *cache.Cache[string, domain.PoolHandle]
	cb     *circuitbreaker.CircuitBreaker[[]byte]
	logger logger.LoggerInterface
	tracer trace.Tracer
}

// NewPoolResolver creates a resolver. Call Close to stop the cache sweeper.
func NewPoolResolver(client ChainReader, cfg ResolverConfig, log logger.LoggerInterface) *PoolResolver {
	if cfg.InitCodeHash == (common.Hash{}) {
		cfg.InitCodeHash = domain.UniswapV3PoolInitCodeHash
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	return &PoolResolver{
		client: client,
		cfg:    cfg,
		cache:  cache.New[string, domain.PoolHandle](time.Minute),
		cb:     circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig("uniswap-pools")),
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
}

// Resolve returns the deployed pool for id or PoolNotFound.
func (r *PoolResolver) Resolve(ctx context.Context, id domain.PoolIdentity) (domain.PoolHandle, error) {
	key := id.Key()
	if h, ok := r.cache.Get(ctx, key); ok {
		return h, nil
	}

	ctx, span := r.tracer.Start(ctx, "uniswap.resolve_pool",
		trace.WithAttributes(attribute.String("pool", id.String())))
	defer span.End()

	addr := id.Address(r.cfg.Factory, r.cfg.InitCodeHash)
	span.SetAttributes(attribute.String("address", addr.Hex()))

	code, err := r.cb.Execute(func() ([]byte, error) {
		return r.client.CodeAt(ctx, addr, nil)
	})
	if err != nil {
		span.RecordError(err)
		return domain.PoolHandle{}, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("code at "+addr.Hex()))
	}
	if len(code) == 0 {
		return domain.PoolHandle{}, apperror.New(apperror.CodePoolNotFound,
			apperror.WithContext(id.String()+" not deployed at "+addr.Hex()),
			apperror.WithDetail(domain.DetailReason, domain.ReasonNoPool))
	}

	h := domain.PoolHandle{Identity: id, Address: addr}
	r.cache.Set(ctx, key, h, r.cfg.CacheTTL)

	r.logger.Debug(ctx, "pool resolved", "pool", id.String(), "address", addr.Hex())
	return h, nil
}

// Close stops background cache cleanup.
func (r *PoolResolver) Close() {
	r.cache.Close()
}
