// Package monolith provides the application container and module interface.
package monolith

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/config"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/di"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/httpclient"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

// Service names of the shared infrastructure.
const (
	ServiceConfig        = "config"
	ServiceLogger        = "logger"
	ServiceEthClient     = "ethClient"
	ServiceAssetRegistry = "assetRegistry"
)

// Monolith is the main application container providing access to shared infrastructure.
type Monolith interface {
	Config() *config.Config
	Logger() logger.LoggerInterface
	// EthClient is nil unless a node URL is configured.
	EthClient() *ethclient.Client
	AssetRegistry() *asset.Registry
	Services() di.ServiceRegistry
}

// Module represents a bounded context module that can register services and start up.
type Module interface {
	RegisterServices(di.Container) error
	Startup(context.Context, Monolith) error
}

// Closer is implemented by modules holding resources that outlive Startup.
type Closer interface {
	Close() error
}

// app implements the Monolith interface.
type app struct {
	config        *config.Config
	logger        logger.LoggerInterface
	ethClient     *ethclient.Client
	assetRegistry *asset.Registry
	container     di.Container
	modules       []Module
}

// New creates a new Monolith instance.
func New(cfg *config.Config, log logger.LoggerInterface) (*app, error) {
	var ethClient *ethclient.Client
	if cfg.Ethereum.HTTPURL != "" {
		c, err := dialNode(cfg.Ethereum)
		if err != nil {
			return nil, err
		}
		ethClient = c
	}

	assetRegistry := asset.DefaultRegistry()
	for _, t := range cfg.Trading.Tokens {
		id := asset.NewTokenAssetID(cfg.Ethereum.ChainID, common.HexToAddress(t.Address))
		assetRegistry.Register(asset.NewAssetWithName(id, t.Symbol, t.Name, t.Decimals))
	}

	container := di.NewContainer()

	// Register global services
	container.Register(ServiceConfig, cfg)
	container.Register(ServiceLogger, log)
	container.Register(ServiceAssetRegistry, assetRegistry)
	if ethClient != nil {
		container.Register(ServiceEthClient, ethClient)
	}

	return &app{
		config:        cfg,
		logger:        log,
		ethClient:     ethClient,
		assetRegistry: assetRegistry,
		container:     container,
	}, nil
}

// dialNode connects over JSON-RPC through the instrumented HTTP client so
// node calls show up in traces and request metrics.
func dialNode(cfg config.EthereumConfig) (*ethclient.Client, error) {
	opts := []httpclient.ClientOption{httpclient.WithProviderName("ethereum")}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, httpclient.WithRequestTimeout(cfg.RequestTimeout))
	}

	httpClient, err := httpclient.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("build node http client: %w", err)
	}

	rpcClient, err := rpc.DialOptions(context.Background(), cfg.HTTPURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial ethereum node: %w", err)
	}
	return ethclient.NewClient(rpcClient), nil
}

func (a *app) Config() *config.Config {
	return a.config
}

func (a *app) Logger() logger.LoggerInterface {
	return a.logger
}

func (a *app) EthClient() *ethclient.Client {
	return a.ethClient
}

func (a *app) AssetRegistry() *asset.Registry {
	return a.assetRegistry
}

func (a *app) Services() di.ServiceRegistry {
	return a.container
}

// RegisterModules registers all provided modules.
func (a *app) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.RegisterServices(a.container); err != nil {
			return err
		}
		a.modules = append(a.modules, m)
	}
	return nil
}

// StartModules starts all provided modules.
func (a *app) StartModules(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Startup(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Close releases module resources in reverse registration order, then the
// node connection.
func (a *app) Close() error {
	var firstErr error
	for i := len(a.modules) - 1; i >= 0; i-- {
		if c, ok := a.modules[i].(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if a.ethClient != nil {
		a.ethClient.Close()
	}
	return firstErr
}
