// Package di contains dependency injection tokens for the trading context.
package di

import (
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/infra/amm"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/infra/ledger"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/di"
)

// Public service tokens - exposed to other modules
var (
	TradeService = di.NewToken[*app.TradeService]("trading.TradeService")
	EventLog     = di.NewToken[app.EventLog]("trading.EventLog")
	Reconciler   = di.NewToken[*app.Reconciler]("trading.Reconciler")
)

// Private dependency tokens - internal to trading module
var (
	Ledger       = di.NewToken[*ledger.Ledger]("trading:ledger")
	Exchanges    = di.NewToken[[]*amm.Exchange]("trading:exchanges")
	SwapRouter   = di.NewToken[*app.SwapRouter]("trading:swapRouter")
	LoanResolver = di.NewToken[app.PoolResolver]("trading:loanResolver")
	Lender       = di.NewToken[app.LoanSource]("trading:lender")
	Reserve      = di.NewToken[app.Reserve]("trading:reserve")
	Coordinator  = di.NewToken[*app.Coordinator]("trading:coordinator")
)

// Helper functions for type-safe access
func GetTradeService(c di.ServiceRegistry) *app.TradeService {
	return di.GetToken(c, TradeService)
}

func GetEventLog(c di.ServiceRegistry) app.EventLog {
	return di.GetToken(c, EventLog)
}

func GetReconciler(c di.ServiceRegistry) *app.Reconciler {
	return di.GetToken(c, Reconciler)
}

func GetLedger(c di.ServiceRegistry) *ledger.Ledger {
	return di.GetToken(c, Ledger)
}

// GetExchanges returns the paper exchanges; empty in quoted mode.
func GetExchanges(c di.ServiceRegistry) []*amm.Exchange {
	return di.GetToken(c, Exchanges)
}

func GetSwapRouter(c di.ServiceRegistry) *app.SwapRouter {
	return di.GetToken(c, SwapRouter)
}

func GetLoanResolver(c di.ServiceRegistry) app.PoolResolver {
	return di.GetToken(c, LoanResolver)
}

func GetLender(c di.ServiceRegistry) app.LoanSource {
	return di.GetToken(c, Lender)
}

func GetReserve(c di.ServiceRegistry) app.Reserve {
	return di.GetToken(c, Reserve)
}

func GetCoordinator(c di.ServiceRegistry) *app.Coordinator {
	return di.GetToken(c, Coordinator)
}
