package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	CodeInvalidFormat:      "Invalid data format",
	CodeConfigurationError: "Configuration error",
	CodeRateLimitExceeded:  "Rate limit exceeded",
	CodeInternalError:      "Internal server error",

	// Admission
	CodeInvalidParameters: "Trade parameters are invalid",
	CodePoolNotFound:      "Liquidity pool not found",
	CodeUnauthorized:      "Caller is not authorized",

	// Bracket
	CodeLoanFailed:         "Flash loan could not be opened",
	CodeLoanNotRepaid:      "Flash loan was not repaid",
	CodeSwapFailed:         "Swap failed",
	CodeUnknownVenue:       "Unknown swap venue",
	CodeDeadlineExceeded:   "Swap deadline exceeded",
	CodeUnprofitableTrade:  "Trade proceeds do not cover the loan",
	CodeArithmeticOverflow: "Arithmetic overflow",
	CodeTradeAborted:       "Trade aborted",

	// Reserve
	CodeInsufficientReserve:   "Insufficient reserve balance",
	CodeInsufficientBalance:   "Insufficient balance",
	CodeInsufficientAllowance: "Insufficient allowance",

	// Blockchain/Ethereum errors
	CodeEthereumRPCError: "Ethereum RPC call failed",

	// WebSocket errors
	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	// DEX (Uniswap) errors
	CodeUniswapQuoteFailed: "Failed to get Uniswap quote",
	CodeInvalidQuote:       "Invalid quote data",
	CodeContractCallFailed: "Smart contract call failed",

	// Liquidity
	CodeInsufficientLiquidity: "Insufficient pool liquidity",

	// Event log errors
	CodeEventLogWriteFailed: "Failed to append trade record",
	CodeEventLogReadFailed:  "Failed to read trade records",

	// Circuit breaker errors
	CodeCircuitOpen:     "Circuit breaker is open",
	CodeCircuitHalfOpen: "Circuit breaker is half-open",
}
