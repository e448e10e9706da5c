package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeInvalidFormat      Code = "INVALID_FORMAT"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// Trade execution error codes
const (
	// Admission
	CodeInvalidParameters Code = "INVALID_PARAMETERS"
	CodePoolNotFound      Code = "POOL_NOT_FOUND"
	CodeUnauthorized      Code = "UNAUTHORIZED"

	// Bracket
	CodeLoanFailed         Code = "LOAN_FAILED"
	CodeLoanNotRepaid      Code = "LOAN_NOT_REPAID"
	CodeSwapFailed         Code = "SWAP_FAILED"
	CodeUnknownVenue       Code = "UNKNOWN_VENUE"
	CodeDeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	CodeUnprofitableTrade  Code = "UNPROFITABLE_TRADE"
	CodeArithmeticOverflow Code = "ARITHMETIC_OVERFLOW"
	CodeTradeAborted       Code = "TRADE_ABORTED"

	// Reserve
	CodeInsufficientReserve   Code = "INSUFFICIENT_RESERVE"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance Code = "INSUFFICIENT_ALLOWANCE"
)

// Infrastructure error codes
const (
	// Blockchain/Ethereum errors
	CodeEthereumRPCError Code = "ETHEREUM_RPC_ERROR"

	// WebSocket errors
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	// DEX (Uniswap) errors
	CodeUniswapQuoteFailed Code = "UNISWAP_QUOTE_FAILED"
	CodeInvalidQuote       Code = "INVALID_QUOTE"
	CodeContractCallFailed Code = "CONTRACT_CALL_FAILED"

	// Liquidity
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"

	// Event log errors
	CodeEventLogWriteFailed Code = "EVENT_LOG_WRITE_FAILED"
	CodeEventLogReadFailed  Code = "EVENT_LOG_READ_FAILED"

	// Circuit breaker errors
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeCircuitHalfOpen Code = "CIRCUIT_HALF_OPEN"
)
