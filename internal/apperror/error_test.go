package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsFromCode(t *testing.T) {
	err := New(CodePoolNotFound, WithContext("USDC/WETH/3000"))

	assert.Equal(t, "Liquidity pool not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.StatusCode)
	assert.Contains(t, err.Error(), "USDC/WETH/3000")
}

func TestIs_ComparesCodes(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(CodeSwapFailed, WithDetail("reason", "price_limit")))

	assert.True(t, errors.Is(err, New(CodeSwapFailed)))
	assert.False(t, errors.Is(err, New(CodeLoanFailed)))
	assert.Equal(t, CodeSwapFailed, GetCode(err))
	assert.Equal(t, "price_limit", GetDetail(err, "reason"))
}

func TestGetCode_PlainError(t *testing.T) {
	assert.Equal(t, CodeInternalError, GetCode(errors.New("boom")))
	assert.Empty(t, GetDetail(errors.New("boom"), "reason"))
	assert.Nil(t, LogFields(errors.New("boom")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternalError, "x"))

	cause := errors.New("disk full")
	wrapped := Wrap(cause, CodeEventLogWriteFailed, "append")
	assert.Equal(t, CodeEventLogWriteFailed, wrapped.Code)
	assert.ErrorIs(t, wrapped, cause)

	existing := New(CodeLoanNotRepaid)
	assert.Same(t, existing, Wrap(existing, CodeInternalError, "ctx"))
	assert.Equal(t, "ctx", existing.Context)
}

func TestLogFields(t *testing.T) {
	err := New(CodeUnprofitableTrade,
		WithCause(errors.New("short")),
		WithDetail("amount_owed", "1003"))

	fields := LogFields(err)
	require.NotNil(t, fields)
	assert.Equal(t, CodeUnprofitableTrade, fields["code"])
	assert.Equal(t, "1003", fields["amount_owed"])
	assert.Equal(t, "short", fields["cause"])
	assert.Contains(t, fields["stack"], "TestLogFields")
}
