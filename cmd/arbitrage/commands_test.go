package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
)

func TestReadRequests_SkipsBlankAndCommentLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.jsonl")
	body := `# morning batch
{"trade_id": 1, "trade_asset": "WETH", "principal": "1", "loan_fee": 3000, "buy_fee": 500, "sell_fee": 3000}

{"trade_id": 2, "trade_asset": "WETH", "principal": "2", "loan_fee": 3000, "buy_fee": 500, "sell_fee": 3000}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	dtos, err := readRequests(path)
	require.NoError(t, err)
	require.Len(t, dtos, 2)
	assert.Equal(t, uint64(2), dtos[1].TradeID)
	assert.Equal(t, "2", dtos[1].Principal)
}

func TestReadRequests_ReportsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"trade_id\": 1}\n{not json\n"), 0o600))

	_, err := readRequests(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2:")
}

func TestDescribe(t *testing.T) {
	assert.Empty(t, describe(nil))
	assert.Equal(t, "boom", describe(errors.New("boom")))

	err := apperror.New(apperror.CodeSwapFailed, apperror.WithDetail(domain.DetailReason, domain.ReasonSlippage))
	assert.Equal(t, string(apperror.CodeSwapFailed)+" (slippage)", describe(err))
}

func TestFormatPayload_SortsKeys(t *testing.T) {
	assert.Equal(t, "a=1 b=2", formatPayload(map[string]string{"b": "2", "a": "1"}))
	assert.Empty(t, formatPayload(nil))
}
