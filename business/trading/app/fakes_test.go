package app

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
)

// -----------------------------------------------------------------------------
// Logger
// -----------------------------------------------------------------------------

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Info(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Warn(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Error(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Debugc(ctx context.Context, caller int, msg string, args ...any) {}
func (m *mockLogger) Infoc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Warnc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Errorc(ctx context.Context, caller int, msg string, args ...any) {}

var _ logger.LoggerInterface = (*mockLogger)(nil)

// -----------------------------------------------------------------------------
// Bank: a snapshotting Workspace
// -----------------------------------------------------------------------------

type bankKey struct {
	account common.Address
	asset   asset.AssetID
}

type allowKey struct {
	owner, spender common.Address
	asset          asset.AssetID
}

type mockBank struct {
	mu         sync.Mutex
	balances   map[bankKey]*big.Int
	allowances map[allowKey]*big.Int
}

var _ Workspace = (*mockBank)(nil)

func newMockBank() *mockBank {
	return &mockBank{
		balances:   make(map[bankKey]*big.Int),
		allowances: make(map[allowKey]*big.Int),
	}
}

func (b *mockBank) mint(account common.Address, amt asset.Amount) {
	k := bankKey{account, amt.Asset().ID()}
	b.balances[k] = new(big.Int).Add(b.get(k), amt.Raw())
}

func (b *mockBank) get(k bankKey) *big.Int {
	if v, ok := b.balances[k]; ok {
		return v
	}
	return new(big.Int)
}

func (b *mockBank) snapshot() (map[bankKey]*big.Int, map[allowKey]*big.Int) {
	bal := make(map[bankKey]*big.Int, len(b.balances))
	for k, v := range b.balances {
		bal[k] = new(big.Int).Set(v)
	}
	allow := make(map[allowKey]*big.Int, len(b.allowances))
	for k, v := range b.allowances {
		allow[k] = new(big.Int).Set(v)
	}
	return bal, allow
}

func (b *mockBank) Balance(account common.Address, a *asset.Asset) asset.Amount {
	return asset.NewAmount(a, b.get(bankKey{account, a.ID()}))
}

func (b *mockBank) Transfer(from, to common.Address, amt asset.Amount) error {
	fk := bankKey{from, amt.Asset().ID()}
	if b.get(fk).Cmp(amt.Raw()) < 0 {
		return apperror.New(apperror.CodeInsufficientBalance, apperror.WithContext(from.Hex()))
	}
	b.balances[fk] = new(big.Int).Sub(b.get(fk), amt.Raw())
	tk := bankKey{to, amt.Asset().ID()}
	b.balances[tk] = new(big.Int).Add(b.get(tk), amt.Raw())
	return nil
}

func (b *mockBank) Approve(owner, spender common.Address, amt asset.Amount) error {
	b.allowances[allowKey{owner, spender, amt.Asset().ID()}] = amt.Raw()
	return nil
}

func (b *mockBank) Allowance(owner, spender common.Address, a *asset.Asset) asset.Amount {
	if v, ok := b.allowances[allowKey{owner, spender, a.ID()}]; ok {
		return asset.NewAmount(a, v)
	}
	return asset.Zero(a)
}

func (b *mockBank) TransferFrom(spender, from, to common.Address, amt asset.Amount) error {
	k := allowKey{from, spender, amt.Asset().ID()}
	cur, ok := b.allowances[k]
	if !ok || cur.Cmp(amt.Raw()) < 0 {
		return apperror.New(apperror.CodeInsufficientAllowance, apperror.WithContext(spender.Hex()))
	}
	if err := b.Transfer(from, to, amt); err != nil {
		return err
	}
	b.allowances[k] = new(big.Int).Sub(cur, amt.Raw())
	return nil
}

// -----------------------------------------------------------------------------
// Lender
// -----------------------------------------------------------------------------

type mockLender struct {
	bank     *mockBank
	borrower common.Address
	calls    int
}

var _ LoanSource = (*mockLender)(nil)

func (l *mockLender) Borrow(ctx context.Context, pool domain.PoolHandle, amount asset.Amount, fn BracketFunc) error {
	l.calls++
	l.bank.mu.Lock()
	defer l.bank.mu.Unlock()

	bal, allow := l.bank.snapshot()
	restore := func() {
		l.bank.balances, l.bank.allowances = bal, allow
	}

	loan := domain.Loan{
		Pool:      pool,
		Principal: amount,
		Fee:       asset.NewAmount(amount.Asset(), domain.FlashFee(amount.Raw(), pool.Identity.Fee)),
	}
	if err := l.bank.Transfer(pool.Address, l.borrower, amount); err != nil {
		restore()
		return apperror.New(apperror.CodeLoanFailed, apperror.WithCause(err))
	}
	if err := fn(ctx, l.bank, loan); err != nil {
		restore()
		return err
	}
	owed, err := domain.AmountOwed(loan.Principal, loan.Fee)
	if err != nil {
		restore()
		return err
	}
	if err := l.bank.Transfer(l.borrower, pool.Address, owed); err != nil {
		restore()
		return apperror.New(apperror.CodeLoanNotRepaid, apperror.WithCause(err))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Resolver
// -----------------------------------------------------------------------------

type mockResolver struct {
	pools map[string]common.Address
	calls int
}

var _ PoolResolver = (*mockResolver)(nil)

func (r *mockResolver) Resolve(ctx context.Context, id domain.PoolIdentity) (domain.PoolHandle, error) {
	r.calls++
	addr, ok := r.pools[id.Key()]
	if !ok {
		return domain.PoolHandle{}, apperror.New(apperror.CodePoolNotFound, apperror.WithContext(id.String()))
	}
	return domain.PoolHandle{Identity: id, Address: addr}, nil
}

// -----------------------------------------------------------------------------
// Venue: pays a scripted amount per leg
// -----------------------------------------------------------------------------

type legResult struct {
	out *big.Int
	err error
}

type scriptedVenue struct {
	router common.Address
	script map[domain.LegName]legResult
	legs   []domain.SwapLeg
}

var _ Venue = (*scriptedVenue)(nil)

func (v *scriptedVenue) Router() common.Address { return v.router }

func (v *scriptedVenue) Swap(ctx context.Context, ws Workspace, trader common.Address, leg domain.SwapLeg) (asset.Amount, error) {
	v.legs = append(v.legs, leg)

	res, ok := v.script[leg.Name]
	if !ok {
		return asset.Amount{}, fmt.Errorf("no script for %s leg", leg.Name)
	}
	if res.err != nil {
		return asset.Amount{}, res.err
	}

	if err := ws.TransferFrom(v.router, trader, v.router, leg.AmountIn); err != nil {
		return asset.Amount{}, err
	}
	out := asset.NewAmount(leg.AssetOut(), res.out)
	if err := ws.Transfer(v.router, trader, out); err != nil {
		return asset.Amount{}, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Event log
// -----------------------------------------------------------------------------

type mockEventLog struct {
	mu      sync.Mutex
	records []domain.StepRecord
	failOn  domain.StepName
}

var _ EventLog = (*mockEventLog)(nil)

func (m *mockEventLog) Append(ctx context.Context, rec domain.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && rec.Step == m.failOn {
		return fmt.Errorf("disk full")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockEventLog) ByTrade(ctx context.Context, id domain.TradeID) ([]domain.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StepRecord
	for _, r := range m.records {
		if r.TradeID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockEventLog) OpenAttempts(ctx context.Context) ([]domain.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := make(map[string]domain.StepRecord)
	for _, r := range m.records {
		last[r.AttemptID] = r
	}
	var out []domain.StepRecord
	for _, r := range last {
		if !r.Step.Terminal() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptID < out[j].AttemptID })
	return out, nil
}

func (m *mockEventLog) steps() []domain.StepName {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StepName, len(m.records))
	for i, r := range m.records {
		out[i] = r.Step
	}
	return out
}

func (m *mockEventLog) last() domain.StepRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[len(m.records)-1]
}

// -----------------------------------------------------------------------------
// Reserve
// -----------------------------------------------------------------------------

type mockReserve struct {
	bank   *mockBank
	engine common.Address
}

var _ Reserve = (*mockReserve)(nil)

func (r *mockReserve) Balance(ctx context.Context, a *asset.Asset) asset.Amount {
	return r.bank.Balance(r.engine, a)
}

func (r *mockReserve) Deposit(ctx context.Context, from common.Address, amt asset.Amount) error {
	return r.bank.Transfer(from, r.engine, amt)
}

func (r *mockReserve) Withdraw(ctx context.Context, to common.Address, amt asset.Amount) error {
	if err := r.bank.Transfer(r.engine, to, amt); err != nil {
		return apperror.New(apperror.CodeInsufficientReserve, apperror.WithCause(err))
	}
	return nil
}
