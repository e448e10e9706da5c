package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
)

var _ SwapExecutor = (*SwapRouter)(nil)

// SwapRouter dispatches legs to the venue registered under the leg's router
// address and enforces the leg deadline.
type SwapRouter struct {
	mu     sync.RWMutex
	venues map[common.Address]Venue
	now    func() time.Time
}

// NewSwapRouter creates a router over the given venues.
func NewSwapRouter(venues ...Venue) *SwapRouter {
	r := &SwapRouter{
		venues: make(map[common.Address]Venue),
		now:    time.Now,
	}
	for _, v := range venues {
		r.Register(v)
	}
	return r
}

// Register adds or replaces a venue.
func (r *SwapRouter) Register(v Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[v.Router()] = v
}

// Venues returns the registered router addresses.
func (r *SwapRouter) Venues() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.venues))
	for addr := range r.venues {
		out = append(out, addr)
	}
	return out
}

// Swap runs leg on its venue under the leg deadline.
func (r *SwapRouter) Swap(ctx context.Context, ws Workspace, trader common.Address, leg domain.SwapLeg) (asset.Amount, error) {
	r.mu.RLock()
	v, ok := r.venues[leg.Venue]
	r.mu.RUnlock()

	if !ok {
		return asset.Amount{}, apperror.New(apperror.CodeUnknownVenue,
			apperror.WithContext(leg.Venue.Hex()),
			apperror.WithDetail(domain.DetailReason, domain.ReasonUnknownVenue))
	}

	if !leg.Deadline.IsZero() {
		if !r.now().Before(leg.Deadline) {
			return asset.Amount{}, deadlineExceeded(leg)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, leg.Deadline)
		defer cancel()
	}

	out, err := v.Swap(ctx, ws, trader, leg)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return asset.Amount{}, deadlineExceeded(leg)
		}
		return asset.Amount{}, err
	}
	return out, nil
}

func deadlineExceeded(leg domain.SwapLeg) error {
	return apperror.New(apperror.CodeDeadlineExceeded,
		apperror.WithContext(fmt.Sprintf("%s leg deadline %s", leg.Name, leg.Deadline.Format(time.RFC3339Nano))),
		apperror.WithDetail(domain.DetailReason, domain.ReasonDeadline))
}
