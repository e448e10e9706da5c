package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/app"
	tradingDI "github.com/hasanhalabi/arbitrage-smart-contract/business/trading/di"
	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading/domain"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apperror"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/asset"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/config"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/monolith"
)

type commands struct {
	cfg      *config.Config
	mono     monolith.Monolith
	registry *asset.Registry
	out      io.Writer
}

func (c *commands) run(ctx context.Context, opts options) error {
	svc := tradingDI.GetTradeService(c.mono.Services())

	caller := c.cfg.Trading.InitiatorAddressHex()
	if opts.caller != "" {
		if !common.IsHexAddress(opts.caller) {
			return fmt.Errorf("invalid -caller %q", opts.caller)
		}
		caller = common.HexToAddress(opts.caller)
	}

	if opts.deposit != "" {
		amt, err := asset.ParseString(svc.Base(), opts.deposit)
		if err != nil {
			return fmt.Errorf("-deposit: %w", err)
		}
		if err := svc.Deposit(ctx, caller, amt); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "deposited %s\n", amt)
	}

	var dtos []app.RequestDTO
	if opts.request != "" {
		data, err := os.ReadFile(opts.request)
		if err != nil {
			return fmt.Errorf("-request: %w", err)
		}
		dto, err := app.DecodeRequest(data)
		if err != nil {
			return err
		}
		dtos = append(dtos, dto)
	}
	if opts.requests != "" {
		more, err := readRequests(opts.requests)
		if err != nil {
			return err
		}
		dtos = append(dtos, more...)
	}
	if len(dtos) > 0 {
		c.submit(ctx, svc, caller, dtos)
	}

	if opts.withdraw != "" {
		amt, err := asset.ParseString(svc.Base(), opts.withdraw)
		if err != nil {
			return fmt.Errorf("-withdraw: %w", err)
		}
		if err := svc.Withdraw(ctx, caller, amt); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "withdrew %s\n", amt)
	}

	if opts.balance {
		fmt.Fprintf(c.out, "reserve balance: %s\n", svc.Balance(ctx))
	}

	if opts.records != "" {
		id, err := domain.ParseTradeID(opts.records)
		if err != nil {
			return err
		}
		recs, err := svc.Records(ctx, id)
		if err != nil {
			return err
		}
		c.printRecords(recs)
	}

	if opts.pools {
		c.printPools(ctx)
	}
	return nil
}

// readRequests parses one JSON request per non-empty line.
func readRequests(path string) ([]app.RequestDTO, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("-requests: %w", err)
	}
	defer f.Close()

	var out []app.RequestDTO
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		dto, err := app.DecodeRequest([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, dto)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("-requests: %w", err)
	}
	return out, nil
}

// submit runs every request in order. A failed attempt does not stop the
// batch; each outcome gets its own row.
func (c *commands) submit(ctx context.Context, svc *app.TradeService, caller common.Address, dtos []app.RequestDTO) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Trade", "Attempt", "State", "Proceeds", "Owed", "Profit", "Error")

	for _, dto := range dtos {
		req, err := dto.ToRequest(c.registry, svc.Base())
		if err != nil {
			table.Append(fmt.Sprint(dto.TradeID), "", "invalid", "", "", "", describe(err))
			continue
		}

		res, err := svc.Submit(ctx, caller, req)
		if res == nil {
			table.Append(req.TradeID.String(), "", "refused", "", "", "", describe(err))
			continue
		}
		table.Append(
			res.TradeID.String(),
			res.AttemptID,
			res.State.String(),
			orBlank(res.FinalProceeds),
			orBlank(res.AmountOwed),
			orBlank(res.NetProfit),
			describe(err),
		)
	}
	table.Render()
}

func (c *commands) printRecords(recs []domain.StepRecord) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Attempt", "Seq", "Step", "At", "Payload")
	for _, rec := range recs {
		dto := app.NewRecordDTO(rec)
		table.Append(dto.AttemptID, fmt.Sprint(dto.Seq), dto.Step, dto.At, formatPayload(dto.Payload))
	}
	table.Render()
}

func (c *commands) printPools(ctx context.Context) {
	exchanges := tradingDI.GetExchanges(c.mono.Services())
	if len(exchanges) == 0 {
		fmt.Fprintln(c.out, "no paper pools in quoted mode")
		return
	}

	l := tradingDI.GetLedger(c.mono.Services())
	table := tablewriter.NewWriter(c.out)
	table.Header("Venue", "Pool", "Address", "Reserve0", "Reserve1", "Price")
	for _, ex := range exchanges {
		for _, p := range ex.Pools() {
			price := ""
			if sp, err := ex.SpotPrice(ctx, p.Handle.Identity); err == nil {
				price = sp.String()
			}
			table.Append(
				ex.Name(),
				p.Handle.Identity.String(),
				p.Handle.Address.Hex(),
				l.Balance(p.Handle.Address, p.Token0).String(),
				l.Balance(p.Handle.Address, p.Token1).String(),
				price,
			)
		}
	}
	table.Render()
}

func orBlank(a asset.Amount) string {
	if a.Asset() == nil {
		return ""
	}
	return a.String()
}

// describe renders an error as code plus reason when it carries them.
func describe(err error) string {
	if err == nil {
		return ""
	}
	if !apperror.IsAppError(err) {
		return err.Error()
	}
	s := string(apperror.GetCode(err))
	if reason := apperror.GetDetail(err, domain.DetailReason); reason != "" {
		s += " (" + reason + ")"
	}
	return s
}

func formatPayload(p map[string]string) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + p[k]
	}
	return strings.Join(parts, " ")
}
