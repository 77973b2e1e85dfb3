package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"pricedash/internal/handlers"
	"pricedash/internal/models"
	"pricedash/internal/valuation"
)

func commands(out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&pricesCmd{out: out},
		&statusCmd{out: out},
		&valueCmd{out: out},
	}
}

type pricesCmd struct {
	out    io.Writer
	addr   string
	symbol string
}

func (*pricesCmd) Name() string     { return "prices" }
func (*pricesCmd) Synopsis() string { return "print the current price snapshot" }
func (*pricesCmd) Usage() string {
	return `dashctl prices [-addr <url>] [-symbol <SYMBOL>]

  Prints the last price, 24h change, high, low and volume of every tracked
  symbol, in the order the service first saw them. Unknown values print as "-".
`
}

func (p *pricesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.addr, "addr", addrFromEnv(), "Base URL of the pricedash service.")
	f.StringVar(&p.symbol, "symbol", "", "Print a single symbol, e.g. BTCUSDT.")
}

func (p *pricesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	c := newClient(p.addr)

	var ticks []models.PriceTick
	if p.symbol != "" {
		var t models.PriceTick
		if err := c.get(ctx, "/api/prices/"+strings.ToUpper(p.symbol), &t); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		ticks = append(ticks, t)
	} else {
		var resp handlers.PricesResponse
		if err := c.get(ctx, "/api/prices", &resp); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		if resp.Status != models.StatusConnected {
			fmt.Fprintf(p.out, "connection %s: prices may be stale\n", resp.Status)
		}
		ticks = resp.Prices
	}

	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "SYMBOL\tLAST\t24H %\tHIGH\tLOW\tVOLUME\t")
	for _, t := range ticks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			t.Symbol,
			cell(t.LastPrice),
			fixed2(t.PriceChangePercent),
			cell(t.High24h),
			cell(t.Low24h),
			cell(t.Volume24h),
		)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type statusCmd struct {
	out  io.Writer
	addr string
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "print the tick channel connection status" }
func (*statusCmd) Usage() string {
	return `dashctl status [-addr <url>]

  Prints connecting, connected, disconnected or error. Exits non-zero unless connected.
`
}

func (s *statusCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.addr, "addr", addrFromEnv(), "Base URL of the pricedash service.")
}

func (s *statusCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var resp struct {
		Status models.ConnectionStatus `json:"status"`
	}
	if err := newClient(s.addr).get(ctx, "/api/status", &resp); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := models.ValidateStatus(resp.Status); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	fmt.Fprintln(s.out, resp.Status)
	if resp.Status != models.StatusConnected {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type valueCmd struct {
	out      io.Writer
	addr     string
	file     string
	currency string
}

func (*valueCmd) Name() string     { return "value" }
func (*valueCmd) Synopsis() string { return "value wallet positions against live prices" }
func (*valueCmd) Usage() string {
	return `dashctl value -file <positions.json> [-currency <CODE>] [-addr <url>]

  Reads positions from a JSON file, either a list of {"symbol","amount"} objects
  or {"positions": [...]}, and prints each position's value and allocation, the
  total, the blended 24h change and the best and worst performers. Use -file -
  to read standard input.
`
}

func (v *valueCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&v.addr, "addr", addrFromEnv(), "Base URL of the pricedash service.")
	f.StringVar(&v.file, "file", "", "Positions file, or - for standard input.")
	f.StringVar(&v.currency, "currency", "", "Display currency: the quote, USD, a fiat code such as EUR, or an asset such as BTC.")
}

func (v *valueCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if v.file == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		return subcommands.ExitUsageError
	}

	positions, err := readPositions(v.file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	var result valuation.Valuation
	body := map[string]any{"positions": positions, "currency": v.currency}
	if err := newClient(v.addr).post(ctx, "/api/valuation", body, &result); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	printValuation(v.out, result)
	return subcommands.ExitSuccess
}

// readPositions accepts a bare list or a wallet summary object.
func readPositions(file string) ([]models.WalletPosition, error) {
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("[")) {
		var positions []models.WalletPosition
		if err := json.Unmarshal(data, &positions); err != nil {
			return nil, fmt.Errorf("decode %s: %w", file, err)
		}
		return positions, nil
	}

	var summary models.WalletSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	return summary.Positions, nil
}

func printValuation(out io.Writer, v valuation.Valuation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "ASSET\tAMOUNT\tPRICE\tVALUE\tALLOC %\t24H %\t")
	for _, p := range v.Positions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			p.Symbol,
			p.Amount.String(),
			cell(p.Price),
			cell(p.Value),
			percentCell(p.Allocation),
			fixed2(p.Change24hPercent),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\ntotal (%s): %s\n", v.Quote, cell(v.Total))
	fmt.Fprintf(out, "24h change: %s (%s%%)\n", cell(v.Change24h), fixed2(v.Change24hPercent))
	if v.Best != nil {
		fmt.Fprintf(out, "best:  %s %s%%\n", v.Best.Symbol, v.Best.Percent.StringFixed(2))
	}
	if v.Worst != nil {
		fmt.Fprintf(out, "worst: %s %s%%\n", v.Worst.Symbol, v.Worst.Percent.StringFixed(2))
	}
	if v.Display != nil {
		fmt.Fprintf(out, "display: %s\n", v.Display.Formatted)
	}
}

func cell(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return valuation.FormatAmount(d.Decimal)
}

func fixed2(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}

// percentCell renders a 0..1 share as a percentage.
func percentCell(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.Shift(2).StringFixed(2)
}
