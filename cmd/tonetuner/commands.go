package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"golang.org/x/term"

	"github.com/kadirpekel/tonetuner/pkg/app"
	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/converter"
	"github.com/kadirpekel/tonetuner/pkg/ratelimit"
)

// appOptions lets tests inject a shared store and clock.
var appOptions []app.Option

// openApp loads the config and wires the components for a one-shot command.
func (cli *CLI) openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if loader != nil {
		loader.Close()
	}

	a, err := app.New(ctx, cfg, appOptions...)
	if err != nil {
		return nil, nil, err
	}
	return a, func() { _ = a.Close(context.WithoutCancel(ctx)) }, nil
}

// owner is the quota owner for CLI commands: the explicit user or the
// installation scope.
func owner(cfg *config.Config, user string) string {
	if user != "" {
		return user
	}
	return cfg.Store.Scope
}

// ConvertCmd rewrites text into a tone.
type ConvertCmd struct {
	Tone string   `arg:"" help:"Target tone (formal, casual, friendly, professional)."`
	Text []string `arg:"" optional:"" help:"Text to rewrite. Read from stdin when omitted."`
	User string   `help:"Quota owner (defaults to store.scope)."`
	JSON bool     `help:"Print the full result as JSON."`
}

func (c *ConvertCmd) Run(cli *CLI) error {
	ctx := context.Background()

	text := strings.Join(c.Text, " ")
	if text == "" {
		var err error
		if text, err = cli.readInput(); err != nil {
			return err
		}
	}

	a, closeApp, err := cli.openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	userID := owner(a.Config, c.User)
	res, err := a.Convert(ctx, converter.Request{UserID: userID, Text: text, Tone: c.Tone})
	if err != nil {
		return describeConvertError(err)
	}

	out := cli.out()
	if c.JSON {
		return writeJSON(out, res)
	}

	fmt.Fprintln(out, res.ConvertedText)
	tokens := fmt.Sprintf("%d tokens", res.Tokens)
	if res.TokensEstimated {
		tokens = "~" + tokens
	}
	fmt.Fprintf(out, "\n(%s, %d words, %dms, %s)\n", res.Tone, res.WordCount, res.ProcessingTimeMs, tokens)

	if st, err := a.Gate.State(ctx, userID); err == nil {
		fmt.Fprintf(out, "%d of %d conversions left today\n", st.Remaining(), st.MaxDailyConversions)
	}
	return nil
}

// readInput reads the text to convert from stdin. An interactive terminal
// gets a prompt and a single line.
func (cli *CLI) readInput() (string, error) {
	in := cli.in()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, "Text: ")
		line, err := bufio.NewReader(f).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	data, err := io.ReadAll(io.LimitReader(in, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// describeConvertError turns a conversion failure into a message for the
// terminal. The error chain is kept.
func describeConvertError(err error) error {
	var convErr *converter.Error
	if !errors.As(err, &convErr) {
		return err
	}
	switch convErr.Kind {
	case converter.KindRateLimited:
		return fmt.Errorf("rate limit reached, try again in %ds: %w", convErr.RetryAfterSeconds, err)
	case converter.KindQuotaExceeded:
		return fmt.Errorf("daily conversion limit reached, resets at midnight UTC: %w", err)
	case converter.KindUpstreamAuth:
		return fmt.Errorf("the provider rejected the API key, check llm.api_key: %w", err)
	default:
		return err
	}
}

// StatusCmd shows the remaining quota of a user.
type StatusCmd struct {
	User string `help:"Quota owner (defaults to store.scope)."`
	JSON bool   `help:"Print as JSON."`
}

func (c *StatusCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, closeApp, err := cli.openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	status, err := a.UserQuota(ctx, owner(a.Config, c.User))
	if err != nil {
		return err
	}

	out := cli.out()
	if c.JSON {
		return writeJSON(out, status)
	}

	fmt.Fprintf(out, "User:        %s\n", status.UserID)
	fmt.Fprintf(out, "Conversions: %d/%d today (%d left)\n",
		status.Gate.DailyConversionCount, status.Gate.MaxDailyConversions, status.Gate.Remaining())
	if a.Limiter == nil {
		fmt.Fprintln(out, "Rate limit:  disabled")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nLIMIT\tWINDOW\tUSED\tLIMIT\tLEFT")
	printWindows(tw, "requests", status.Requests)
	printWindows(tw, "tokens", status.Tokens)
	return tw.Flush()
}

func printWindows(w io.Writer, name string, status ratelimit.Status) {
	for _, window := range ratelimit.Windows {
		ws, ok := status[window]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", name, window, ws.Current, ws.Limit, ws.Remaining)
	}
}

// StatsCmd shows token usage and cost.
type StatsCmd struct {
	Days  int  `help:"Days to include in the chart." default:"14"`
	Chart bool `help:"Plot daily cost as an ASCII chart."`
	JSON  bool `help:"Print as JSON."`
}

func (c *StatsCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, closeApp, err := cli.openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	status, err := a.Status(ctx)
	if err != nil {
		return err
	}

	out := cli.out()
	if c.JSON {
		return writeJSON(out, status)
	}

	costs := status.Costs
	fmt.Fprintf(out, "Provider:    %s (%s)\n", status.Provider, status.Model)
	fmt.Fprintf(out, "Store:       %s\n", status.Store)
	if costs.Today != nil {
		fmt.Fprintf(out, "Today:       $%.4f (%d tokens, %d requests)\n", costs.Today.TotalCost, costs.Today.TotalTokens, costs.Today.RequestCount)
	} else {
		fmt.Fprintln(out, "Today:       no usage")
	}
	fmt.Fprintf(out, "This month:  $%.4f (%d tokens, %d requests)\n", costs.ThisMonth.TotalCost, costs.ThisMonth.TotalTokens, costs.ThisMonth.RequestCount)
	fmt.Fprintf(out, "All time:    $%.4f (%d tokens, %d requests)\n", costs.TotalCost, costs.TotalTokens, costs.TotalRequests)
	if limits := a.Config.Cost; limits.DailyLimit > 0 || limits.MonthlyLimit > 0 {
		fmt.Fprintf(out, "Limits:      $%.2f/day, $%.2f/month\n", limits.DailyLimit, limits.MonthlyLimit)
	}

	if !c.Chart {
		return nil
	}
	if c.Days < 2 {
		return fmt.Errorf("--days must be at least 2 to plot a chart")
	}
	series, err := a.Cost.Series(ctx, c.Days)
	if err != nil {
		return err
	}
	data := make([]float64, len(series))
	for i, day := range series {
		data[i] = day.TotalCost
	}
	graph := asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Precision(4),
		asciigraph.Caption(fmt.Sprintf("daily cost (USD), %s to %s", series[0].Date, series[len(series)-1].Date)),
	)
	fmt.Fprintf(out, "\n%s\n", graph)
	return nil
}

// HistoryCmd shows recent conversions.
type HistoryCmd struct {
	User  string `help:"Quota owner (defaults to store.scope)."`
	Limit int    `short:"n" help:"Number of entries to show." default:"10"`
	JSON  bool   `help:"Print as JSON."`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, closeApp, err := cli.openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	if a.History == nil {
		return fmt.Errorf("history is disabled (history.enabled: false)")
	}
	entries, err := a.History.List(ctx, owner(a.Config, c.User), c.Limit)
	if err != nil {
		return err
	}

	out := cli.out()
	if c.JSON {
		return writeJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No conversions yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-12s %s\n", e.CreatedAt.Local().Format(time.DateTime), e.Tone, e.ConvertedText)
	}
	return nil
}

// ResetCmd clears counters.
type ResetCmd struct {
	User  string `help:"User whose rate limits, daily count and history are cleared (defaults to store.scope)."`
	Costs bool   `help:"Clear the cost ledger instead."`
}

func (c *ResetCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, closeApp, err := cli.openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	if c.Costs {
		if err := a.ResetCosts(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cli.out(), "Cost ledger cleared.")
		return nil
	}

	userID := owner(a.Config, c.User)
	if err := a.ResetUser(ctx, userID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out(), "Counters cleared for %s.\n", userID)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
