package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/config"
	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/handlers"
	"github.com/jmerrifield20/agentkit/internal/payments"
	"github.com/jmerrifield20/agentkit/internal/routes"
	"github.com/jmerrifield20/agentkit/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	agentURL string
	basePath string
	cfgFile  string
	format   string
	insecure bool
	timeout  time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Agent command-line client",
	Long: `agentctl talks to a running agent: it prints the agent card, lists
entrypoints, and invokes or streams them, paying with a pre-signed X-PAYMENT
header when asked to.

Defaults are read from ~/.agentctl/config.yaml and AGENTCTL_* variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.agentctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("AGENTCTL")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if agentURL == "" {
			agentURL = viper.GetString("agent_url")
		}
		if agentURL == "" {
			agentURL = "http://localhost:8080"
		}
		if !cmd.Flags().Changed("base-path") && viper.IsSet("base_path") {
			basePath = viper.GetString("base_path")
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.agentctl/config.yaml)")
	pf.StringVar(&agentURL, "agent", "", "Agent base URL (default http://localhost:8080)")
	pf.StringVar(&basePath, "base-path", "", "Prefix of the entrypoint routes, e.g. /api/agent")
	pf.StringVar(&format, "format", "text", "Output format: text, json or yaml")
	pf.BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(cardCmd)
	rootCmd.AddCommand(entrypointsCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(networksCmd)
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithBasePath(basePath)}
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if payment != "" {
		opts = append(opts, client.WithPayment(payment))
	}
	return client.New(agentURL, opts...)
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() { cancel(); stop() }
}

// ── card ─────────────────────────────────────────────────────────────────────

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Print the agent card",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		card, err := c.Card(ctx)
		if err != nil {
			return fmt.Errorf("fetch agent card: %w", err)
		}
		if format != "text" {
			return printValue(os.Stdout, format, card)
		}

		fmt.Printf("Name:        %s\n", card.Name)
		fmt.Printf("Version:     %s\n", card.Version)
		fmt.Printf("URL:         %s\n", card.URL)
		if card.Description != "" {
			fmt.Printf("Description: %s\n", card.Description)
		}
		fmt.Printf("Streaming:   %t\n", card.Capabilities.Streaming)
		for _, p := range card.Payments {
			fmt.Printf("Payments:    %s on %s to %s\n", p.Method, p.Network, p.Payee)
		}
		if card.Endorsement != "" {
			fmt.Println("Endorsed:    yes")
		}
		fmt.Printf("\nSkills (%d):\n", len(card.Skills))
		for _, s := range card.Skills {
			fmt.Printf("  %-20s %s\n", s.ID, s.Description)
		}
		return nil
	},
}

// ── entrypoints ──────────────────────────────────────────────────────────────

var entrypointsCmd = &cobra.Command{
	Use:     "entrypoints",
	Aliases: []string{"ls"},
	Short:   "List the agent's entrypoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		items, err := c.Entrypoints(ctx)
		if err != nil {
			return fmt.Errorf("list entrypoints: %w", err)
		}
		if format != "text" {
			return printValue(os.Stdout, format, items)
		}
		return printEntrypoints(os.Stdout, items)
	},
}

func printEntrypoints(out io.Writer, items []client.EntrypointSummary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSTREAM\tINVOKE PRICE\tSTREAM PRICE\tDESCRIPTION")
	for _, it := range items {
		invoke, stream := "-", "-"
		if it.Pricing != nil {
			if it.Pricing.Invoke != "" {
				invoke = it.Pricing.Invoke
			}
			if it.Pricing.Stream != "" {
				stream = it.Pricing.Stream
			}
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", it.Key, it.Streaming, invoke, stream, it.Description)
	}
	return w.Flush()
}

// ── invoke / stream ──────────────────────────────────────────────────────────

var (
	input   string
	payment string
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <key>",
	Short: "Invoke an entrypoint and print its result",
	Long: `invoke POSTs {"input": ...} to the entrypoint's invoke route.

--input accepts JSON; anything that does not parse as JSON is sent as a string:

  agentctl invoke echo --input '{"text":"hello"}'
  agentctl invoke upper --input hello

Paid entrypoints answer 402. Pass a signed payment with --payment to retry.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		res, err := c.Invoke(ctx, args[0], parseInput(input))
		if err != nil {
			return explain(err)
		}
		if format != "text" {
			return printValue(os.Stdout, format, res)
		}
		fmt.Println(string(res.Output))
		printSettlement(os.Stderr, res.Settlement)
		return nil
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream <key>",
	Short: "Stream an entrypoint, printing events as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		// A stream may legitimately outlive --timeout; only Ctrl-C stops it.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		res, err := c.Stream(ctx, args[0], parseInput(input), func(ev client.Event) error {
			fmt.Printf("%-10s %s\n", ev.Kind, ev.Data)
			return nil
		})
		if err != nil {
			return explain(err)
		}
		printSettlement(os.Stderr, res.Settlement)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{invokeCmd, streamCmd} {
		cmd.Flags().StringVarP(&input, "input", "i", "", "Entrypoint input (JSON or a plain string)")
		cmd.Flags().StringVar(&payment, "payment", "", "Base64 X-PAYMENT header sent when the agent asks for payment")
	}
}

// parseInput decodes s as JSON, falling back to the raw string. An empty
// flag sends no input.
func parseInput(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// explain turns a 402 into a readable summary of what the agent accepts.
func explain(err error) error {
	var pr *client.PaymentRequiredError
	if !errors.As(err, &pr) || len(pr.Body.Accepts) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString("payment required; the agent accepts:")
	for _, a := range pr.Body.Accepts {
		fmt.Fprintf(&b, "\n  %s %s atomic units of %s on %s to %s", a.Scheme, a.MaxAmountRequired, a.Asset, a.Network, a.PayTo)
	}
	b.WriteString("\nretry with --payment <X-PAYMENT header>")
	return fmt.Errorf("%s", b.String())
}

func printSettlement(out io.Writer, s *client.Settlement) {
	if s == nil {
		return
	}
	fmt.Fprintf(out, "settled on %s: tx %s (payer %s)\n", s.Network, s.Transaction, s.Payer)
}

// ── networks ─────────────────────────────────────────────────────────────────

var networksFamily string

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List the supported x402 networks and their USDC assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []payments.Network
		for _, n := range payments.Networks() {
			if networksFamily == "" || string(n.Family) == networksFamily {
				list = append(list, n)
			}
		}
		if format != "text" {
			return printValue(os.Stdout, format, list)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCAIP-2\tFAMILY\tTESTNET\tASSET")
		for _, n := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", n.Name, n.CAIP2, n.Family, n.Testnet, n.Asset)
		}
		return w.Flush()
	},
}

func init() {
	networksCmd.Flags().StringVar(&networksFamily, "family", "", "Only list one family: evm or svm")
}

// ── routes ───────────────────────────────────────────────────────────────────

var routesConfig string

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the paid route table an agent.yaml produces",
	Long: `routes loads an agent configuration locally, without contacting any agent,
and prints the x402 route descriptors the daemon would gate:

  agentctl routes --agent-config configs/agent.yaml --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(routesConfig, zap.NewNop())
		if err != nil {
			return err
		}
		defs, err := handlers.Bind(cfg.Entrypoints)
		if err != nil {
			return err
		}
		agent.SetProcessConfig(cfg.AgentConfig())

		table, err := processRoutes(defs)
		if err != nil {
			return err
		}
		if format != "text" {
			return printValue(os.Stdout, format, table)
		}
		return printRoutes(os.Stdout, table)
	},
}

func init() {
	routesCmd.Flags().StringVar(&routesConfig, "agent-config", "", "agent.yaml to load (default ./configs/agent.yaml or ./agent.yaml)")
}

// processRoutes builds the route table of defs under the process
// configuration.
func processRoutes(defs []entrypoint.Def) (*routes.Table, error) {
	pc, ok := agent.ProcessConfig()
	if !ok {
		return nil, fmt.Errorf("no process configuration set")
	}
	if pc.Payments == nil {
		return nil, fmt.Errorf("payments are not configured; no routes are gated")
	}
	return routes.BuildAll(defs, pc.Payments, pc.BasePath)
}

func printRoutes(out io.Writer, t *routes.Table) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROUTE\tPRICE\tNETWORK\tMIME")
	for _, k := range t.Keys() {
		d, _ := t.Get(k)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k, d.Price, d.Network, d.Config.MimeType)
	}
	return w.Flush()
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentctl %s\n", version)
	},
}
