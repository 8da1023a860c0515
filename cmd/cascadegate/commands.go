package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/cascadegate/pkg/cascade"
	"github.com/zen-systems/cascadegate/pkg/config"
	"github.com/zen-systems/cascadegate/pkg/metrics"
	"github.com/zen-systems/cascadegate/pkg/router"
	"github.com/zen-systems/cascadegate/pkg/schema"
	"github.com/zen-systems/cascadegate/pkg/server"
	"github.com/zen-systems/cascadegate/pkg/toolcall"
)

func askCmd() *cobra.Command {
	var streamFlag bool
	var toolsFile string
	var domainFlag string
	var complexityFlag string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Answer a prompt through the draft/verifier cascade",
		Long: `Sends the prompt to the draft model and returns its answer when it passes
	the alignment gate, escalating to the verifier otherwise.

	Use --tools with a YAML or JSON file of tool schemas to run the tool-calling
	cascade: proposed calls are validated and risk-routed before being returned.
	Use --stream to print cascade events as they happen.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			q := &schema.Query{Prompt: args[0], DomainHint: domainFlag, ComplexityHint: complexityFlag}
			if toolsFile != "" {
				tools, err := loadTools(toolsFile)
				if err != nil {
					return err
				}
				q.Tools = tools
			}

			ctx, cancel := signalContext()
			defer cancel()

			if streamFlag {
				return streamQuery(ctx, a.cascade, q, cmd.OutOrStdout())
			}

			out, err := a.cascade.Run(ctx, q)
			if out == nil {
				return err
			}
			if jsonFlag {
				if encErr := writeJSON(cmd.OutOrStdout(), out); encErr != nil {
					return encErr
				}
				return err
			}
			printOutcome(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.Flags().BoolVar(&streamFlag, "stream", false, "print cascade events as they are emitted")
	cmd.Flags().StringVar(&toolsFile, "tools", "", "YAML or JSON file with tool schemas")
	cmd.Flags().StringVar(&domainFlag, "domain", "", "domain hint (overrides classification)")
	cmd.Flags().StringVar(&complexityFlag, "complexity", "", "complexity hint (trivial, simple, moderate, complex, expert)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full outcome as JSON")

	return cmd
}

// streamQuery prints events as they arrive and fails if the stream ends in ERROR.
func streamQuery(ctx context.Context, c *cascade.Cascade, q *schema.Query, w io.Writer) error {
	var (
		events <-chan cascade.Event
		err    error
	)
	if q.HasTools() {
		events, err = cascade.NewToolStreamManager(c).Stream(ctx, q)
	} else {
		events, err = cascade.NewTextStreamManager(c).Stream(ctx, q)
	}
	if err != nil {
		return err
	}

	var failure string
	for ev := range events {
		switch ev.Type {
		case cascade.EventChunk:
			fmt.Fprint(w, ev.Content)
		case cascade.EventDraftStart:
			fmt.Fprintf(os.Stderr, "[turn %d] %s attempt %d on %s\n", ev.Turn, ev.Role, ev.Attempt, ev.Model)
		case cascade.EventDraftDecision:
			d := ev.Decision
			fmt.Fprintf(os.Stderr, "\n[turn %d] %s (score %.2f/%.2f) %s\n", ev.Turn, d.Action, d.Score, d.Threshold, strings.Join(d.Reasons, "; "))
		case cascade.EventSwitch:
			fmt.Fprintf(os.Stderr, "[turn %d] switch %s -> %s: %s\n", ev.Turn, ev.Switch.From, ev.Switch.To, ev.Switch.Reason)
		case cascade.EventToolCallComplete:
			args, _ := json.Marshal(ev.ToolCall.Arguments)
			fmt.Fprintf(w, "\n%s(%s)\n", ev.ToolCall.Name, args)
		case cascade.EventToolResult:
			if ev.ToolResult.Error != "" {
				fmt.Fprintf(w, "  %s error: %s\n", ev.ToolResult.Name, ev.ToolResult.Error)
			} else {
				fmt.Fprintf(w, "  %s -> %s\n", ev.ToolResult.Name, ev.ToolResult.Content)
			}
		case cascade.EventComplete:
			fmt.Fprintln(w)
		case cascade.EventError:
			failure = ev.Error
		}
	}

	if failure != "" {
		return errors.New(failure)
	}
	return ctx.Err()
}

func printOutcome(w io.Writer, out *cascade.Outcome) {
	if len(out.ToolCalls) > 0 {
		for _, call := range out.ToolCalls {
			args, _ := json.Marshal(call.Arguments)
			fmt.Fprintf(w, "%s(%s)\n", call.Name, args)
		}
		for _, res := range out.ToolResults {
			if res.Error != "" {
				fmt.Fprintf(w, "  %s error: %s\n", res.Name, res.Error)
				continue
			}
			fmt.Fprintf(w, "  %s -> %s\n", res.Name, res.Content)
		}
	}
	if out.Content != "" {
		fmt.Fprintln(w, out.Content)
	}

	summary := fmt.Sprintf("%s via %s/%s, %d attempt(s), cost %.6f (saved %.6f)",
		out.Status, out.Adapter, out.Model, out.Attempts, out.Cost, out.Savings)
	if out.Escalated {
		summary += ", escalated: " + out.EscalationReason
	}
	fmt.Fprintln(os.Stderr, summary)
}

func classifyCmd() *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "classify [prompt]",
		Short: "Show the domain and complexity classification of a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			cls := a.cascade.Classifier().Classify(ctx, &schema.Query{Prompt: args[0]})
			if jsonFlag {
				return writeJSON(cmd.OutOrStdout(), cls)
			}
			return printClassification(cmd.OutOrStdout(), cls)
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the classification as JSON")
	return cmd
}

func printClassification(out io.Writer, cls *router.Classification) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DOMAIN\t%s\n", cls.Domain)
	fmt.Fprintf(w, "CONFIDENCE\t%.2f\n", cls.Confidence)
	fmt.Fprintf(w, "COMPLEXITY\t%s\n", cls.Complexity)
	fmt.Fprintf(w, "PATH\t%s\n", cls.Path)
	if cls.SemanticStrategy != "" {
		fmt.Fprintf(w, "SEMANTIC\t%s\n", cls.SemanticStrategy)
	}
	for _, reason := range cls.Reasons {
		fmt.Fprintf(w, "REASON\t%s\n", reason)
	}
	return w.Flush()
}

func validateCmd() *cobra.Command {
	var toolsFile string
	var callFlag string
	var complexityFlag string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a proposed tool call against tool schemas",
		Long: `Runs the structural, semantic and safety layers over a tool call and
	reports the routing decision the cascade would take for it.

	--call accepts a JSON tool call, e.g.
	  '{"name":"get_weather","arguments":{"location":"Paris"}}'
	or any text containing one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if toolsFile == "" || callFlag == "" {
				return fmt.Errorf("--tools and --call are required")
			}
			tools, err := loadTools(toolsFile)
			if err != nil {
				return err
			}
			calls := toolcall.ExtractToolCalls(callFlag)
			if len(calls) == 0 {
				return fmt.Errorf("no tool call found in --call")
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.cascade.Validator().Validate(calls, tools, complexityFlag)
			if err := printValidation(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("tool call rejected by %s layer", res.FailedLayer())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&toolsFile, "tools", "", "YAML or JSON file with tool schemas (required)")
	cmd.Flags().StringVar(&callFlag, "call", "", "tool call JSON (required)")
	cmd.Flags().StringVar(&complexityFlag, "complexity", "", "complexity tier; strict tiers make semantic warnings blocking")
	return cmd
}

func printValidation(out io.Writer, res *toolcall.ValidationResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LAYER\tVALID\tFINDINGS")
	layers := []struct {
		name string
		lr   toolcall.LayerResult
	}{
		{"structural", res.Structural},
		{"semantic", res.Semantic},
		{"safety", res.Safety},
	}
	for _, l := range layers {
		var findings []string
		for _, e := range l.lr.Errors {
			findings = append(findings, "error: "+e)
		}
		for _, warn := range l.lr.Warnings {
			findings = append(findings, "warning: "+warn)
		}
		fmt.Fprintf(w, "%s\t%t\t%s\n", l.name, l.lr.Valid, strings.Join(findings, "; "))
	}
	return w.Flush()
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool
	var validateFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show the cascade models, adapters, and aliases",
		Long: `Lists the draft and verifier models of the cascade and the providers
	that are ready.

	Use --resolve to show aliases and what they resolve to.
	Use --validate to check all models in cascade.yaml resolve to valid models.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases(cmd.OutOrStdout())
			}

			if validateFlag {
				errs := aliases.ValidateCascadeConfig(cfg.Cascade)
				if len(errs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "All models in cascade.yaml are valid.")
					return nil
				}
				fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
				for _, err := range errs {
					fmt.Fprintf(os.Stderr, "  - %s\n", err)
				}
				return fmt.Errorf("validation failed")
			}

			adapters, err := createAdapters(cfg)
			if err != nil {
				return fmt.Errorf("failed to create adapters: %w", err)
			}
			r := router.NewRouter(adapters, cfg.Cascade, router.WithAliases(aliases))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tADAPTER\tMODEL\tRESOLVED\tUNIT COST\tSTATUS")
			for _, route := range r.GetRoutes() {
				status := "no key"
				if cfg.HasAdapter(route.Adapter) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3f\t%s\n",
					route.Role, route.Adapter, route.Model, route.ResolvedModel, route.UnitCost, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")
	cmd.Flags().BoolVar(&validateFlag, "validate", false, "check all models in cascade.yaml resolve to valid models")

	return cmd
}

func showAliases(out io.Writer) error {
	aliasMap := aliases.ListAliases()
	if len(aliasMap) == 0 {
		fmt.Fprintln(out, "No model aliases configured.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")
	for _, alias := range sortedKeys(aliasMap) {
		model := aliasMap[alias]
		fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, aliases.GetProviderForModel(model))
	}
	return w.Flush()
}

func statsCmd() *cobra.Command {
	var limit int
	var jsonFlag bool
	var tuneFlag bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize archived cascade outcomes",
		Long: `Reads the outcome archive (--archive or archive.path in cascade.yaml) and
	prints accept/escalate rates, cost, and savings against an always-verifier baseline.

	Use --tune to print per-domain thresholds that would move each domain's
	escalation rate toward thresholds.target_escalation_rate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := openArchive(cfg.Cascade)
			if err != nil {
				return fmt.Errorf("failed to open archive: %w", err)
			}
			if store == nil {
				return fmt.Errorf("no archive configured; set --archive or archive.path")
			}
			defer store.Close()

			ctx, cancel := signalContext()
			defer cancel()

			sum, err := store.Summary(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			if err := printSummary(cmd.OutOrStdout(), sum); err != nil {
				return err
			}
			if tuneFlag {
				all, err := store.List(ctx, 0)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout())
				if err := printSuggestions(cmd.OutOrStdout(), cfg.Cascade, all); err != nil {
					return err
				}
			}
			if limit <= 0 {
				return nil
			}

			recs, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return printRecords(cmd.OutOrStdout(), recs)
		},
	}

	cmd.Flags().IntVar(&limit, "recent", 10, "number of recent outcomes to list (0 disables)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the summary as JSON")
	cmd.Flags().BoolVar(&tuneFlag, "tune", false, "suggest per-domain thresholds from the archived escalation rates")
	return cmd
}

// printSuggestions replays archived records through a tuner and prints the
// thresholds it would use for each domain with enough history.
func printSuggestions(out io.Writer, cfg *config.CascadeConfig, recs []metrics.Record) error {
	tracker := metrics.NewTracker()
	for _, rec := range recs {
		tracker.Record(context.Background(), rec)
	}
	base := func(domain string) float64 {
		if d, ok := cfg.Domains[domain]; ok && d.Threshold > 0 {
			return d.Threshold
		}
		return cfg.Thresholds.Default
	}
	suggestions := metrics.NewTuner(tracker, cfg.Thresholds.TargetEscalationRate).Suggestions(base)
	if len(suggestions) == 0 {
		fmt.Fprintln(out, "Not enough history to suggest thresholds.")
		return nil
	}

	domains := make([]string, 0, len(suggestions))
	for d := range suggestions {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tCURRENT\tSUGGESTED")
	for _, d := range domains {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\n", d, base(d), suggestions[d])
	}
	return w.Flush()
}

func printSummary(out io.Writer, sum metrics.Summary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TOTAL\t%d\n", sum.Total)
	fmt.Fprintf(w, "ACCEPT RATE\t%.1f%%\n", sum.AcceptRate*100)
	fmt.Fprintf(w, "ESCALATE RATE\t%.1f%%\n", sum.EscalateRate*100)
	fmt.Fprintf(w, "DRAFT RATE\t%.1f%%\n", sum.DraftRate*100)
	fmt.Fprintf(w, "FAILURE RATE\t%.1f%%\n", sum.FailureRate*100)
	fmt.Fprintf(w, "COST\t%.6f\n", sum.TotalCost)
	fmt.Fprintf(w, "BASELINE\t%.6f\n", sum.BaselineCost)
	fmt.Fprintf(w, "SAVINGS\t%.6f (%.1f%%)\n", sum.Savings, sum.SavingsRate*100)
	if err := w.Flush(); err != nil {
		return err
	}
	if len(sum.Domains) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tCOUNT\tESCALATE RATE\tAVG SCORE\tCOST")
	for _, d := range sum.Domains {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.2f\t%.6f\n", d.Domain, d.Count, d.EscalateRate*100, d.AvgScore, d.Cost)
	}
	return w.Flush()
}

func printRecords(out io.Writer, recs []metrics.Record) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDOMAIN\tSTATUS\tFINAL\tATTEMPTS\tCOST")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.6f\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.Domain, r.Status, r.FinalModel, r.Attempts, r.Cost)
	}
	return w.Flush()
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cascade over HTTP",
		Long: `Starts an HTTP server with:
	  POST /v1/cascade         run a query, returns the outcome
	  POST /v1/cascade/stream  run a query, streams events as SSE
	  POST /v1/classify        classify a query
	  POST /v1/validate        validate tool calls
	  GET  /v1/metrics         running totals
	  GET  /v1/outcomes        recent outcomes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []server.Option{server.WithLogger(logger), server.WithAddress(addr)}
			if a.archive != nil {
				opts = append(opts, server.WithArchive(a.archive))
			}
			srv, err := server.New(a.cascade, opts...)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

// loadTools reads tool schemas from YAML or JSON.
func loadTools(path string) ([]schema.ToolSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools: %w", err)
	}

	var wrapped struct {
		Tools []schema.ToolSchema `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Tools) > 0 {
		return wrapped.Tools, nil
	}

	var tools []schema.ToolSchema
	if err := yaml.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("parse tools %s: %w", path, err)
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("no tools declared in %s", path)
	}
	return tools, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
