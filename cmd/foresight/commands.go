package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/foresight/internal/config"
	"github.com/kalambet/foresight/internal/pipeline"
	"github.com/kalambet/foresight/internal/synth"
)

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process [context...]",
	Short: "Run a problem through the engine",
	Long: `Run a problem through the engine and print the synthesized response.

Examples:
  foresight process "slow database queries under load" --decision "add indexes"
  foresight process --file ./incident.pdf --depth 3
  foresight process --local "optimize cache hit rate"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := processInput(cmd, args)
		if err != nil {
			return err
		}
		opts := processFlags(cmd)
		raw, _ := cmd.Flags().GetBool("json")
		local, _ := cmd.Flags().GetBool("local")

		var resp synth.Response
		if local {
			resp, err = processLocal(cmd.Context(), in, opts)
		} else {
			resp, err = processRemote(cmd.Context(), in, opts)
		}
		if err != nil {
			return err
		}
		if raw {
			return printJSON(resp)
		}
		printResponse(resp)
		return nil
	},
}

// processOptions holds the flags that map onto /process query parameters.
// Nil means use the server default.
type processOptions struct {
	PredictFuture *bool
	CascadeDepth  *int
	Threshold     *float64
}

func init() {
	f := processCmd.Flags()
	f.String("decision", "", "decision under consideration")
	f.String("complexity", "", "claimed complexity")
	f.String("file", "", "read the context from a text or PDF file")
	f.Bool("local", false, "run the pipeline in-process against the configured store")
	f.Bool("no-predict", false, "skip cascade prediction")
	f.Int("depth", 0, "cascade depth (default from config)")
	f.Float64("threshold", -1, "similarity threshold (default from config)")
	f.Bool("json", false, "print the raw JSON response")
}

func processInput(cmd *cobra.Command, args []string) (synth.Input, error) {
	file, _ := cmd.Flags().GetString("file")
	decision, _ := cmd.Flags().GetString("decision")
	complexity, _ := cmd.Flags().GetString("complexity")

	text := strings.TrimSpace(strings.Join(args, " "))
	if file != "" {
		if text != "" {
			return synth.Input{}, fmt.Errorf("pass the context as arguments or --file, not both")
		}
		var err error
		if text, err = readContextFile(file); err != nil {
			return synth.Input{}, err
		}
	}
	if text == "" {
		return synth.Input{}, fmt.Errorf("context is required: pass it as arguments or with --file")
	}

	in := synth.Input{Context: text, Decision: decision, Complexity: complexity}
	if file != "" {
		in.Metadata = map[string]any{"source_file": file}
	}
	return in, nil
}

func processFlags(cmd *cobra.Command) processOptions {
	var opts processOptions
	f := cmd.Flags()
	if f.Changed("no-predict") {
		noPredict, _ := f.GetBool("no-predict")
		predict := !noPredict
		opts.PredictFuture = &predict
	}
	if f.Changed("depth") {
		depth, _ := f.GetInt("depth")
		opts.CascadeDepth = &depth
	}
	if f.Changed("threshold") {
		th, _ := f.GetFloat64("threshold")
		opts.Threshold = &th
	}
	return opts
}

// query renders the options as /process query parameters.
func (o processOptions) query() string {
	q := url.Values{}
	if o.PredictFuture != nil {
		q.Set("predict_future", strconv.FormatBool(*o.PredictFuture))
	}
	if o.CascadeDepth != nil {
		q.Set("cascade_depth", strconv.Itoa(*o.CascadeDepth))
	}
	if o.Threshold != nil {
		q.Set("similarity_threshold", strconv.FormatFloat(*o.Threshold, 'f', -1, 64))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// apply overlays the options on engine defaults.
func (o processOptions) apply(opts pipeline.Options) pipeline.Options {
	if o.PredictFuture != nil {
		opts.PredictFuture = *o.PredictFuture
	}
	if o.CascadeDepth != nil {
		opts.CascadeDepth = *o.CascadeDepth
	}
	if o.Threshold != nil {
		opts.SimilarityThreshold = *o.Threshold
	}
	return opts
}

func processRemote(ctx context.Context, in synth.Input, opts processOptions) (synth.Response, error) {
	client, err := newAPIClient()
	if err != nil {
		return synth.Response{}, err
	}
	return client.process(ctx, in, opts)
}

func (c *apiClient) process(ctx context.Context, in synth.Input, opts processOptions) (synth.Response, error) {
	resp, err := c.post(ctx, "/process"+opts.query(), in)
	if err != nil {
		return synth.Response{}, err
	}
	var out synth.Response
	if err := decodeJSON(resp, &out); err != nil {
		return synth.Response{}, err
	}
	return out, nil
}

func processLocal(ctx context.Context, in synth.Input, opts processOptions) (synth.Response, error) {
	cfg, err := config.Load()
	if err != nil {
		return synth.Response{}, err
	}
	setupLogging(cfg.Log.Level)

	store, err := openStore(cfg)
	if err != nil {
		return synth.Response{}, err
	}
	defer store.Close()

	engine := pipeline.New(store, engineConfig(cfg))
	return engine.Process(ctx, in, opts.apply(engine.DefaultOptions()))
}

func printResponse(r synth.Response) {
	d := r.DirectSolution
	printStatus("Approach", "%s", d.Approach)
	printStatus("Source", "%s (confidence %.2f)", d.Source, d.Confidence)
	if d.PatternType != "" {
		printStatus("Pattern", "%s %s", d.PatternType, shortID(d.PatternID))
	}

	if fi := r.FutureImplications; fi.CascadeDepth > 0 {
		printStatus("Future", "%d levels, overall confidence %.2f", fi.CascadeDepth, fi.OverallConfidence)
		for _, t := range fi.Timeline {
			fmt.Printf("    L%d %-12s p=%.2f  %s\n", t.Level, t.Timeframe, t.Probability, strings.Join(t.Effects, "; "))
		}
	}

	printStatus("Risk", "%s (%.2f)", r.RiskMatrix.RiskLevel, r.RiskMatrix.RiskScore)
	for _, o := range r.OptimizationPath {
		fmt.Printf("    %d. %s [%s]\n", o.Rank, o.Optimization, o.Source)
	}

	m := r.IntelligenceMetrics
	printStatus("Intelligence", "delta %.3f, %d patterns, cache hit %t", m.Delta, m.PatternsMatched, m.CacheHit)
	for _, a := range r.BrutalHonesty.Assessments {
		printWarning("%s: %s", a.Category, a.Assessment)
	}
	fmt.Println(colorize(colorBold, r.BrutalHonesty.BottomLine))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// --- patterns ---

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Search and inspect learned patterns",
}

var patternsSearchCmd = &cobra.Command{
	Use:   "search <text...>",
	Short: "Find patterns similar to some text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/patterns/search", map[string]any{
			"context":              map[string]any{"query": strings.Join(args, " ")},
			"similarity_threshold": threshold,
			"limit":                limit,
		})
		if err != nil {
			return err
		}
		var result struct {
			Patterns []struct {
				Pattern struct {
					ID          string  `json:"pattern_id"`
					Type        string  `json:"pattern_type"`
					Occurrences int     `json:"occurrences"`
					Accuracy    float64 `json:"prediction_accuracy"`
				} `json:"pattern"`
				Score float64 `json:"similarity_score"`
			} `json:"patterns"`
			TotalFound int `json:"total_found"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Patterns) == 0 {
			fmt.Println("No similar patterns found.")
			return nil
		}
		for _, m := range result.Patterns {
			fmt.Printf("%s  %-14s sim=%.3f  seen=%d  acc=%.2f\n",
				colorize(colorCyan, shortID(m.Pattern.ID)), m.Pattern.Type, m.Score, m.Pattern.Occurrences, m.Pattern.Accuracy)
		}
		fmt.Printf("%d of %d shown\n", len(result.Patterns), result.TotalFound)
		return nil
	},
}

var patternsTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List the most accurate patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		minAcc, _ := cmd.Flags().GetFloat64("min-accuracy")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/patterns/top?limit=%d&min_accuracy=%s", limit, strconv.FormatFloat(minAcc, 'f', -1, 64)))
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

var patternsOutcomeCmd = &cobra.Command{
	Use:   "outcome <pattern-id> <success|failure>",
	Short: "Report whether a pattern's prediction held",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		success, err := parseOutcome(args[1])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/patterns/"+url.PathEscape(args[0])+"/outcome", map[string]any{"success": success})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Outcome queued (job %s)", result["job_id"])
		return nil
	},
}

func parseOutcome(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "success", "ok", "true", "yes":
		return true, nil
	case "failure", "fail", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("outcome must be success or failure, got %q", s)
}

func init() {
	patternsSearchCmd.Flags().Float64("threshold", 0.7, "minimum similarity")
	patternsSearchCmd.Flags().Int("limit", 10, "maximum number of results")
	patternsTopCmd.Flags().Int("limit", 10, "maximum number of results")
	patternsTopCmd.Flags().Float64("min-accuracy", 0.5, "minimum prediction accuracy")
	patternsCmd.AddCommand(patternsSearchCmd, patternsTopCmd, patternsOutcomeCmd)
}

// --- decisions ---

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Analyze decisions and their cascades",
}

var decisionsAnalyzeCmd = &cobra.Command{
	Use:   "analyze <decision...>",
	Short: "Predict cascades for a decision and record it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		impact, _ := cmd.Flags().GetString("impact")
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		depth, _ := cmd.Flags().GetInt("depth")

		body := map[string]any{
			"decision":         strings.Join(args, " "),
			"confidence_score": confidence,
			"cascade_depth":    depth,
		}
		if impact != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(impact), &m); err != nil {
				m = map[string]any{"effect": impact}
			}
			body["immediate_impact"] = m
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/decisions/analyze", body)
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

var decisionsCascadesCmd = &cobra.Command{
	Use:   "cascades <decision...>",
	Short: "Predict cascades for a decision without recording it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")
		path := "/decisions/cascades/" + url.PathEscape(strings.Join(args, " "))
		if depth > 0 {
			path += "?depth=" + strconv.Itoa(depth)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var result struct {
			Cascades []struct {
				Level                int     `json:"level"`
				Effect               string  `json:"effect"`
				Probability          float64 `json:"probability"`
				CumulativeConfidence float64 `json:"cumulative_confidence"`
			} `json:"cascades"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Cascades) == 0 {
			fmt.Println("No similar past decisions to predict from.")
			return nil
		}
		for _, c := range result.Cascades {
			fmt.Printf("L%d  p=%.3f  cum=%.3f  %s\n", c.Level, c.Probability, c.CumulativeConfidence, c.Effect)
		}
		return nil
	},
}

func init() {
	decisionsAnalyzeCmd.Flags().String("impact", "", "immediate impact as JSON or plain text")
	decisionsAnalyzeCmd.Flags().Float64("confidence", 0.5, "confidence in the decision")
	decisionsAnalyzeCmd.Flags().Int("depth", 0, "cascade depth (default from config)")
	decisionsCascadesCmd.Flags().Int("depth", 0, "cascade depth (default from config)")
	decisionsCmd.AddCommand(decisionsAnalyzeCmd, decisionsCascadesCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/memory/history?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var result struct {
			History []struct {
				ID                string  `json:"id"`
				CreatedAt         string  `json:"created_at"`
				Context           string  `json:"context"`
				IntelligenceDelta float64 `json:"intelligence_delta"`
			} `json:"history"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.History) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}
		for _, ix := range result.History {
			fmt.Printf("%s  %s  Δ%.3f  %s\n",
				colorize(colorCyan, shortID(ix.ID)), ix.CreatedAt, ix.IntelligenceDelta, truncate(ix.Context, 80))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of interactions")
	historyCmd.Flags().Int("offset", 0, "number of interactions to skip")
}

// --- errors ---

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Record errors and look up known solutions",
}

var errorsLogCmd = &cobra.Command{
	Use:   "log <error-context-json>",
	Short: "Record an error occurrence, optionally with its solution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		errCtx, err := parseJSONObject("error context", args[0])
		if err != nil {
			return err
		}
		body := map[string]any{"error_context": errCtx}
		if s, _ := cmd.Flags().GetString("solution"); s != "" {
			sol, err := parseJSONObject("solution", s)
			if err != nil {
				return err
			}
			body["solution"] = sol
		}
		if cmd.Flags().Changed("resolution-seconds") {
			secs, _ := cmd.Flags().GetInt("resolution-seconds")
			body["resolution_time_seconds"] = secs
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/errors/log", body)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Logged error %s", shortID(result["error_id"]))
		return nil
	},
}

var errorsSolutionCmd = &cobra.Command{
	Use:   "solution <error-context-json>",
	Short: "Look up the known solution for an error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		errCtx, err := parseJSONObject("error context", args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/errors/solution", errCtx)
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if found, _ := result["found"].(bool); !found {
			fmt.Println("No known solution for this error.")
			return nil
		}
		return printJSON(result["solution"])
	},
}

func parseJSONObject(what, s string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object: %w", what, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%s must not be empty", what)
	}
	return m, nil
}

func init() {
	errorsLogCmd.Flags().String("solution", "", "solution as a JSON object")
	errorsLogCmd.Flags().Int("resolution-seconds", 0, "time it took to resolve the error")
	errorsCmd.AddCommand(errorsLogCmd, errorsSolutionCmd)
}

// --- analytics ---

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show what the engine has learned",
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/analytics/intelligence?hours=%d", hours))
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

var analyticsEffectivenessCmd = &cobra.Command{
	Use:   "effectiveness",
	Short: "Show per-type pattern effectiveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/analytics/patterns/effectiveness?limit=%d", limit))
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	analyticsCmd.Flags().Int("hours", 24, "time window in hours")
	analyticsEffectivenessCmd.Flags().Int("limit", 20, "maximum number of pattern types")
	analyticsCmd.AddCommand(analyticsEffectivenessCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		fmt.Printf("  %s = %s\n", colorize(colorBold, "api.token"), authLabel(cfg.API.Token))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the API bearer token in the secrets file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetAPIToken(strings.TrimSpace(args[0])); err != nil {
			return err
		}
		printSuccess("API token stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configSetTokenCmd)
}
