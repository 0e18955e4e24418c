package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/kalambet/foresight/internal/pipeline"
	"github.com/kalambet/foresight/internal/synth"
)

const maxRequestBodySize = 1 << 20 // 1MB

var validate = validator.New()

// Deps holds what the HTTP surface needs.
type Deps struct {
	Engine *pipeline.Engine
	// Token enables bearer auth on every route except /health and /metrics.
	Token string
	// ProcessLimiter throttles POST /process; nil disables throttling.
	ProcessLimiter *rate.Limiter
}

// NewProcessLimiter builds the /process limiter from a per-second rate and
// burst. A non-positive rate disables limiting.
func NewProcessLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.With(RateLimit(deps.ProcessLimiter)).Post("/process", handleProcess(deps))

		r.Post("/patterns/search", handleSearchPatterns(deps))
		r.Get("/patterns/top", handleTopPatterns(deps))
		r.Post("/patterns/{id}/outcome", handlePatternOutcome(deps))

		r.Post("/decisions/analyze", handleAnalyzeDecision(deps))
		r.Get("/decisions/cascades/{decision}", handleDecisionCascades(deps))

		r.Get("/memory/history", handleHistory(deps))
		r.Get("/memory/intelligence-score", handleIntelligenceScore(deps))
		r.Get("/memory/recent", handleRecent(deps))

		r.Post("/errors/log", handleLogError(deps))
		r.Post("/errors/solution", handleErrorSolution(deps))

		r.Get("/analytics/intelligence", handleIntelligenceAnalytics(deps))
		r.Get("/analytics/patterns/effectiveness", handlePatternEffectiveness(deps))
	})

	return r
}

// decodeBody reads a JSON body into v and validates its struct tags.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "validation_error", "invalid request body: %v", err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		httpError(w, http.StatusBadRequest, "validation_error", "%v", err)
		return false
	}
	return true
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := deps.Engine.Health(r.Context())
		code := http.StatusOK
		if h.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	}
}

// processOptions overlays query parameters on the engine defaults. Values
// are passed through unclamped so the engine can reject them.
func processOptions(r *http.Request, opts pipeline.Options) (pipeline.Options, error) {
	q := r.URL.Query()
	if s := q.Get("predict_future"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return opts, fmt.Errorf("predict_future: %w", err)
		}
		opts.PredictFuture = v
	}
	if s := q.Get("cascade_depth"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return opts, fmt.Errorf("cascade_depth: %w", err)
		}
		opts.CascadeDepth = v
	}
	if s := q.Get("similarity_threshold"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) {
			return opts, fmt.Errorf("similarity_threshold: invalid value %q", s)
		}
		opts.SimilarityThreshold = v
	}
	return opts, nil
}

func handleProcess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := processOptions(r, deps.Engine.DefaultOptions())
		if err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "%v", err)
			return
		}

		var in synth.Input
		if !decodeBody(w, r, &in) {
			return
		}

		resp, err := deps.Engine.Process(r.Context(), in, opts)
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type searchRequest struct {
	Context             map[string]any `json:"context" validate:"required"`
	SimilarityThreshold *float64       `json:"similarity_threshold" validate:"omitempty,gte=0,lte=1"`
	Limit               int            `json:"limit" validate:"omitempty,min=1,max=50"`
}

func handleSearchPatterns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		threshold := 0.7
		if req.SimilarityThreshold != nil {
			threshold = *req.SimilarityThreshold
		}
		limit := req.Limit
		if limit == 0 {
			limit = 10
		}

		// Fetch everything above threshold so total_found is the full count.
		matches, err := deps.Engine.SearchPatterns(r.Context(), req.Context, threshold, 0)
		if err != nil {
			engineError(w, err)
			return
		}
		total := len(matches)
		if len(matches) > limit {
			matches = matches[:limit]
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"patterns":    matches,
			"total_found": total,
		})
	}
}

func handleTopPatterns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 50)
		minAccuracy, err := parseFloatParam(r, "min_accuracy", 0.5)
		if err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "%v", err)
			return
		}
		patterns, err := deps.Engine.TopPatterns(r.Context(), limit, minAccuracy)
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"patterns": patterns,
			"count":    len(patterns),
		})
	}
}

type outcomeRequest struct {
	Success *bool `json:"success" validate:"required"`
}

func handlePatternOutcome(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req outcomeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		jobID, err := deps.Engine.RecordOutcome(r.Context(), id, *req.Success)
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"pattern_id": id,
			"job_id":     jobID,
			"status":     "queued",
		})
	}
}

type decisionRequest struct {
	Decision        string         `json:"decision" validate:"required"`
	ImmediateImpact map[string]any `json:"immediate_impact"`
	ConfidenceScore *float64       `json:"confidence_score" validate:"omitempty,gte=0,lte=1"`
	CascadeDepth    int            `json:"cascade_depth"`
}

func handleAnalyzeDecision(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		confidence := 0.5
		if req.ConfidenceScore != nil {
			confidence = *req.ConfidenceScore
		}
		depth := req.CascadeDepth
		if depth == 0 {
			depth = deps.Engine.Config().DefaultCascadeDepth
		}

		d, err := deps.Engine.AnalyzeDecision(r.Context(), pipeline.DecisionRequest{
			Decision:        req.Decision,
			ImmediateImpact: req.ImmediateImpact,
			Confidence:      confidence,
			Depth:           depth,
		})
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"decision_id":     d.ID,
			"cascade_effects": d.CascadeEffects,
			"total_levels":    len(d.CascadeEffects),
			"confidence":      d.ConfidenceScore,
		})
	}
}

func handleDecisionCascades(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision, err := url.PathUnescape(chi.URLParam(r, "decision"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "invalid decision: %v", err)
			return
		}
		depth := deps.Engine.Config().DefaultCascadeDepth
		if s := r.URL.Query().Get("depth"); s != "" {
			if depth, err = strconv.Atoi(s); err != nil {
				httpError(w, http.StatusBadRequest, "validation_error", "depth: %v", err)
				return
			}
		}

		effects, err := deps.Engine.PredictCascades(r.Context(), decision, depth)
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"decision": decision,
			"cascades": effects,
			"depth":    len(effects),
		})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		items, err := deps.Engine.History(r.Context(), limit, offset)
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"history": items,
			"count":   len(items),
			"offset":  offset,
		})
	}
}

func handleIntelligenceScore(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := parseIntParam(r, "hours", 1, 168)
		if hours == 0 {
			hours = 1
		}
		score, err := deps.Engine.IntelligenceScore(r.Context(), time.Duration(hours)*time.Hour)
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"intelligence_score": math.Round(score*1000) / 1000,
			"time_period_hours":  hours,
		})
	}
}

func handleRecent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recent := deps.Engine.Recent()
		writeJSON(w, http.StatusOK, map[string]any{
			"recent": recent,
			"count":  len(recent),
		})
	}
}

type errorLogRequest struct {
	ErrorContext          map[string]any `json:"error_context" validate:"required"`
	Solution              map[string]any `json:"solution"`
	ResolutionTimeSeconds *int           `json:"resolution_time_seconds" validate:"omitempty,gte=0"`
}

func handleLogError(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req errorLogRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sig, err := deps.Engine.LogError(r.Context(), req.ErrorContext, req.Solution, req.ResolutionTimeSeconds)
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"error_id": sig,
			"status":   "logged",
		})
	}
}

func handleErrorSolution(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var errCtx map[string]any
		if err := json.NewDecoder(r.Body).Decode(&errCtx); err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "invalid request body: %v", err)
			return
		}
		rec, ok, err := deps.Engine.ErrorSolution(r.Context(), errCtx)
		if err != nil {
			engineError(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{
				"found":   false,
				"message": "No known solution for this error",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"found":    true,
			"solution": rec,
		})
	}
}

func handleIntelligenceAnalytics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := parseIntParam(r, "hours", 24, 720)
		if hours == 0 {
			hours = 24
		}
		sys, err := deps.Engine.SystemIntelligence(r.Context())
		if err != nil {
			engineError(w, err)
			return
		}
		db, err := deps.Engine.IntelligenceMetrics(r.Context(), time.Duration(hours)*time.Hour)
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"system":            sys,
			"database":          db,
			"time_period_hours": hours,
		})
	}
}

func handlePatternEffectiveness(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		if limit == 0 {
			limit = 20
		}
		eff, err := deps.Engine.PatternEffectiveness(r.Context(), limit)
		if err != nil {
			engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"patterns": eff,
			"count":    len(eff),
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseFloatParam(r *http.Request, key string, defaultVal float64) (float64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, fmt.Errorf("%s: invalid value %q", key, s)
	}
	return v, nil
}
