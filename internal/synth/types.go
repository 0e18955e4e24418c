// Package synth composes matched patterns, cached solutions and cascade
// predictions into a single structured recommendation.
package synth

import (
	"encoding/json"
	"time"
)

// Input is one interaction submitted for processing.
type Input struct {
	Context          string           `json:"context" validate:"required"`
	Decision         string           `json:"decision,omitempty"`
	Complexity       string           `json:"complexity,omitempty"`
	ExpectedOutcomes []map[string]any `json:"expected_outcomes,omitempty"`
	RelatedDecisions []string         `json:"related_decisions,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

// Direct solution sources, in precedence order.
const (
	SourceCache    = "cache"
	SourcePattern  = "pattern"
	SourceAnalysis = "analysis"
)

const (
	CacheConfidence    = 0.95
	AnalysisConfidence = 0.6
)

// Response is the synthesized recommendation for one interaction.
type Response struct {
	DirectSolution      DirectSolution      `json:"direct_solution"`
	FutureImplications  FutureImplications  `json:"future_implications"`
	RiskMatrix          RiskMatrix          `json:"risk_matrix"`
	OptimizationPath    []Optimization      `json:"optimization_path"`
	PatternInsights     PatternInsights     `json:"pattern_insights"`
	IntelligenceMetrics IntelligenceMetrics `json:"intelligence_metrics"`
	BrutalHonesty       BrutalHonesty       `json:"brutal_honesty"`
}

type DirectSolution struct {
	Approach    string         `json:"approach"`
	Solution    any            `json:"solution"`
	Source      string         `json:"source"`
	Confidence  float64        `json:"confidence"`
	PatternID   string         `json:"pattern_id,omitempty"`
	PatternType string         `json:"pattern_type,omitempty"`
	Performance map[string]any `json:"performance,omitempty"`
	Note        string         `json:"note,omitempty"`
}

// Map renders the solution as a generic JSON object, the form in which it
// is cached.
func (d DirectSolution) Map() map[string]any {
	b, err := json.Marshal(d)
	if err != nil {
		return map[string]any{"approach": d.Approach, "source": d.Source, "confidence": d.Confidence}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"approach": d.Approach, "source": d.Source, "confidence": d.Confidence}
	}
	return m
}

// Analysis is the keyword-driven fallback solution.
type Analysis struct {
	Signals         map[string]bool  `json:"analysis"`
	Recommendations []Recommendation `json:"recommendations"`
	ImmediateAction Recommendation   `json:"immediate_action"`
}

type Recommendation struct {
	Area           string `json:"area,omitempty"`
	Action         string `json:"action"`
	ExpectedImpact string `json:"expected_impact,omitempty"`
}

type FutureImplications struct {
	Prediction        string          `json:"prediction,omitempty"`
	CascadeDepth      int             `json:"cascade_depth"`
	Timeline          []TimelineEntry `json:"timeline,omitempty"`
	OverallConfidence float64         `json:"overall_confidence"`
	Warning           string          `json:"warning,omitempty"`
}

type TimelineEntry struct {
	Level       int      `json:"level"`
	Timeframe   string   `json:"timeframe"`
	Effects     []string `json:"effects"`
	Probability float64  `json:"probability"`
}

type RiskMatrix struct {
	RiskScore       float64 `json:"risk_score"`
	RiskLevel       string  `json:"risk_level"`
	IdentifiedRisks []Risk  `json:"identified_risks"`
	Mitigation      string  `json:"mitigation"`
}

type Risk struct {
	Type           string `json:"type"`
	Level          int    `json:"level,omitempty"`
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation,omitempty"`
}

type Optimization struct {
	Rank         int     `json:"rank"`
	Source       string  `json:"source"`
	PatternID    string  `json:"pattern_id,omitempty"`
	Optimization string  `json:"optimization"`
	Confidence   float64 `json:"confidence"`
	ImpactScore  float64 `json:"impact_score"`
	Note         string  `json:"note,omitempty"`
}

type PatternInsights struct {
	Insight               string  `json:"insight,omitempty"`
	PrimaryPattern        string  `json:"primary_pattern,omitempty"`
	PatternID             string  `json:"pattern_id,omitempty"`
	SimilarityScore       float64 `json:"similarity_score,omitempty"`
	HistoricalOccurrences int     `json:"historical_occurrences,omitempty"`
	PredictionAccuracy    float64 `json:"prediction_accuracy,omitempty"`
	LearnedWisdom         string  `json:"learned_wisdom,omitempty"`
	TotalPatternsFound    int     `json:"total_patterns_found"`
}

type IntelligenceMetrics struct {
	Delta           float64   `json:"delta"`
	PatternsMatched int       `json:"patterns_matched"`
	CacheHit        bool      `json:"cache_hit"`
	PredictionDepth int       `json:"prediction_depth"`
	Timestamp       time.Time `json:"timestamp"`
}

type BrutalHonesty struct {
	Assessments []Assessment `json:"assessments"`
	BottomLine  string       `json:"bottom_line"`
}

type Assessment struct {
	Category   string `json:"category"`
	Assessment string `json:"assessment"`
	Action     string `json:"action"`
}
