package synth

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/foresight/internal/similarity"
	"github.com/kalambet/foresight/internal/storage"
)

const (
	patternSolutionAccuracy = 0.7
	optimizationAccuracy    = 0.6
	lowPatternAccuracy      = 0.6
	lowCascadeProbability   = 0.5
	confidentSolution       = 0.7
	maxOptimizations        = 3
)

// Clock returns the current time.
type Clock func() time.Time

// Synthesizer builds responses. It holds no state beyond its clock.
type Synthesizer struct {
	now Clock
}

func New() *Synthesizer {
	return NewWithClock(func() time.Time { return time.Now().UTC() })
}

func NewWithClock(now Clock) *Synthesizer {
	return &Synthesizer{now: now}
}

// Synthesize composes one response. patterns must already be ranked best
// first; cached is nil on a cache miss.
func (s *Synthesizer) Synthesize(in Input, patterns []similarity.Match, cached *storage.CacheEntry, cascades []storage.CascadeEffect, delta float64) Response {
	direct := directSolution(in, patterns, cached)
	return Response{
		DirectSolution:     direct,
		FutureImplications: futureImplications(cascades),
		RiskMatrix:         assessRisks(cascades, patterns),
		OptimizationPath:   optimizations(patterns),
		PatternInsights:    patternInsights(patterns),
		IntelligenceMetrics: IntelligenceMetrics{
			Delta:           math.Round(delta*1000) / 1000,
			PatternsMatched: len(patterns),
			CacheHit:        cached != nil,
			PredictionDepth: len(cascades),
			Timestamp:       s.now(),
		},
		BrutalHonesty: honestAssessment(in, direct, patterns),
	}
}

func directSolution(in Input, patterns []similarity.Match, cached *storage.CacheEntry) DirectSolution {
	if cached != nil {
		return DirectSolution{
			Approach:    "cached_optimal",
			Solution:    cached.Solution,
			Source:      SourceCache,
			Confidence:  CacheConfidence,
			Performance: cached.PerformanceMetrics,
		}
	}

	if len(patterns) > 0 && patterns[0].Pattern.PredictionAccuracy > patternSolutionAccuracy {
		best := patterns[0].Pattern
		solution := best.LearnedOptimization
		if solution == "" {
			solution = "Apply proven pattern"
		}
		return DirectSolution{
			Approach:    "pattern_based",
			Solution:    solution,
			Source:      SourcePattern,
			Confidence:  best.PredictionAccuracy,
			PatternID:   best.ID,
			PatternType: best.Type,
		}
	}

	return DirectSolution{
		Approach:   "analytical",
		Solution:   Analyze(in),
		Source:     SourceAnalysis,
		Confidence: AnalysisConfidence,
		Note:       "No cached solution or high-confidence pattern found. Building new solution.",
	}
}

type signal struct {
	name     string
	keywords []string
	rec      Recommendation
}

// signals are checked in order; each contributes at most one recommendation.
var signals = []signal{
	{"performance", []string{"slow", "optimize", "performance", "speed"}, Recommendation{
		Area:           "performance",
		Action:         "Profile code, identify bottlenecks, implement caching",
		ExpectedImpact: "O(1) cache access vs O(n) repeated computation",
	}},
	{"scale", []string{"scale", "growth", "load", "traffic"}, Recommendation{
		Area:           "scalability",
		Action:         "Implement horizontal scaling, load balancing, async processing",
		ExpectedImpact: "10x capacity increase",
	}},
	{"database", []string{"database", "query", "sql", "index"}, Recommendation{
		Area:           "database",
		Action:         "Add indexes, optimize queries, consider read replicas",
		ExpectedImpact: "3-10x query performance",
	}},
	{"architecture", []string{"architecture", "design", "structure"}, Recommendation{
		Area:           "architecture",
		Action:         "Draw component boundaries first, keep interfaces narrow, evolve incrementally",
		ExpectedImpact: "Lower cost of future change",
	}},
}

// Analyze is the keyword analysis used when neither the cache nor a
// pattern can answer.
func Analyze(in Input) Analysis {
	text := strings.ToLower(in.Context)
	a := Analysis{Signals: make(map[string]bool, len(signals)), Recommendations: []Recommendation{}}
	for _, sig := range signals {
		hit := containsAny(text, sig.keywords)
		a.Signals["has_"+sig.name] = hit
		if hit {
			a.Recommendations = append(a.Recommendations, sig.rec)
		}
	}
	if len(a.Recommendations) > 0 {
		a.ImmediateAction = a.Recommendations[0]
	} else {
		a.ImmediateAction = Recommendation{Action: "Provide more context for better analysis"}
	}
	return a
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func futureImplications(cascades []storage.CascadeEffect) FutureImplications {
	if len(cascades) == 0 {
		return FutureImplications{Prediction: "No cascade data available"}
	}

	byLevel := make(map[int][]storage.CascadeEffect)
	for _, c := range cascades {
		byLevel[c.Level] = append(byLevel[c.Level], c)
	}
	levels := sortedLevels(byLevel)

	f := FutureImplications{
		CascadeDepth:      len(levels),
		OverallConfidence: cascades[0].Probability,
	}
	for _, level := range levels {
		effects := byLevel[level]
		entry := TimelineEntry{
			Level:       level,
			Timeframe:   fmt.Sprintf("Level %d", level),
			Probability: meanProbability(effects),
		}
		for _, e := range effects {
			entry.Effects = append(entry.Effects, e.Effect)
		}
		f.Timeline = append(f.Timeline, entry)
	}
	if len(levels) > 2 {
		f.Warning = "Decisions have cascading effects. Consider long-term implications."
	}
	return f
}

func assessRisks(cascades []storage.CascadeEffect, patterns []similarity.Match) RiskMatrix {
	risks := []Risk{}

	byLevel := make(map[int][]storage.CascadeEffect)
	for _, c := range cascades {
		byLevel[c.Level] = append(byLevel[c.Level], c)
	}
	for _, level := range sortedLevels(byLevel) {
		p := meanProbability(byLevel[level])
		if p < lowCascadeProbability {
			risks = append(risks, Risk{
				Type:        "cascade_uncertainty",
				Level:       level,
				Description: fmt.Sprintf("Low confidence (%.2f) in prediction", p),
				Severity:    "medium",
			})
		}
	}

	low := 0
	for _, m := range patterns {
		if m.Pattern.PredictionAccuracy < lowPatternAccuracy {
			low++
		}
	}
	if low > 0 {
		risks = append(risks, Risk{
			Type:           "pattern_uncertainty",
			Description:    fmt.Sprintf("%d patterns have low prediction accuracy", low),
			Severity:       "low",
			Recommendation: "Validate assumptions manually",
		})
	}

	score := 0.1
	if len(risks) > 0 {
		score = math.Min(0.2*float64(len(risks)), 1.0)
	}
	m := RiskMatrix{
		RiskScore:       score,
		RiskLevel:       RiskLevel(score),
		IdentifiedRisks: risks,
		Mitigation:      "Proceed with confidence",
	}
	if len(risks) > 0 {
		m.Mitigation = "Test incrementally, monitor metrics, prepare rollback plan"
	}
	return m
}

// RiskLevel buckets a risk score: high above 0.7, medium above 0.4.
func RiskLevel(score float64) string {
	switch {
	case score > 0.7:
		return "high"
	case score > 0.4:
		return "medium"
	default:
		return "low"
	}
}

func optimizations(patterns []similarity.Match) []Optimization {
	var out []Optimization
	for _, m := range patterns[:min(len(patterns), maxOptimizations)] {
		p := m.Pattern
		if p.LearnedOptimization == "" || p.PredictionAccuracy <= optimizationAccuracy {
			continue
		}
		out = append(out, Optimization{
			Rank:         len(out) + 1,
			Source:       "pattern:" + p.Type,
			PatternID:    p.ID,
			Optimization: p.LearnedOptimization,
			Confidence:   p.PredictionAccuracy,
			ImpactScore:  p.FutureImpactScore,
		})
	}
	if len(out) == 0 {
		out = append(out, Optimization{
			Rank:         1,
			Source:       "general",
			Optimization: "Start simple, measure, optimize bottlenecks iteratively",
			Confidence:   1,
			Note:         "No specific learned patterns yet. System will improve with more interactions.",
		})
	}
	return out
}

func patternInsights(patterns []similarity.Match) PatternInsights {
	if len(patterns) == 0 {
		return PatternInsights{Insight: "No historical patterns found. This is a new problem space."}
	}
	top := patterns[0]
	wisdom := top.Pattern.LearnedOptimization
	if wisdom == "" {
		wisdom = "No optimization recorded"
	}
	return PatternInsights{
		PrimaryPattern:        top.Pattern.Type,
		PatternID:             top.Pattern.ID,
		SimilarityScore:       math.Round(top.Score*1000) / 1000,
		HistoricalOccurrences: top.Pattern.Occurrences,
		PredictionAccuracy:    math.Round(top.Pattern.PredictionAccuracy*1000) / 1000,
		LearnedWisdom:         wisdom,
		TotalPatternsFound:    len(patterns),
	}
}

func honestAssessment(in Input, direct DirectSolution, patterns []similarity.Match) BrutalHonesty {
	notes := []Assessment{}
	if direct.Confidence < confidentSolution {
		notes = append(notes, Assessment{
			Category:   "Solution Confidence",
			Assessment: fmt.Sprintf("Current solution confidence is %.0f%%. Not optimal.", direct.Confidence*100),
			Action:     "Provide more context or consider alternative approaches.",
		})
	}
	if len(patterns) < 2 {
		notes = append(notes, Assessment{
			Category:   "Historical Data",
			Assessment: "Limited historical patterns available.",
			Action:     "System will learn from this interaction. Future queries will be more accurate.",
		})
	}
	if in.Complexity != "" {
		notes = append(notes, Assessment{
			Category:   "Complexity",
			Assessment: "Specified complexity: " + in.Complexity,
			Action:     "Verify this is optimal. Can you achieve better with different data structures?",
		})
	}

	h := BrutalHonesty{Assessments: notes, BottomLine: "High confidence in solution based on proven patterns."}
	if len(notes) > 0 {
		h.BottomLine = "Solution is viable but may not be optimal. Iterate based on real-world metrics."
	}
	return h
}

// LearnableOptimization is the optimization text worth recording against
// this interaction's pattern: the best pattern-sourced suggestion, else the
// immediate action of a keyword analysis. Empty when there is nothing
// specific to learn.
func (r Response) LearnableOptimization() string {
	for _, o := range r.OptimizationPath {
		if o.PatternID != "" {
			return o.Optimization
		}
	}
	if a, ok := r.DirectSolution.Solution.(Analysis); ok && len(a.Recommendations) > 0 {
		return a.ImmediateAction.Action
	}
	return ""
}

func sortedLevels(byLevel map[int][]storage.CascadeEffect) []int {
	levels := make([]int, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels
}

func meanProbability(effects []storage.CascadeEffect) float64 {
	if len(effects) == 0 {
		return 0
	}
	var sum float64
	for _, e := range effects {
		sum += e.Probability
	}
	return sum / float64(len(effects))
}
