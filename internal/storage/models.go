package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable wraps every failure that originates in the database or the
// connection pool (including operation timeouts while waiting for a
// connection).
var ErrUnavailable = errors.New("store unavailable")

// Interaction is one processed request. Rows are immutable once stored.
type Interaction struct {
	ID                string           `json:"id"`
	CreatedAt         time.Time        `json:"created_at"`
	Context           string           `json:"context"`
	Decision          string           `json:"decision,omitempty"`
	Complexity        string           `json:"complexity,omitempty"`
	ExpectedOutcomes  []map[string]any `json:"expected_outcomes"`
	RelatedDecisions  []string         `json:"related_decisions"`
	Metadata          map[string]any   `json:"metadata"`
	ContextHash       string           `json:"context_hash"`
	IntelligenceDelta float64          `json:"intelligence_delta"`
}

// InteractionFilter narrows ListInteractions. Zero value matches everything.
type InteractionFilter struct {
	ContextHash string
	Since       time.Time
}

// Pattern is a recurring, classified problem signature with accumulated
// statistics. ID is the canonical key of (Type, Signature).
type Pattern struct {
	ID                  string         `json:"pattern_id"`
	Type                string         `json:"pattern_type"`
	Signature           map[string]any `json:"pattern_signature"`
	Occurrences         int            `json:"occurrences"`
	PredictionAccuracy  float64        `json:"prediction_accuracy"`
	FutureImpactScore   float64        `json:"future_impact_score"`
	LearnedOptimization string         `json:"learned_optimization,omitempty"`
	OutcomeCount        int            `json:"outcome_count"`
	FirstSeen           time.Time      `json:"first_seen"`
	LastSeen            time.Time      `json:"last_seen"`
}

// PatternEffectiveness aggregates pattern statistics per pattern type.
type PatternEffectiveness struct {
	PatternType        string    `json:"pattern_type"`
	Patterns           int       `json:"patterns"`
	TotalOccurrences   int       `json:"total_occurrences"`
	AvgAccuracy        float64   `json:"avg_accuracy"`
	AvgFutureImpact    float64   `json:"avg_future_impact"`
	EffectivenessScore float64   `json:"effectiveness_score"`
	LastSeen           time.Time `json:"last_seen"`
}

// Decision is an analyzed decision with its predicted cascade snapshot.
type Decision struct {
	ID              string          `json:"decision_id"`
	Decision        string          `json:"decision"`
	ImmediateImpact map[string]any  `json:"immediate_impact"`
	CascadeEffects  []CascadeEffect `json:"cascade_effects"`
	ConfidenceScore float64         `json:"confidence_score"`
	CreatedAt       time.Time       `json:"created_at"`
}

// CascadeEffect is one predicted consequence of a decision at a causal level.
// Level 1 is the immediate effect.
type CascadeEffect struct {
	DecisionID           string  `json:"decision_id,omitempty"`
	Level                int     `json:"level"`
	Effect               string  `json:"effect"`
	Probability          float64 `json:"probability"`
	CumulativeConfidence float64 `json:"cumulative_confidence"`
}

// CacheEntry is a content-addressed optimal solution.
type CacheEntry struct {
	Key                string         `json:"cache_key"`
	Signature          map[string]any `json:"problem_signature"`
	Solution           map[string]any `json:"optimal_solution"`
	PerformanceMetrics map[string]any `json:"performance_metrics"`
	UsageCount         int            `json:"usage_count"`
	EffectivenessScore float64        `json:"effectiveness_score"`
	CreatedAt          time.Time      `json:"created_at"`
	LastAccessed       time.Time      `json:"last_accessed"`
}

// ErrorRecord is a content-addressed error with an optional known solution.
type ErrorRecord struct {
	Signature             string         `json:"error_signature"`
	Context               map[string]any `json:"error_context"`
	Solution              map[string]any `json:"solution,omitempty"`
	OccurrenceCount       int            `json:"occurrence_count"`
	ResolutionTimeSeconds *int           `json:"resolution_time_seconds,omitempty"`
	FirstOccurred         time.Time      `json:"first_occurred"`
	LastOccurred          time.Time      `json:"last_occurred"`
}

// IntelligenceMetrics summarizes interactions over a time window.
type IntelligenceMetrics struct {
	TotalInteractions int     `json:"total_interactions"`
	AvgIntelligence   float64 `json:"avg_intelligence_gain"`
	MaxIntelligence   float64 `json:"max_intelligence_gain"`
	UniqueContexts    int     `json:"unique_contexts"`
	TotalAccumulated  float64 `json:"total_intelligence_accumulated"`
	WindowSeconds     int64   `json:"window_seconds"`
}

// Health reports backend connectivity and pool usage.
type Health struct {
	Status          string `json:"status"`
	Version         string `json:"version,omitempty"`
	Error           string `json:"error,omitempty"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	MaxOpen         int    `json:"max_open"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
