package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input. Nothing is processed.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks out-of-range parameters such as depth or threshold.
	ErrConfiguration = errors.New("configuration error")
	// ErrPipeline marks a failure inside a pipeline stage.
	ErrPipeline = errors.New("pipeline failure")
)

// Pipeline stages, in execution order.
const (
	StageIngest   = "ingest"
	StageStore    = "store_interaction"
	StageMatch    = "match_patterns"
	StageCache    = "cache_lookup"
	StagePredict  = "predict_cascades"
	StageSynth    = "synthesize"
	StageLearn    = "learn"
	StageAnalysis = "analytics"
)

// PipelineError reports the stage that failed and the original cause.
// errors.Is matches both ErrPipeline and anything in the cause chain.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func (e *PipelineError) Is(target error) bool { return target == ErrPipeline }

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func configErr(err error) error {
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}
