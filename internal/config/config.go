package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Engine   EngineConfig
	Feedback FeedbackConfig
	API      APIConfig
}

type ServerConfig struct {
	Port int
	// MaxConns bounds concurrently accepted HTTP connections.
	MaxConns int
	// RateLimit is the sustained /process rate per second; RateBurst its burst.
	RateLimit float64
	RateBurst int
}

type StorageConfig struct {
	DataDir   string
	PoolMin   int
	PoolMax   int
	OpTimeout string
}

type LogConfig struct {
	Level string
}

type EngineConfig struct {
	SimilarityThreshold float64
	DefaultCascadeDepth int
	MaxCascadeDepth     int
	ContextWindow       int
	DefaultDecay        float64
	LearningRate        float64
	PatternCandidates   int
}

type FeedbackConfig struct {
	PollInterval string
}

type APIConfig struct {
	// Token, when set, is required as a bearer token on every API route
	// except /health.
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4100,
			MaxConns:  256,
			RateLimit: 50,
			RateBurst: 100,
		},
		Storage: StorageConfig{
			DataDir:   defaultDataDir(),
			PoolMin:   5,
			PoolMax:   20,
			OpTimeout: "10s",
		},
		Log: LogConfig{Level: "info"},
		Engine: EngineConfig{
			SimilarityThreshold: 0.6,
			DefaultCascadeDepth: 5,
			MaxCascadeDepth:     10,
			ContextWindow:       50,
			DefaultDecay:        0.8,
			LearningRate:        0.1,
			PatternCandidates:   5000,
		},
		Feedback: FeedbackConfig{PollInterval: "1s"},
	}
}

// Load reads configuration from the JSON file backend, environment
// variables and the secrets file.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/foresight/config.json.
// Environment variables (FORESIGHT_*) override backend values. The API
// token is read from FORESIGHT_API_TOKEN, falling back to the secrets file.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

// secretReader abstracts secret lookup for testing.
type secretReader interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.Token == "" {
		if tok, err := secrets.Get("foresight", "api_token"); err == nil && tok != "" {
			cfg.API.Token = strings.TrimSpace(tok)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.PoolMax <= 0 || c.Storage.PoolMin < 0 || c.Storage.PoolMin > c.Storage.PoolMax {
		problems = append(problems, fmt.Sprintf("storage pool bounds %d..%d invalid", c.Storage.PoolMin, c.Storage.PoolMax))
	}
	if _, err := time.ParseDuration(c.Storage.OpTimeout); err != nil {
		problems = append(problems, fmt.Sprintf("storage.op_timeout: %v", err))
	}
	if _, err := time.ParseDuration(c.Feedback.PollInterval); err != nil {
		problems = append(problems, fmt.Sprintf("feedback.poll_interval: %v", err))
	}
	e := c.Engine
	if e.SimilarityThreshold < 0 || e.SimilarityThreshold > 1 {
		problems = append(problems, "engine.similarity_threshold must be within [0,1]")
	}
	if e.MaxCascadeDepth < 1 || e.MaxCascadeDepth > 10 {
		problems = append(problems, "engine.max_cascade_depth must be within [1,10]")
	}
	if e.DefaultCascadeDepth < 1 || e.DefaultCascadeDepth > e.MaxCascadeDepth {
		problems = append(problems, "engine.default_cascade_depth must be within [1,max_cascade_depth]")
	}
	if e.ContextWindow <= 0 {
		problems = append(problems, "engine.context_window must be positive")
	}
	if e.DefaultDecay <= 0 || e.DefaultDecay > 1 {
		problems = append(problems, "engine.default_decay must be within (0,1]")
	}
	if e.LearningRate <= 0 || e.LearningRate > 1 {
		problems = append(problems, "engine.learning_rate must be within (0,1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// OpTimeoutDuration is the parsed storage operation timeout.
func (c StorageConfig) OpTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.OpTimeout)
	return d
}

// PollIntervalDuration is the parsed feedback worker poll interval.
func (c FeedbackConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}
