package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FORESIGHT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "FORESIGHT_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.rate_limit", typ: kFloat, env: "FORESIGHT_SERVER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "server.rate_burst", typ: kInt, env: "FORESIGHT_SERVER_RATE_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateBurst },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FORESIGHT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.pool_min", typ: kInt, env: "FORESIGHT_STORAGE_POOL_MIN",
		apply:   func(cfg *Config, v any) { cfg.Storage.PoolMin = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.PoolMin },
	},
	{
		key: "storage.pool_max", typ: kInt, env: "FORESIGHT_STORAGE_POOL_MAX",
		apply:   func(cfg *Config, v any) { cfg.Storage.PoolMax = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.PoolMax },
	},
	{
		key: "storage.op_timeout", typ: kString, env: "FORESIGHT_STORAGE_OP_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Storage.OpTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.OpTimeout },
	},
	{
		key: "log.level", typ: kString, env: "FORESIGHT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "engine.similarity_threshold", typ: kFloat, env: "FORESIGHT_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Engine.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.SimilarityThreshold },
	},
	{
		key: "engine.default_cascade_depth", typ: kInt, env: "FORESIGHT_DEFAULT_CASCADE_DEPTH",
		apply:   func(cfg *Config, v any) { cfg.Engine.DefaultCascadeDepth = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.DefaultCascadeDepth },
	},
	{
		key: "engine.max_cascade_depth", typ: kInt, env: "FORESIGHT_MAX_CASCADE_DEPTH",
		apply:   func(cfg *Config, v any) { cfg.Engine.MaxCascadeDepth = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.MaxCascadeDepth },
	},
	{
		key: "engine.context_window", typ: kInt, env: "FORESIGHT_CONTEXT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Engine.ContextWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.ContextWindow },
	},
	{
		key: "engine.default_decay", typ: kFloat, env: "FORESIGHT_DEFAULT_DECAY",
		apply:   func(cfg *Config, v any) { cfg.Engine.DefaultDecay = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.DefaultDecay },
	},
	{
		key: "engine.learning_rate", typ: kFloat, env: "FORESIGHT_LEARNING_RATE",
		apply:   func(cfg *Config, v any) { cfg.Engine.LearningRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.LearningRate },
	},
	{
		key: "engine.pattern_candidates", typ: kInt, env: "FORESIGHT_PATTERN_CANDIDATES",
		apply:   func(cfg *Config, v any) { cfg.Engine.PatternCandidates = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.PatternCandidates },
	},
	{
		key: "feedback.poll_interval", typ: kString, env: "FORESIGHT_FEEDBACK_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Feedback.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Feedback.PollInterval },
	},
	{
		key: "api.token", typ: kString, env: "FORESIGHT_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
