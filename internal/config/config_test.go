package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSecrets struct {
	value string
	err   error
}

func (m mockSecrets) Get(service, account string) (string, error) {
	return m.value, m.err
}

var noSecrets = mockSecrets{err: errors.New("not found")}

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", true, errors.New("not a string")
	}
	return s, true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, isInt := v.(int)
	if !isInt {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (m mapBackend) SetString(key, val string) error  { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = val; return nil }
func (m mapBackend) Delete(key string) error          { delete(m, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, noSecrets)
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Storage.PoolMin)
	assert.Equal(t, 20, cfg.Storage.PoolMax)
	assert.Equal(t, "10s", cfg.Storage.OpTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.InDelta(t, 0.6, cfg.Engine.SimilarityThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Engine.DefaultCascadeDepth)
	assert.Equal(t, 10, cfg.Engine.MaxCascadeDepth)
	assert.Equal(t, 50, cfg.Engine.ContextWindow)
	assert.InDelta(t, 0.8, cfg.Engine.DefaultDecay, 1e-9)
	assert.InDelta(t, 0.1, cfg.Engine.LearningRate, 1e-9)
	assert.Empty(t, cfg.API.Token)
	assert.Equal(t, "1s", cfg.Feedback.PollInterval)
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := mapBackend{
		"server.port":                 9000,
		"engine.similarity_threshold": "0.75",
		"storage.op_timeout":          "3s",
		"api.token":                   "ignored-secret",
	}
	cfg, err := loadWith(b, noSecrets)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.InDelta(t, 0.75, cfg.Engine.SimilarityThreshold, 1e-9)
	assert.Equal(t, "3s", cfg.Storage.OpTimeout)
	assert.Equal(t, 3e9, float64(cfg.Storage.OpTimeoutDuration()))
	assert.Empty(t, cfg.API.Token, "secrets are never read from the backend")
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("FORESIGHT_SERVER_PORT", "5555")
	t.Setenv("FORESIGHT_LEARNING_RATE", "0.25")
	t.Setenv("FORESIGHT_API_TOKEN", "env-token")

	cfg, err := loadWith(mapBackend{"server.port": 9000}, mockSecrets{value: "file-token"})
	require.NoError(t, err)

	assert.Equal(t, 5555, cfg.Server.Port)
	assert.InDelta(t, 0.25, cfg.Engine.LearningRate, 1e-9)
	assert.Equal(t, "env-token", cfg.API.Token)
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("FORESIGHT_MAX_CASCADE_DEPTH", "lots")

	cfg, err := loadWith(mapBackend{}, noSecrets)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Engine.MaxCascadeDepth)
}

func TestTokenFromSecretsFile(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockSecrets{value: "  stored-token\n"})
	require.NoError(t, err)
	assert.Equal(t, "stored-token", cfg.API.Token)
}

func TestValidation(t *testing.T) {
	cases := map[string]mapBackend{
		"depth above ceiling":   {"engine.max_cascade_depth": 11},
		"default above max":     {"engine.max_cascade_depth": 3, "engine.default_cascade_depth": 4},
		"threshold above one":   {"engine.similarity_threshold": "1.5"},
		"zero decay":            {"engine.default_decay": "0"},
		"pool min above max":    {"storage.pool_min": 30},
		"bad timeout":           {"storage.op_timeout": "soon"},
		"non-positive window":   {"engine.context_window": 0},
		"learning rate too big": {"engine.learning_rate": "2"},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			_, err := loadWith(b, noSecrets)
			assert.Error(t, err)
		})
	}
}

func TestBackendReadError(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(mapBackend{"server.port": "not-an-int"}, noSecrets)
	assert.ErrorContains(t, err, "server.port")
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}

	require.NoError(t, setKey(b, "server.port", "4200"))
	assert.Equal(t, 4200, b["server.port"])

	require.NoError(t, setKey(b, "engine.default_decay", "0.7"))
	assert.Equal(t, "0.7", b["engine.default_decay"])

	assert.ErrorContains(t, setKey(b, "engine.default_decay", "high"), "invalid float")
	assert.ErrorContains(t, setKey(b, "server.port", "x"), "invalid integer")
	assert.ErrorContains(t, setKey(b, "api.token", "t"), "cannot set secret")
	assert.ErrorContains(t, setKey(b, "nope", "1"), "unknown config key")
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.API.Token = "hidden"
	for _, ki := range ShowAll(cfg) {
		assert.NotEqual(t, "api.token", ki.Key)
		assert.NotEqual(t, "hidden", ki.Value)
	}
	assert.NotContains(t, ValidKeys(), "api.token")
	assert.Contains(t, ValidKeys(), "engine.learning_rate")
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foresight", "config.json")
	b := newFileBackend(path)
	require.NoError(t, b.SetInt("server.port", 4300))
	require.NoError(t, b.SetString("log.level", "debug"))

	reloaded := newFileBackend(path)
	port, ok, err := reloaded.GetInt("server.port")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4300, port)

	level, ok, err := reloaded.GetString("log.level")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "debug", level)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileBackendSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	b := newFileBackend(path)
	require.NoError(t, b.SetInt("server.port", 4300))
	require.NoError(t, b.SetString("engine.similarity_threshold", "0.75"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"server":{"port":4300},"engine":{"similarity_threshold":"0.75"}}`, string(raw))

	require.NoError(t, b.Delete("server.port"))
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"engine":{"similarity_threshold":"0.75"}}`, string(raw))

	assert.Error(t, b.SetString("nodot", "x"))
}

func TestFileBackendHandEdited(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{"server":{"port":"4200","rate_limit":12.5},"engine":{"similarity_threshold":0.8,"max_cascade_depth":7}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := loadWith(newFileBackend(path), noSecrets)
	require.NoError(t, err)
	assert.Equal(t, 4200, cfg.Server.Port)
	assert.Equal(t, 12.5, cfg.Server.RateLimit)
	assert.Equal(t, 0.8, cfg.Engine.SimilarityThreshold)
	assert.Equal(t, 7, cfg.Engine.MaxCascadeDepth)
}

func TestFileBackendCorruptFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	cfg, err := loadWith(newFileBackend(path), noSecrets)
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Server.Port)
}

func TestFileSecretsRoundTrip(t *testing.T) {
	s := fileSecrets{path: filepath.Join(t.TempDir(), "secrets.json")}
	_, err := s.Get("foresight", "api_token")
	assert.Error(t, err)

	require.NoError(t, s.Set("foresight", "api_token", "abc"))
	v, err := s.Get("foresight", "api_token")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}
