package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ConfigBackend abstracts persistent config storage.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "foresight-data"
		}
	}
	return filepath.Join(dir, "foresight")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "foresight", "config.json")
}

// fileBackend keeps config.json grouped by section, the same shape
// `foresight config show` prints:
//
//	{"server": {"port": 4100}, "engine": {"similarity_threshold": "0.6"}}
//
// A dotted key such as "engine.similarity_threshold" addresses the section
// before the first dot and the field after it.
type fileBackend struct {
	path string

	mu       sync.Mutex
	sections map[string]map[string]any
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, sections: make(map[string]map[string]any)}
	if err := b.load(); err != nil {
		slog.Warn("ignoring config file, using defaults", "path", path, "error", err)
	}
	return b
}

func splitKey(key string) (section, field string, err error) {
	section, field, ok := strings.Cut(key, ".")
	if !ok || section == "" || field == "" {
		return "", "", fmt.Errorf("config key %q must have the form section.field", key)
	}
	return section, field, nil
}

func (b *fileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", b.path, err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", b.path, err)
	}
	for name, fields := range doc {
		if fields != nil {
			b.sections[name] = fields
		}
	}
	return nil
}

// save writes the document through a temp file so a crash never leaves a
// truncated config.json behind.
func (b *fileBackend) save() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.sections, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replacing %s: %w", b.path, err)
	}
	return nil
}

func (b *fileBackend) lookup(key string) (any, bool, error) {
	section, field, err := splitKey(key)
	if err != nil {
		return nil, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.sections[section][field]
	return v, ok, nil
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok, err := b.lookup(key)
	if err != nil || !ok {
		return "", false, err
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64:
		// Hand-edited numbers such as "similarity_threshold": 0.75.
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	default:
		return "", true, fmt.Errorf("%s: expected a scalar, got %T", key, v)
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok, err := b.lookup(key)
	if err != nil || !ok {
		return 0, false, err
	}
	switch val := v.(type) {
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("%s: %v is not an integer in range", key, val)
		}
		return int(val), true, nil
	case int:
		return val, true, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: expected an integer, got %T", key, v)
	}
}

func (b *fileBackend) set(key string, val any) error {
	section, field, err := splitKey(key)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fields, ok := b.sections[section]
	if !ok {
		fields = make(map[string]any)
		b.sections[section] = fields
	}
	fields[field] = val
	return b.save()
}

func (b *fileBackend) SetString(key, val string) error { return b.set(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.set(key, val) }

// Delete removes key and drops its section once empty.
func (b *fileBackend) Delete(key string) error {
	section, field, err := splitKey(key)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fields, ok := b.sections[section]
	if !ok {
		return nil
	}
	delete(fields, field)
	if len(fields) == 0 {
		delete(b.sections, section)
	}
	return b.save()
}
