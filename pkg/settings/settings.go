// Package settings manages persistent user settings for the newtdeploy CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rollback store backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NEWTDEPLOY_"

// Settings holds persistent user preferences
type Settings struct {
	// Inventory is the YAML device inventory used for credentials
	Inventory string `json:"inventory,omitempty"`

	// RollbackBackend is one of file, redis or sqlite
	RollbackBackend string `json:"rollback_backend,omitempty"`
	RollbackDir     string `json:"rollback_dir,omitempty"`
	RedisAddr       string `json:"redis_addr,omitempty"`
	RedisDB         int    `json:"redis_db,omitempty"`
	SQLitePath      string `json:"sqlite_path,omitempty"`

	AuditLog string `json:"audit_log,omitempty"`

	// Prompt overrides the CLI prompt regular expression
	Prompt string `json:"prompt,omitempty"`

	// Strategy is the default plan strategy
	Strategy string `json:"strategy,omitempty"`

	CommandDelayMs   int `json:"command_delay_ms,omitempty"`
	CommitDelayMs    int `json:"commit_delay_ms,omitempty"`
	ReceiveTimeoutMs int `json:"receive_timeout_ms,omitempty"`
}

// Dir returns the newtdeploy state directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".newtdeploy"
	}
	return filepath.Join(home, ".newtdeploy")
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	return filepath.Join(Dir(), "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields empty
// settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// LoadEnv reads a .env file from the working directory when one exists, then
// applies NEWTDEPLOY_* variables over s. Variables already set in the process
// environment win over the file.
func (s *Settings) LoadEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("loading .env: %w", err)
		}
	}
	for _, key := range Keys() {
		v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(key))
		if !ok || v == "" {
			continue
		}
		if err := s.Set(key, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, strings.ToUpper(key), err)
		}
	}
	return nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

type field struct {
	get func(s *Settings) string
	set func(s *Settings, v string) error
}

func str(p func(s *Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *p(s) },
		set: func(s *Settings, v string) error { *p(s) = v; return nil },
	}
}

func num(p func(s *Settings) *int) field {
	return field{
		get: func(s *Settings) string {
			if n := *p(s); n != 0 {
				return strconv.Itoa(n)
			}
			return ""
		},
		set: func(s *Settings, v string) error {
			if v == "" {
				*p(s) = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid number %q", v)
			}
			*p(s) = n
			return nil
		},
	}
}

var fields = map[string]field{
	"inventory": str(func(s *Settings) *string { return &s.Inventory }),
	"rollback_backend": {
		get: func(s *Settings) string { return s.RollbackBackend },
		set: func(s *Settings, v string) error {
			switch v {
			case "", BackendFile, BackendRedis, BackendSQLite:
				s.RollbackBackend = v
				return nil
			}
			return fmt.Errorf("unknown rollback backend %q (want file, redis or sqlite)", v)
		},
	},
	"rollback_dir": str(func(s *Settings) *string { return &s.RollbackDir }),
	"redis_addr":   str(func(s *Settings) *string { return &s.RedisAddr }),
	"redis_db":     num(func(s *Settings) *int { return &s.RedisDB }),
	"sqlite_path":  str(func(s *Settings) *string { return &s.SQLitePath }),
	"audit_log":    str(func(s *Settings) *string { return &s.AuditLog }),
	"prompt":       str(func(s *Settings) *string { return &s.Prompt }),
	"strategy": {
		get: func(s *Settings) string { return s.Strategy },
		set: func(s *Settings, v string) error {
			switch v {
			case "", "aggressive", "conservative":
				s.Strategy = v
				return nil
			}
			return fmt.Errorf("unknown strategy %q", v)
		},
	},
	"command_delay_ms":   num(func(s *Settings) *int { return &s.CommandDelayMs }),
	"commit_delay_ms":    num(func(s *Settings) *int { return &s.CommitDelayMs }),
	"receive_timeout_ms": num(func(s *Settings) *int { return &s.ReceiveTimeoutMs }),
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of key as text.
func (s *Settings) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("unknown setting %q", key)
	}
	return f.get(s), nil
}

// Set assigns key from text. An empty value resets it.
func (s *Settings) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	return f.set(s, value)
}

// GetRollbackBackend returns the backend (with fallback)
func (s *Settings) GetRollbackBackend() string {
	if s.RollbackBackend != "" {
		return s.RollbackBackend
	}
	return BackendFile
}

// GetRollbackDir returns the file store directory (with fallback)
func (s *Settings) GetRollbackDir() string {
	if s.RollbackDir != "" {
		return s.RollbackDir
	}
	return filepath.Join(Dir(), "rollbacks")
}

// GetRedisAddr returns the Redis address (with fallback)
func (s *Settings) GetRedisAddr() string {
	if s.RedisAddr != "" {
		return s.RedisAddr
	}
	return "localhost:6379"
}

// GetSQLitePath returns the SQLite database path (with fallback)
func (s *Settings) GetSQLitePath() string {
	if s.SQLitePath != "" {
		return s.SQLitePath
	}
	return filepath.Join(Dir(), "rollbacks.db")
}

// GetAuditLog returns the audit log path (with fallback)
func (s *Settings) GetAuditLog() string {
	if s.AuditLog != "" {
		return s.AuditLog
	}
	return filepath.Join(Dir(), "audit.log")
}

// Delays converts the millisecond timings. Zero values mean the caller's
// default.
func (s *Settings) Delays() (command, commit, receive time.Duration) {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return ms(s.CommandDelayMs), ms(s.CommitDelayMs), ms(s.ReceiveTimeoutMs)
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
