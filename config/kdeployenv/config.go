package kdeployenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names
const (
	KdeployRootEnvKey      = "KDEPLOY_ROOT"
	KdeployDirEnvKey       = "KDEPLOY_DIR"
	KdeployLogFormatEnvKey = "KDEPLOY_LOG_FORMAT"
	KdeployDBURLEnvKey     = "KDEPLOY_DB_URL"
)

// Directory and file names
const (
	KdeployDirName = ".kdeploy"
	ConfigFileName = "config.yml"
)

// Store types
const (
	StoreMemory = "memory"
	StoreRDB    = "rdb"
)

// Env holds the resolved KDEPLOY_ROOT, KDEPLOY_DIR, and loaded .kdeploy/config.yml contents.
// A missing .kdeploy directory is not an error: Found is false and defaults apply.
type Env struct {
	KdeployRoot string  // Resolved KDEPLOY_ROOT (project directory)
	KdeployDir  string  // Resolved KDEPLOY_DIR (typically .kdeploy)
	Found       bool    // Whether KDEPLOY_DIR exists
	Version     int     // .kdeploy/config.yml version
	Store       Store   // .kdeploy/config.yml store configuration
	Logging     Logging // .kdeploy/config.yml logging configuration
	Wait        Wait    // .kdeploy/config.yml wait configuration
}

// Store represents the deployment history store configuration.
type Store struct {
	Type string `yaml:"type"`          // memory (default) | rdb
	URL  string `yaml:"url,omitempty"` // rdb URL, e.g. sqlite:$KDEPLOY_DIR/kdeploy.db
}

// Logging represents the logging configuration from .kdeploy/config.yml
type Logging struct {
	Dir           string `yaml:"dir,omitempty"`           // Log directory (default: $KDEPLOY_DIR/logs)
	Format        string `yaml:"format,omitempty"`        // Log format: json (default), human
	Level         string `yaml:"level,omitempty"`         // Log level: DEBUG, INFO (default), WARN, ERROR
	RetentionDays int    `yaml:"retentionDays,omitempty"` // Days to retain log files (default: 7)
}

// Wait represents the rollout wait bounds. Values are Go durations such as "5m" or "2s".
type Wait struct {
	Timeout  string `yaml:"timeout,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

// configFile represents the structure of .kdeploy/config.yml for unmarshaling
type configFile struct {
	Version int     `yaml:"version"`
	Store   Store   `yaml:"store"`
	Logging Logging `yaml:"logging,omitempty"`
	Wait    Wait    `yaml:"wait,omitempty"`
}

// Resolve discovers KDEPLOY_ROOT and KDEPLOY_DIR, then loads .kdeploy/config.yml.
//
// Resolution order for KDEPLOY_ROOT:
//  1. kdeployRoot parameter (from --kdeploy-root flag or KDEPLOY_ROOT env)
//  2. Upward search from workDir for parent containing .kdeploy/
//  3. workDir itself, with Found=false
//
// Resolution order for KDEPLOY_DIR:
//  1. kdeployDir parameter (from --kdeploy-dir flag or KDEPLOY_DIR env)
//  2. Default: $KDEPLOY_ROOT/.kdeploy
func Resolve(kdeployRoot, kdeployDir, workDir string) (*Env, error) {
	if kdeployRoot == "" {
		found, err := searchForKdeployRoot(workDir)
		if err != nil {
			return nil, fmt.Errorf("searching for .kdeploy directory: %w", err)
		}
		if found == "" {
			found = workDir
		}
		kdeployRoot = found
	}

	var err error
	kdeployRoot, err = filepath.Abs(kdeployRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving KDEPLOY_ROOT to absolute path: %w", err)
	}
	kdeployRoot = filepath.Clean(kdeployRoot)
	info, err := os.Stat(kdeployRoot)
	if err != nil {
		return nil, fmt.Errorf("KDEPLOY_ROOT %q does not exist: %w", kdeployRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("KDEPLOY_ROOT %q is not a directory", kdeployRoot)
	}

	explicitDir := kdeployDir != ""
	if kdeployDir == "" {
		kdeployDir = filepath.Join(kdeployRoot, KdeployDirName)
	}
	kdeployDir, err = filepath.Abs(kdeployDir)
	if err != nil {
		return nil, fmt.Errorf("resolving KDEPLOY_DIR to absolute path: %w", err)
	}
	kdeployDir = filepath.Clean(kdeployDir)

	cfg := &Env{KdeployRoot: kdeployRoot, KdeployDir: kdeployDir}
	info, err = os.Stat(kdeployDir)
	switch {
	case err == nil && info.IsDir():
		cfg.Found = true
	case err == nil:
		return nil, fmt.Errorf("KDEPLOY_DIR %q is not a directory", kdeployDir)
	case explicitDir:
		return nil, fmt.Errorf("KDEPLOY_DIR %q does not exist: %w", kdeployDir, err)
	}

	if cfg.Found {
		if err := cfg.loadConfigFile(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// searchForKdeployRoot searches upward from startDir for a parent containing .kdeploy directory.
// Returns the parent directory (not .kdeploy itself) or empty string if not found.
func searchForKdeployRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}
	current := absDir
	for {
		info, err := os.Stat(filepath.Join(current, KdeployDirName))
		if err == nil && info.IsDir() {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", nil
		}
		current = parent
	}
}

// loadConfigFile loads .kdeploy/config.yml into the Env.
// Does nothing if the file doesn't exist (not an error).
func (e *Env) loadConfigFile() error {
	configPath := filepath.Join(e.KdeployDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", configPath, err)
	}
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parsing config file %q: %w", configPath, err)
	}
	switch cf.Store.Type {
	case "", StoreMemory, StoreRDB:
	default:
		return fmt.Errorf("config file %q: unsupported store type %q", configPath, cf.Store.Type)
	}
	e.Version = cf.Version
	e.Store = cf.Store
	e.Logging = cf.Logging
	e.Wait = cf.Wait
	if _, err := e.WaitTimeout(); err != nil {
		return fmt.Errorf("config file %q: %w", configPath, err)
	}
	if _, err := e.WaitInterval(); err != nil {
		return fmt.Errorf("config file %q: %w", configPath, err)
	}
	return nil
}

// ApplyEnv overrides configuration from KDEPLOY_LOG_FORMAT and KDEPLOY_DB_URL.
// A database URL implies the rdb store.
func (e *Env) ApplyEnv(getenv func(string) string) {
	if v := getenv(KdeployLogFormatEnvKey); v != "" {
		e.Logging.Format = v
	}
	if v := getenv(KdeployDBURLEnvKey); v != "" {
		e.Store.Type = StoreRDB
		e.Store.URL = v
	}
}

// StoreURL returns the rdb URL with variables expanded, or "" for the memory store.
func (e *Env) StoreURL() string {
	if e.Store.Type != StoreRDB {
		return ""
	}
	if e.Store.URL == "" {
		return "sqlite:" + filepath.Join(e.KdeployDir, "kdeploy.db")
	}
	return e.ExpandVars(e.Store.URL)
}

// WaitTimeout returns the configured wait timeout, or zero when unset.
func (e *Env) WaitTimeout() (time.Duration, error) {
	return parseDuration("wait.timeout", e.Wait.Timeout)
}

// WaitInterval returns the configured poll interval, or zero when unset.
func (e *Env) WaitInterval() (time.Duration, error) {
	return parseDuration("wait.interval", e.Wait.Interval)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", field, s)
	}
	return d, nil
}

// ExpandVars replaces $KDEPLOY_ROOT and $KDEPLOY_DIR in the given string.
func (e *Env) ExpandVars(s string) string {
	s = strings.ReplaceAll(s, "$KDEPLOY_ROOT", e.KdeployRoot)
	s = strings.ReplaceAll(s, "$KDEPLOY_DIR", e.KdeployDir)
	return s
}

// InitialConfigYAML generates the initial .kdeploy/config.yml content as YAML bytes.
func InitialConfigYAML() ([]byte, error) {
	defaultConfig := configFile{
		Version: 1,
		Store: Store{
			Type: StoreRDB,
			URL:  "sqlite:$KDEPLOY_DIR/kdeploy.db",
		},
		Wait: Wait{Timeout: "5m", Interval: "5s"},
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&defaultConfig); err != nil {
		return nil, fmt.Errorf("encoding default config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("closing yaml encoder: %w", err)
	}
	return []byte(buf.String()), nil
}
