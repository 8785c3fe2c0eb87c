package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	engineopenai "github.com/streamline-ai/chatrelay/internal/engine/openai"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/chatrelay.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RelayConfig describes runtime options for the chat relay daemon.
type RelayConfig struct {
	Environment string
	HTTPAddr    string

	LogFile  string
	LogLevel string

	// Database is a sqlite path or a postgres:// DSN.
	Database string

	// RedisAddr selects the Redis-backed event log and notifier; empty
	// keeps both in process memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EventTTL bounds how long a job's event history is retained after the
	// most recent append.
	EventTTL time.Duration
	// WaitTimeout bounds each notifier wait inside a consumer session.
	WaitTimeout time.Duration
	// SessionTimeout bounds a whole consumer session without a terminal
	// event.
	SessionTimeout time.Duration

	WorkerCount int
	QueueDepth  int

	// Engine selects the generation backend: openai or loopback.
	Engine        string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	// ProfilesFile optionally points at a YAML file of named engine
	// profiles (model, reasoning effort/summary).
	ProfilesFile string
	Profiles     map[string]engineopenai.Profile
}

// LoadRelayConfig reads the current environment and loads the appropriate
// config file, applying CHATRELAY_* environment overrides on top.
func LoadRelayConfig(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return RelayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := RelayConfig{
		Environment:   s.Environment,
		HTTPAddr:      firstNonEmpty(os.Getenv("CHATRELAY_HTTP_ADDR"), merged["http_addr"], ":8000"),
		LogFile:       firstNonEmpty(os.Getenv("CHATRELAY_LOG_FILE"), merged["log_file"]),
		LogLevel:      firstNonEmpty(os.Getenv("CHATRELAY_LOG_LEVEL"), merged["log_level"], "info"),
		Database:      firstNonEmpty(os.Getenv("CHATRELAY_DATABASE"), merged["database"], DefaultDatabasePath()),
		RedisAddr:     firstNonEmpty(os.Getenv("CHATRELAY_REDIS_ADDR"), merged["redis_addr"]),
		RedisPassword: firstNonEmpty(os.Getenv("CHATRELAY_REDIS_PASSWORD"), merged["redis_password"]),
		RedisDB:       parseOptionalInt(firstNonEmpty(os.Getenv("CHATRELAY_REDIS_DB"), merged["redis_db"]), 0),
		WorkerCount:   parseOptionalInt(firstNonEmpty(os.Getenv("CHATRELAY_WORKERS"), merged["workers"]), 4),
		QueueDepth:    parseOptionalInt(firstNonEmpty(os.Getenv("CHATRELAY_QUEUE_DEPTH"), merged["queue_depth"]), 128),
		Engine:        strings.ToLower(firstNonEmpty(os.Getenv("CHATRELAY_ENGINE"), merged["engine"], "openai")),
		OpenAIAPIKey:  firstNonEmpty(os.Getenv("CHATRELAY_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY"), merged["openai_api_key"]),
		OpenAIBaseURL: firstNonEmpty(os.Getenv("CHATRELAY_OPENAI_BASE_URL"), merged["openai_base_url"]),
		ProfilesFile:  firstNonEmpty(os.Getenv("CHATRELAY_PROFILES_FILE"), merged["profiles_file"]),
	}

	cfg.EventTTL, err = parseOptionalDuration(firstNonEmpty(os.Getenv("CHATRELAY_EVENT_TTL"), merged["event_ttl"]), time.Hour)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("invalid event_ttl: %w", err)
	}
	cfg.WaitTimeout, err = parseOptionalDuration(firstNonEmpty(os.Getenv("CHATRELAY_WAIT_TIMEOUT"), merged["wait_timeout"]), time.Second)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("invalid wait_timeout: %w", err)
	}
	cfg.SessionTimeout, err = parseOptionalDuration(firstNonEmpty(os.Getenv("CHATRELAY_SESSION_TIMEOUT"), merged["session_timeout"]), 5*time.Minute)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("invalid session_timeout: %w", err)
	}

	switch cfg.Engine {
	case "openai", "loopback":
	default:
		return RelayConfig{}, fmt.Errorf("invalid engine %q", cfg.Engine)
	}

	if strings.TrimSpace(cfg.ProfilesFile) != "" {
		profiles, err := loadProfiles(cfg.ProfilesFile)
		if err != nil {
			return RelayConfig{}, err
		}
		cfg.Profiles = profiles
	}

	return cfg, nil
}

// loadProfiles reads named engine profiles from a YAML file.
func loadProfiles(path string) (map[string]engineopenai.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	var profiles map[string]engineopenai.Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse profiles file %s: %w", path, err)
	}
	for name, p := range profiles {
		if strings.TrimSpace(p.Model) == "" {
			return nil, fmt.Errorf("profile %q: model required", name)
		}
	}
	return profiles, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultDatabasePath returns the fallback chat database location under the
// user's home directory.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatrelay.db"
	}
	return filepath.Join(home, ".chatrelay", "chatrelay.db")
}

// IsPostgres reports whether the database value is a Postgres DSN rather
// than a sqlite path.
func IsPostgres(database string) bool {
	return strings.HasPrefix(database, "postgres://") || strings.HasPrefix(database, "postgresql://")
}
