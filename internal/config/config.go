package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Auth
	JWTSecret      string
	GoogleClientID string

	// Frontend
	FrontendURL string

	Tuning Tuning
}

// Tuning holds the knobs that may also come from the YAML file at CONFIG_PATH.
type Tuning struct {
	RosterValidityWindow time.Duration
	TimerDefaultMinutes  int
	TimerTick            time.Duration
	WorkerCount          int
	WorkerMaxRetries     int
}

type tuningFile struct {
	Roster struct {
		ValidityWindow string `yaml:"validityWindow"`
	} `yaml:"roster"`
	Timer struct {
		DefaultMinutes int    `yaml:"defaultMinutes"`
		Tick           string `yaml:"tick"`
	} `yaml:"timer"`
	Worker struct {
		Count      int `yaml:"count"`
		MaxRetries int `yaml:"maxRetries"`
	} `yaml:"worker"`
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		Env:            getEnvOrDefault("ENV", "development"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "console"),
		DatabaseURL:    mustGetEnv("DATABASE_URL"),
		RedisURL:       mustGetEnv("REDIS_URL"),
		JWTSecret:      mustGetEnv("JWT_SECRET"),
		GoogleClientID: getEnvOrDefault("GOOGLE_CLIENT_ID", ""),
		FrontendURL:    getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
		Tuning: Tuning{
			RosterValidityWindow: getEnvAsDurationOrDefault("ROSTER_VALIDITY_WINDOW", 30*time.Second),
			TimerDefaultMinutes:  getEnvAsIntOrDefault("TIMER_DEFAULT_MINUTES", 25),
			TimerTick:            getEnvAsDurationOrDefault("TIMER_TICK", time.Second),
			WorkerCount:          getEnvAsIntOrDefault("WORKER_COUNT", 3),
			WorkerMaxRetries:     getEnvAsIntOrDefault("WORKER_MAX_RETRIES", 3),
		},
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		tuning, err := loadTuning(path, cfg.Tuning)
		if err != nil {
			panic(fmt.Sprintf("invalid config file %s: %v", path, err))
		}
		cfg.Tuning = tuning
	}

	return cfg
}

// loadTuning overlays the YAML file at path onto base. Missing or zero
// values keep the base value.
func loadTuning(path string, base Tuning) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}

	var f tuningFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return base, err
	}

	out := base
	out.RosterValidityWindow = parseDurationOr(base.RosterValidityWindow, f.Roster.ValidityWindow)
	out.TimerTick = parseDurationOr(base.TimerTick, f.Timer.Tick)
	if f.Timer.DefaultMinutes > 0 {
		out.TimerDefaultMinutes = f.Timer.DefaultMinutes
	}
	if f.Worker.Count > 0 {
		out.WorkerCount = f.Worker.Count
	}
	if f.Worker.MaxRetries > 0 {
		out.WorkerMaxRetries = f.Worker.MaxRetries
	}
	return out, nil
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	return parseDurationOr(defaultVal, os.Getenv(key))
}

func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
