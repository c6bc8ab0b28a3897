package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Upstream notification platform
	PushURL     string // STOMP-over-WebSocket endpoint
	Destination string // broker destination to subscribe
	APIBaseURL  string // REST surface for backfill and commands
	APITimeout  time.Duration

	// Push channel policy
	MaxConnectAttempts int
	HeartbeatMS        int

	// Fallback polling policy
	PollInterval time.Duration
	PollTimeout  time.Duration

	// Redis config (replay guard + rate limiter). Optional: empty host
	// disables both.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		PushURL:     "ws://localhost:9090/ws",
		Destination: "/user/queue/notifications",
		APIBaseURL:  "http://localhost:9090",
		APITimeout:  15 * time.Second,

		MaxConnectAttempts: 3,
		HeartbeatMS:        10000,

		PollInterval: 30 * time.Second,
		PollTimeout:  5 * time.Minute,

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Upstream config
	if url := os.Getenv("PUSH_URL"); url != "" {
		cfg.PushURL = url
	}

	if dest := os.Getenv("PUSH_DESTINATION"); dest != "" {
		cfg.Destination = dest
	}

	if url := os.Getenv("API_BASE_URL"); url != "" {
		cfg.APIBaseURL = url
	}

	if timeout := os.Getenv("API_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid API_TIMEOUT: %w", err)
		}
		cfg.APITimeout = d
	}

	if attempts := os.Getenv("MAX_CONNECT_ATTEMPTS"); attempts != "" {
		a, err := strconv.Atoi(attempts)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_CONNECT_ATTEMPTS: %w", err)
		}
		if a < 1 {
			return nil, fmt.Errorf("MAX_CONNECT_ATTEMPTS must be at least 1")
		}
		cfg.MaxConnectAttempts = a
	}

	if hb := os.Getenv("HEARTBEAT_MS"); hb != "" {
		h, err := strconv.Atoi(hb)
		if err != nil {
			return nil, fmt.Errorf("invalid HEARTBEAT_MS: %w", err)
		}
		cfg.HeartbeatMS = h
	}

	// Fallback polling
	if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}

	if timeout := os.Getenv("POLL_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_TIMEOUT: %w", err)
		}
		cfg.PollTimeout = d
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Rate limiting
	if requests := os.Getenv("RATE_LIMIT_REQUESTS"); requests != "" {
		n, err := strconv.Atoi(requests)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_REQUESTS: %w", err)
		}
		cfg.RateLimitRequests = n
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
		}
		cfg.RateLimitWindow = d
	}

	return cfg, nil
}
