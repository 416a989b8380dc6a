package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBFile      string
	APIAddr     string
	AdminAddr   string
	BaseURL     string
	UploadsPath string

	// AuthSecret signs and verifies bearer tokens. Token issuance is owned
	// by the external auth service; we only need the shared secret.
	AuthSecret  string
	TokenExpiry time.Duration

	// AdminPassword enables basic auth on the admin listener when set.
	AdminPassword string

	// TypingTTL is how long a typing indicator stays fresh without a refresh.
	TypingTTL time.Duration
	// OfflineGrace debounces the offline transition after the last endpoint
	// of a user disconnects, to avoid presence flapping on brief reconnects.
	OfflineGrace time.Duration
	// NotifyQueueSize bounds the notification side-channel queue.
	NotifyQueueSize int

	// VAPID keys for web push. Optional: without them the side-channel
	// still persists notifications but skips the push attempt.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
}

func Load() (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_EXPIRY: %w", err)
	}
	typingTTL, err := time.ParseDuration(getEnv("TYPING_TTL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TYPING_TTL: %w", err)
	}
	offlineGrace, err := time.ParseDuration(getEnv("OFFLINE_GRACE", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFFLINE_GRACE: %w", err)
	}

	queueSize := 1024
	if v := os.Getenv("NOTIFY_QUEUE_SIZE"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &queueSize); err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_QUEUE_SIZE: %w", err)
		}
	}

	cfg := &Config{
		DBFile:          getEnv("PARLEY_DB", "parley.db"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:8081"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath:     getEnv("UPLOADS_PATH", "uploads"),
		AuthSecret:      os.Getenv("AUTH_SECRET"),
		TokenExpiry:     tokenExpiry,
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
		TypingTTL:       typingTTL,
		OfflineGrace:    offlineGrace,
		NotifyQueueSize: queueSize,
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be greater than 0")
	}
	if c.NotifyQueueSize <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
