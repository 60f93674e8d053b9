package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBFile      string
	APIAddr     string
	AdminAddr   string
	BaseURL     string
	UploadsPath string
	TokenExpiry time.Duration

	// Gateway
	HeartbeatWindow time.Duration

	// Presence / typing
	TypingTTL      time.Duration
	TypingDebounce time.Duration
	OfflineGrace   time.Duration

	// Attachments
	MaxUploadSize int64
	AllowedMimes  []string

	// Web push (optional; push is disabled when the keys are empty)
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
}

func Load() (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "720h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_EXPIRY: %w", err)
	}

	heartbeat, err := time.ParseDuration(getEnv("HEARTBEAT_WINDOW", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_WINDOW: %w", err)
	}

	typingTTL, err := time.ParseDuration(getEnv("TYPING_TTL", "3s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TYPING_TTL: %w", err)
	}

	typingDebounce, err := time.ParseDuration(getEnv("TYPING_DEBOUNCE", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TYPING_DEBOUNCE: %w", err)
	}

	offlineGrace, err := time.ParseDuration(getEnv("OFFLINE_GRACE", "2s"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFFLINE_GRACE: %w", err)
	}

	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_SIZE", "10485760"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_SIZE: %w", err)
	}

	cfg := &Config{
		DBFile:          getEnv("PALAVER_DB", "palaver.db"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:8081"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath:     getEnv("UPLOADS_PATH", "uploads"),
		TokenExpiry:     tokenExpiry,
		HeartbeatWindow: heartbeat,
		TypingTTL:       typingTTL,
		TypingDebounce:  typingDebounce,
		OfflineGrace:    offlineGrace,
		MaxUploadSize:   maxUpload,
		AllowedMimes:    splitList(getEnv("ALLOWED_MIMES", "image/png,image/jpeg,image/gif,image/webp,application/pdf,application/zip")),
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
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.HeartbeatWindow <= 0 {
		return fmt.Errorf("HEARTBEAT_WINDOW must be greater than 0")
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be greater than 0")
	}
	if c.TypingDebounce > c.TypingTTL {
		return fmt.Errorf("TYPING_DEBOUNCE must not exceed TYPING_TTL")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
