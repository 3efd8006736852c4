package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddress  string
	DatabaseURL    string
	JWTSecret      string
	SessionSecret  string
	RedisAddr      string
	AllowedOrigin  string
	TypingIdle     time.Duration
	SearchDebounce time.Duration
	PhotoMaxBytes  int
	PhotoMaxDim    int
}

// Load reads the configuration from the environment. A .env file in the
// working directory, when present, is loaded first and never overrides
// variables that are already set.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Ignoring .env file: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	dbPath := filepath.Join(cwd, "data", "livechat.db")

	return &Config{
		ServerAddress:  getEnv("SERVER_ADDRESS", ":8080"),
		DatabaseURL:    getEnv("DATABASE_URL", "sqlite://"+dbPath),
		JWTSecret:      getEnv("JWT_SECRET", "change-me-jwt"),
		SessionSecret:  getEnv("SESSION_SECRET", "change-me-session-secret-32bytes"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		AllowedOrigin:  getEnv("ALLOWED_ORIGIN", "http://localhost:8080"),
		TypingIdle:     getDuration("TYPING_IDLE", 2*time.Second),
		SearchDebounce: getDuration("SEARCH_DEBOUNCE", 500*time.Millisecond),
		PhotoMaxBytes:  getInt("PHOTO_MAX_BYTES", 1<<20),
		PhotoMaxDim:    getInt("PHOTO_MAX_DIMENSION", 500),
	}
}

// CleanDatabasePath returns a clean filesystem path from a database URL
func (c *Config) CleanDatabasePath() string {
	dbPath := strings.TrimPrefix(c.DatabaseURL, "sqlite://")

	if !filepath.IsAbs(dbPath) {
		cwd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		dbPath = filepath.Join(cwd, dbPath)
	}

	return dbPath
}

// UpdateDatabasePath updates the database path, maintaining the sqlite:// prefix if it was present
func (c *Config) UpdateDatabasePath(newPath string) {
	if strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		c.DatabaseURL = "sqlite://" + newPath
	} else {
		c.DatabaseURL = newPath
	}
}

// String hides the secrets so the config can be logged at startup.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("addr=" + c.ServerAddress)
	b.WriteString(" db=" + c.DatabaseURL)
	if c.RedisAddr != "" {
		b.WriteString(" redis=" + c.RedisAddr)
	}
	b.WriteString(" origin=" + c.AllowedOrigin)
	b.WriteString(" typing_idle=" + c.TypingIdle.String())
	b.WriteString(" search_debounce=" + c.SearchDebounce.String())
	return b.String()
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("Invalid %s=%q, using %v", key, value, fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Printf("Invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}
