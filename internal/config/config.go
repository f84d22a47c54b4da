// Package config loads runtime settings from the environment, with an optional
// .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Database holds PostgreSQL connection settings.
type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a libpq-compatible connection string.
func (c Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Ledger holds the borrow request policy switches.
type Ledger struct {
	RecheckOnApprove bool
	OneShotDecisions bool
	EnforceCapacity  bool
}

// Librarian is the account seeded at startup when Password is set.
type Librarian struct {
	Username string
	Email    string
	Password string
}

// Config is the full application configuration.
type Config struct {
	Port      string
	Env       string
	Store     string
	Database  Database
	Ledger    Ledger
	Librarian Librarian
}

// Development reports whether the app runs in development mode.
func (c Config) Development() bool {
	return c.Env == "development"
}

// Load reads a .env file when present, then the process environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:  getEnv("PORT", "8080"),
		Env:   getEnv("APP_ENV", "production"),
		Store: getEnv("STORE", StorePostgres),
		Database: Database{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "library"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Librarian: Librarian{
			Username: getEnv("LIBRARIAN_USERNAME", "librarian"),
			Email:    getEnv("LIBRARIAN_EMAIL", "librarian@library.local"),
			Password: os.Getenv("LIBRARIAN_PASSWORD"),
		},
	}

	var err error
	if cfg.Ledger.RecheckOnApprove, err = getBool("LEDGER_RECHECK_ON_APPROVE", true); err != nil {
		return Config{}, err
	}
	if cfg.Ledger.OneShotDecisions, err = getBool("LEDGER_ONE_SHOT_DECISIONS", false); err != nil {
		return Config{}, err
	}
	if cfg.Ledger.EnforceCapacity, err = getBool("LEDGER_ENFORCE_CAPACITY", false); err != nil {
		return Config{}, err
	}

	switch cfg.Store {
	case StorePostgres, StoreMemory:
	default:
		return Config{}, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	// A fresh memory store has no accounts, so nobody could ever log in.
	if cfg.Store == StoreMemory && cfg.Librarian.Password == "" {
		return Config{}, fmt.Errorf("STORE=%s requires LIBRARIAN_PASSWORD", StoreMemory)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}
