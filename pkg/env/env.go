// Package env loads .env files and reads typed environment variables with
// fallbacks.
package env

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the given .env files (".env" when none are named) into the
// process environment. Variables already set are not overridden. Missing
// files are not an error.
func Load(log *slog.Logger, files ...string) error {
	if log == nil {
		log = slog.Default()
	}
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		switch {
		case err == nil:
			log.Debug("loaded env file", "file", f)
		case errors.Is(err, fs.ErrNotExist):
			log.Debug("no env file, using process environment", "file", f)
		default:
			return err
		}
	}
	return nil
}

// Or returns the value of key, or fallback when unset or empty.
func Or(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Int returns key parsed as an int, or fallback when unset or malformed.
func Int(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

// Float returns key parsed as a float64, or fallback when unset or malformed.
func Float(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

// Bool returns key parsed with strconv.ParseBool, or fallback.
func Bool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

// Duration returns key parsed with time.ParseDuration, or fallback.
func Duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}
