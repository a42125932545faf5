package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nocassist/nocassist/internal/cli/nocctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("NOCCTL_TIMEOUT")), 60*time.Second)
	options := nocctl.Options{
		BaseURL: envOr("NOCCTL_API_URL", "http://localhost:8080"),
		Token:   strings.TrimSpace(os.Getenv("NOCCTL_TOKEN")),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := nocctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid NOCCTL_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
