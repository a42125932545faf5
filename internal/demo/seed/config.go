package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	APIBaseURL  string
	Username    string
	Password    string
	Tenants     []string
	BatchSize   int
	Batches     int
	Interval    time.Duration
	HTTPTimeout time.Duration
	Seed        int64
	// OutputPath, when set, writes one CSV file instead of uploading.
	OutputPath string
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:  "http://localhost:8080",
		Username:    "admin",
		Tenants:     []string{"GP", "Banglalink", "Robi", "Teletalk"},
		BatchSize:   200,
		Batches:     5,
		Interval:    time.Second,
		HTTPTimeout: 30 * time.Second,
		Seed:        time.Now().UTC().UnixNano(),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "NOCASSIST_SEED_API_URL", &cfg.APIBaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "NOCASSIST_SEED_USERNAME", &cfg.Username); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "NOCASSIST_SEED_PASSWORD", &cfg.Password); err != nil {
		return Config{}, err
	}
	if err := applyList(lookup, "NOCASSIST_SEED_TENANTS", &cfg.Tenants); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "NOCASSIST_SEED_BATCH_SIZE", &cfg.BatchSize); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "NOCASSIST_SEED_BATCHES", &cfg.Batches); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "NOCASSIST_SEED_INTERVAL", &cfg.Interval); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "NOCASSIST_SEED_HTTP_TIMEOUT", &cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "NOCASSIST_SEED_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "NOCASSIST_SEED_OUTPUT", &cfg.OutputPath); err != nil {
		return Config{}, err
	}

	if len(cfg.Tenants) == 0 {
		return Config{}, fmt.Errorf("NOCASSIST_SEED_TENANTS must list at least one tenant")
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("NOCASSIST_SEED_BATCH_SIZE must be > 0")
	}
	if cfg.Batches <= 0 {
		return Config{}, fmt.Errorf("NOCASSIST_SEED_BATCHES must be > 0")
	}
	if cfg.OutputPath == "" {
		if strings.TrimSpace(cfg.APIBaseURL) == "" {
			return Config{}, fmt.Errorf("NOCASSIST_SEED_API_URL is required")
		}
		if cfg.Username == "" || cfg.Password == "" {
			return Config{}, fmt.Errorf("NOCASSIST_SEED_USERNAME and NOCASSIST_SEED_PASSWORD are required for upload")
		}
		if cfg.Interval < 0 {
			return Config{}, fmt.Errorf("NOCASSIST_SEED_INTERVAL must be >= 0")
		}
		if cfg.HTTPTimeout <= 0 {
			return Config{}, fmt.Errorf("NOCASSIST_SEED_HTTP_TIMEOUT must be > 0")
		}
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	values := make([]string, 0)
	seen := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		values = append(values, part)
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
