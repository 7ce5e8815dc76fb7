package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides reads tuning environment variables that are not
// represented by dedicated CLI flags in the serve command.
func (c *Config) ApplyEnvOverrides() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyIntEnv("CHAT_MIRROR_FLUSH_IDENTITY_BATCH_SIZE", &c.IdentityBatchSize); err != nil {
		return err
	}
	if err = applyIntEnv("CHAT_MIRROR_FLUSH_CONVERSATION_BATCH_SIZE", &c.ConversationBatchSize); err != nil {
		return err
	}
	if err = applyIntEnv("CHAT_MIRROR_FLUSH_MESSAGE_BATCH_SIZE", &c.MessageBatchSize); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_MIRROR_CACHE_MESSAGE_TTL", &c.CacheMessageTTL); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_MIRROR_PURGE_INTERVAL", &c.PurgeInterval); err != nil {
		return err
	}
	if raw := strings.TrimSpace(os.Getenv("CHAT_MIRROR_CACHE_LOCAL_MAX_SIZE")); raw != "" {
		size, parseErr := parseMemorySize(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid CHAT_MIRROR_CACHE_LOCAL_MAX_SIZE: %w", parseErr)
		}
		c.LocalCacheMaxCost = size
	}
	applyStringEnv("CHAT_MIRROR_DEFAULT_COUNTRY_CODE", &c.DefaultCountryCode)
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if c.FlushDebounce <= 0 {
		return fmt.Errorf("flush debounce must be positive, got %s", c.FlushDebounce)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %s", c.FlushInterval)
	}
	for name, v := range map[string]int{
		"identity batch size":     c.IdentityBatchSize,
		"conversation batch size": c.ConversationBatchSize,
		"message batch size":      c.MessageBatchSize,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if d := strings.TrimSpace(c.DefaultCountryCode); d != "" {
		for _, r := range d {
			if r < '0' || r > '9' {
				return fmt.Errorf("default country code must be digits only: %q", d)
			}
		}
	}
	return nil
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := parseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}

	// Go duration first (e.g. 30s, 5m).
	if d, err := time.ParseDuration(strings.ToLower(v)); err == nil {
		return d, nil
	}

	// Minimal ISO-8601 support: PT#H#M#S
	if !strings.HasPrefix(v, "PT") {
		return 0, fmt.Errorf("unsupported format %q", raw)
	}
	rest := strings.TrimPrefix(v, "PT")
	if rest == "" {
		return 0, fmt.Errorf("invalid format %q", raw)
	}
	total := time.Duration(0)
	for len(rest) > 0 {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(rest) {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		switch rest[i] {
		case 'H':
			total += time.Duration(n) * time.Hour
		case 'M':
			total += time.Duration(n) * time.Minute
		case 'S':
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		rest = rest[i+1:]
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}

func parseMemorySize(raw string) (int64, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(v, "KB"), strings.HasSuffix(v, "K"):
		multiplier = 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "KB"), "K")
	case strings.HasSuffix(v, "MB"), strings.HasSuffix(v, "M"):
		multiplier = 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "MB"), "M")
	case strings.HasSuffix(v, "GB"), strings.HasSuffix(v, "G"):
		multiplier = 1024 * 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "GB"), "G")
	case strings.HasSuffix(v, "B"):
		v = strings.TrimSuffix(v, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * multiplier, nil
}
