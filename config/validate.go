package config

import (
	"fmt"
	"strconv"
	"time"

	"arduflash/device"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
// Zero values mean "use the default" and are accepted.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", cfg.Serial.Baud)
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"serial.read_timeout", cfg.Serial.ReadTimeout},
		{"locator.wait", cfg.Locator.Wait},
		{"locator.poll_interval", cfg.Locator.PollInterval},
		{"locator.reset_settle", cfg.Locator.ResetSettle},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.key, d.d)
		}
	}

	if cfg.Locator.Wait > 0 && cfg.Locator.PollInterval > cfg.Locator.Wait {
		return fmt.Errorf(
			"locator.poll_interval (%s) is longer than locator.wait (%s)",
			cfg.Locator.PollInterval,
			cfg.Locator.Wait,
		)
	}

	// a VID:PID may not be both a bootloader and an application
	seen := make(map[string]string)
	lists := []struct {
		key string
		ids []device.ID
	}{
		{"locator.bootloader_ids", cfg.Locator.BootloaderIDs},
		{"locator.application_ids", cfg.Locator.ApplicationIDs},
	}
	for _, l := range lists {
		for i, id := range l.ids {
			if err := validateHexID(id.VID); err != nil {
				return fmt.Errorf("%s[%d].vid: %w", l.key, i, err)
			}
			if err := validateHexID(id.PID); err != nil {
				return fmt.Errorf("%s[%d].pid: %w", l.key, i, err)
			}
			key := canonical(id)
			if prev, exists := seen[key]; exists {
				return fmt.Errorf("%s[%d]: %s already listed in %s", l.key, i, key, prev)
			}
			seen[key] = l.key
		}
	}

	return nil
}

func validateHexID(s string) error {
	if len(s) != 4 {
		return fmt.Errorf("%q must be 4 hex digits", s)
	}
	if _, err := strconv.ParseUint(s, 16, 16); err != nil {
		return fmt.Errorf("%q is not hexadecimal", s)
	}
	return nil
}
