package config

import (
	"strings"

	"arduflash/device"
)

// Normalize fills unset keys with defaults and canonicalizes ids.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	def := device.DefaultConfig()

	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = def.Baud
	}
	if cfg.Serial.ReadTimeout == 0 {
		cfg.Serial.ReadTimeout = def.ReadTimeout
	}
	if cfg.Locator.Wait == 0 {
		cfg.Locator.Wait = def.Wait
	}
	if cfg.Locator.PollInterval == 0 {
		cfg.Locator.PollInterval = def.PollInterval
	}
	if cfg.Locator.ResetSettle == 0 {
		cfg.Locator.ResetSettle = def.ResetSettle
	}

	// A list replaces the defaults; an absent list keeps them.
	if len(cfg.Locator.BootloaderIDs) == 0 {
		cfg.Locator.BootloaderIDs = def.BootloaderIDs
	}
	if len(cfg.Locator.ApplicationIDs) == 0 {
		cfg.Locator.ApplicationIDs = def.ApplicationIDs
	}
	for _, ids := range [][]device.ID{cfg.Locator.BootloaderIDs, cfg.Locator.ApplicationIDs} {
		for i := range ids {
			ids[i].VID = strings.ToUpper(ids[i].VID)
			ids[i].PID = strings.ToUpper(ids[i].PID)
			if ids[i].Model == "" {
				ids[i].Model = "device " + canonical(ids[i])
			}
		}
	}

	if cfg.Multi.ContinueOnFailure == nil {
		v := true
		cfg.Multi.ContinueOnFailure = &v
	}
	if cfg.Transfer.Verify == nil {
		v := true
		cfg.Transfer.Verify = &v
	}
}

func canonical(id device.ID) string {
	return strings.ToUpper(id.VID) + ":" + strings.ToUpper(id.PID)
}
