package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Recognised setting keys. Settings are flat string pairs; typed accessors
// wrap them with defaults.
const (
	SettingAlertToastEnabled  = "alert_toast_enabled"
	SettingAlertSoundEnabled  = "alert_sound_enabled"
	SettingAlertSoundMode     = "alert_sound_mode" // single, random
	SettingAlertSoundSelected = "alert_sound_selected"
	SettingAlertImageEnabled  = "alert_image_enabled"
	SettingAlertImageMode     = "alert_image_mode"
	SettingAlertImageSelected = "alert_image_selected"
	SettingPollingInterval    = "polling_interval" // seconds
	SettingIdleThreshold      = "idle_threshold"   // seconds
	SettingLogRetentionDays   = "log_retention_days"
	SettingTargetDailyHours   = "target_daily_hours"
	SettingTargetDistraction  = "target_distraction_ratio" // percent
	SettingTheme              = "theme"                    // light, dark
)

// RecognisedSettings maps every accepted key to its default value.
var RecognisedSettings = map[string]string{
	SettingAlertToastEnabled:  "1",
	SettingAlertSoundEnabled:  "0",
	SettingAlertSoundMode:     "single",
	SettingAlertSoundSelected: "",
	SettingAlertImageEnabled:  "0",
	SettingAlertImageMode:     "single",
	SettingAlertImageSelected: "",
	SettingPollingInterval:    "2",
	SettingIdleThreshold:      "300",
	SettingLogRetentionDays:   "30",
	SettingTargetDailyHours:   "7",
	SettingTargetDistraction:  "20",
	SettingTheme:              "light",
}

// Setting returns the value for key, or def when unset.
func (s *Store) Setting(ctx context.Context, key, def string) string {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def
	}
	if err != nil {
		s.logger.Warn("reading setting %s: %v", key, err)
		return def
	}
	return value
}

// SettingInt returns the integer value for key, or def when unset or
// unparsable.
func (s *Store) SettingInt(ctx context.Context, key string, def int) int {
	raw := s.Setting(ctx, key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// SettingFloat returns the float value for key, or def when unset or
// unparsable.
func (s *Store) SettingFloat(ctx context.Context, key string, def float64) float64 {
	raw := s.Setting(ctx, key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// SettingBool interprets "1", "true", "on" and "yes" as true.
func (s *Store) SettingBool(ctx context.Context, key string, def bool) bool {
	raw := s.Setting(ctx, key, "")
	switch raw {
	case "":
		return def
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

// SetSetting upserts one key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.execRetry(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// Settings returns every recognised key with its stored or default value.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(RecognisedSettings))
	for key, def := range RecognisedSettings {
		out[key] = def
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if _, known := RecognisedSettings[key]; known {
			out[key] = value
		}
	}
	return out, rows.Err()
}
