package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RiskMode selects the risk policy used to gate and size trades.
type RiskMode string

const (
	ModeGrind    RiskMode = "grind"
	ModeBalanced RiskMode = "balanced"
	ModeMoonshot RiskMode = "moonshot"
)

// Valid reports whether m is a known mode.
func (m RiskMode) Valid() bool {
	switch m {
	case ModeGrind, ModeBalanced, ModeMoonshot:
		return true
	}
	return false
}

// Setting keys.
const (
	SettingMode           = "mode"
	SettingMaxDays        = "max_days"
	SettingAllowShorting  = "allow_shorting"
	SettingRiskMultiplier = "risk_multiplier"
)

// Settings bounds.
const (
	MinMaxDays        = 1
	MaxMaxDays        = 365
	MinRiskMultiplier = 0.1
	MaxRiskMultiplier = 3.0
)

// Settings is the operator-tunable configuration read by every job run.
type Settings struct {
	Mode           RiskMode `json:"mode"`
	MaxDays        int      `json:"max_days"`
	AllowShorting  bool     `json:"allow_shorting"`
	RiskMultiplier float64  `json:"risk_multiplier"`
}

// DefaultSettings returns the settings used when nothing has been stored.
func DefaultSettings() Settings {
	return Settings{
		Mode:           ModeBalanced,
		MaxDays:        30,
		AllowShorting:  false,
		RiskMultiplier: 1.0,
	}
}

// Values renders s as the key/value pairs persisted by a SettingsStore.
func (s Settings) Values() map[string]string {
	return map[string]string{
		SettingMode:           string(s.Mode),
		SettingMaxDays:        strconv.Itoa(s.MaxDays),
		SettingAllowShorting:  strconv.FormatBool(s.AllowShorting),
		SettingRiskMultiplier: strconv.FormatFloat(s.RiskMultiplier, 'f', -1, 64),
	}
}

// Apply validates value for key and writes it into s. The returned error wraps
// ErrInvalidSetting.
func (s *Settings) Apply(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case SettingMode:
		m := RiskMode(strings.ToLower(value))
		if !m.Valid() {
			return fmt.Errorf("%w: mode must be one of grind, balanced, moonshot (got %q)", ErrInvalidSetting, value)
		}
		s.Mode = m
	case SettingMaxDays:
		n, err := strconv.Atoi(value)
		if err != nil || n < MinMaxDays || n > MaxMaxDays {
			return fmt.Errorf("%w: max_days must be an integer between %d and %d (got %q)", ErrInvalidSetting, MinMaxDays, MaxMaxDays, value)
		}
		s.MaxDays = n
	case SettingAllowShorting:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: allow_shorting must be a boolean (got %q)", ErrInvalidSetting, value)
		}
		s.AllowShorting = b
	case SettingRiskMultiplier:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < MinRiskMultiplier || f > MaxRiskMultiplier {
			return fmt.Errorf("%w: risk_multiplier must be between %.1f and %.1f (got %q)", ErrInvalidSetting, MinRiskMultiplier, MaxRiskMultiplier, value)
		}
		s.RiskMultiplier = f
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}
	return nil
}

// ParseSettings builds Settings from stored key/value pairs on top of the
// defaults. Unknown keys and invalid stored values are ignored.
func ParseSettings(values map[string]string) Settings {
	s := DefaultSettings()
	for _, key := range []string{SettingMode, SettingMaxDays, SettingAllowShorting, SettingRiskMultiplier} {
		if v, ok := values[key]; ok {
			_ = s.Apply(key, v)
		}
	}
	return s
}
