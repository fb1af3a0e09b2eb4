package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// SettingsService validates and persists operator settings. Nothing is
// cached: every Current call reads the store so the next job run sees an
// update.
type SettingsService struct {
	store  domain.SettingsStore
	logger *slog.Logger
}

// NewSettingsService creates a SettingsService backed by store.
func NewSettingsService(store domain.SettingsStore, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		store:  store,
		logger: logger.With(slog.String("component", "settings_service")),
	}
}

// Seed stores defaults for every key that has no value yet.
func (s *SettingsService) Seed(ctx context.Context, defaults domain.Settings) error {
	if err := s.store.SeedDefaults(ctx, defaults.Values()); err != nil {
		return fmt.Errorf("settings_service: seed: %w", err)
	}
	return nil
}

// Current returns the stored settings on top of the defaults.
func (s *SettingsService) Current(ctx context.Context) (domain.Settings, error) {
	values, err := s.store.All(ctx)
	if err != nil {
		return domain.DefaultSettings(), fmt.Errorf("settings_service: load: %w", err)
	}
	return domain.ParseSettings(values), nil
}

// Update validates and stores a single setting.
func (s *SettingsService) Update(ctx context.Context, key, value string) (domain.Settings, error) {
	return s.UpdateMany(ctx, map[string]string{key: value})
}

// UpdateMany validates every pair before storing any of them.
func (s *SettingsService) UpdateMany(ctx context.Context, values map[string]string) (domain.Settings, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return current, err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	next := current
	for _, k := range keys {
		if err := next.Apply(k, values[k]); err != nil {
			return current, err
		}
	}

	normalized := next.Values()
	for _, k := range keys {
		if err := s.store.Set(ctx, k, normalized[k]); err != nil {
			return current, fmt.Errorf("settings_service: set %s: %w", k, err)
		}
		s.logger.InfoContext(ctx, "settings_service: setting updated",
			slog.String("key", k),
			slog.String("value", normalized[k]),
		)
	}
	return next, nil
}
