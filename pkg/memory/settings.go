package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetSettings returns a user's memory governance settings, falling back
// to defaults when no row exists.
func (s *Store) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT auto_save_enabled, auto_save_categories, core_cap, updated_at FROM memory_settings WHERE user_id = ?`),
		userID)

	var enabled int
	var categoriesJSON sql.NullString
	var coreCap int
	var updatedAt time.Time
	err := row.Scan(&enabled, &categoriesJSON, &coreCap, &updatedAt)
	if err == sql.ErrNoRows {
		return &Settings{
			UserID:             userID,
			AutoSaveEnabled:    true,
			AutoSaveCategories: DefaultAutoSaveCategories(),
			CoreCap:            s.cfg.CoreCap,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	settings := &Settings{
		UserID:          userID,
		AutoSaveEnabled: enabled != 0,
		CoreCap:         coreCap,
		UpdatedAt:       updatedAt,
	}
	if categoriesJSON.Valid && categoriesJSON.String != "" {
		if err := json.Unmarshal([]byte(categoriesJSON.String), &settings.AutoSaveCategories); err != nil {
			return nil, fmt.Errorf("failed to decode auto-save categories: %w", err)
		}
	}
	if len(settings.AutoSaveCategories) == 0 {
		settings.AutoSaveCategories = DefaultAutoSaveCategories()
	}
	return settings, nil
}

// UpdateSettings upserts a user's settings row.
func (s *Store) UpdateSettings(ctx context.Context, settings *Settings) error {
	if settings == nil || settings.UserID == "" {
		return fmt.Errorf("settings with a user id are required")
	}

	categoriesJSON, err := json.Marshal(settings.AutoSaveCategories)
	if err != nil {
		return fmt.Errorf("failed to encode auto-save categories: %w", err)
	}
	enabled := 0
	if settings.AutoSaveEnabled {
		enabled = 1
	}
	coreCap := settings.CoreCap
	if coreCap <= 0 {
		coreCap = s.cfg.CoreCap
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE memory_settings SET auto_save_enabled = ?, auto_save_categories = ?, core_cap = ?, updated_at = ? WHERE user_id = ?`),
		enabled, string(categoriesJSON), coreCap, now, settings.UserID)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO memory_settings (user_id, auto_save_enabled, auto_save_categories, core_cap, updated_at) VALUES (?, ?, ?, ?, ?)`),
		settings.UserID, enabled, string(categoriesJSON), coreCap, now); err != nil {
		return fmt.Errorf("failed to insert settings: %w", err)
	}
	return nil
}
