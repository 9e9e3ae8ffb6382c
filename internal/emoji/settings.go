package emoji

import (
	"context"
	"fmt"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/logging"
)

// SettingsStore is the durable backing for per-user defaults.
type SettingsStore interface {
	GetUserSettings(ctx context.Context, userID int64) (*core.UserSettings, error)
	UpsertUserSettings(ctx context.Context, settings core.UserSettings) error
}

// SettingsService serves per-user defaults and repairs stored grids that no
// longer fit under the configured limit.
type SettingsService struct {
	store          SettingsStore
	defaultGrid    core.GridOption
	defaultPadding int
	gridLimit      int
	logger         *logging.Logger
}

// NewSettingsService wires the service to its store and configured
// defaults.
func NewSettingsService(store SettingsStore, defaultGrid core.GridOption, defaultPadding, gridLimit int, logger *logging.Logger) *SettingsService {
	if logger == nil {
		logger = logging.New("[SETTINGS] ", logging.LevelInfo)
	}
	return &SettingsService{
		store:          store,
		defaultGrid:    defaultGrid,
		defaultPadding: defaultPadding,
		gridLimit:      gridLimit,
		logger:         logger,
	}
}

// Get returns the user's settings. A stored grid over the limit is replaced
// by the configured default (or 1x1 when that also violates the limit) and
// the repair is persisted before returning.
func (s *SettingsService) Get(ctx context.Context, userID int64) (core.UserSettings, error) {
	stored, err := s.store.GetUserSettings(ctx, userID)
	if err != nil {
		return core.UserSettings{}, err
	}
	if stored == nil {
		return core.UserSettings{
			UserID:         userID,
			DefaultGrid:    s.defaultGrid,
			DefaultPadding: s.defaultPadding,
		}, nil
	}
	if stored.DefaultGrid.Tiles() <= s.gridLimit {
		return *stored, nil
	}

	repaired := *stored
	repaired.DefaultGrid = s.defaultGrid
	if repaired.DefaultGrid.Tiles() > s.gridLimit {
		repaired.DefaultGrid = core.GridOption{Rows: 1, Cols: 1}
	}
	s.logger.Infof("repairing settings for user %d: %s exceeds limit %d, now %s",
		userID, stored.DefaultGrid, s.gridLimit, repaired.DefaultGrid)
	if err := s.store.UpsertUserSettings(ctx, repaired); err != nil {
		return core.UserSettings{}, err
	}
	return repaired, nil
}

// Update validates and persists new defaults.
func (s *SettingsService) Update(ctx context.Context, userID int64, grid core.GridOption, padding int) error {
	if grid.Tiles() > s.gridLimit {
		return core.NewError(core.InputInvalid,
			fmt.Sprintf("grid %s has %d tiles, the limit is %d", grid, grid.Tiles(), s.gridLimit))
	}
	if padding < 0 || padding > 5 {
		return core.NewError(core.InputInvalid,
			fmt.Sprintf("padding %d must be in 0..5", padding))
	}
	return s.store.UpsertUserSettings(ctx, core.UserSettings{
		UserID:         userID,
		DefaultGrid:    grid,
		DefaultPadding: padding,
	})
}
