package emoji

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/imagekit"
	"github.com/packsmith/backend/internal/logging"
)

// PackClient assembles a pack from sliced tile files.
type PackClient interface {
	CreateOrExtend(ctx context.Context, req core.PackRequest, tilePaths []string) (core.PackResult, error)
}

// OutcomeStore persists finished jobs.
type OutcomeStore interface {
	SaveJobOutcome(ctx context.Context, outcome core.JobOutcome) error
}

// Service turns one PackRequest into a finished pack: slice the source into
// tiles next to it, hand the tiles to the pack client, then release the job
// directory whatever happened.
type Service struct {
	client      PackClient
	store       OutcomeStore
	scratchRoot string
	tileSize    int
	logger      *logging.Logger
}

// NewService wires the job service. scratchRoot guards against removing the
// scratch area itself when a source file sits at the top level.
func NewService(client PackClient, store OutcomeStore, scratchRoot string, tileSize int, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.New("[EMOJI] ", logging.LevelInfo)
	}
	return &Service{
		client:      client,
		store:       store,
		scratchRoot: filepath.Clean(scratchRoot),
		tileSize:    tileSize,
		logger:      logger,
	}
}

// Process runs one job. Tile files and the source are always released
// before returning; cleanup never masks the original failure.
func (s *Service) Process(ctx context.Context, req core.PackRequest) (*core.JobOutcome, error) {
	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		return nil, core.WrapError(core.IO, "read source image", err)
	}

	jobDir := filepath.Dir(req.FilePath)
	stem := strings.TrimSuffix(filepath.Base(req.FilePath), filepath.Ext(req.FilePath))

	var tilePaths []string
	defer func() {
		s.cleanup(req.FilePath, tilePaths, jobDir)
	}()

	tilePaths, err = imagekit.SliceFiles(data, req.Grid, req.Padding, s.tileSize, jobDir, stem)
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("sliced %d tiles for user %d in %s", len(tilePaths), req.UserID, jobDir)

	result, err := s.client.CreateOrExtend(ctx, req, tilePaths)
	if err != nil {
		return nil, err
	}

	outcome := core.JobOutcome{Request: req, Result: result, CreatedAt: time.Now().UTC()}
	if err := s.store.SaveJobOutcome(ctx, outcome); err != nil {
		// The pack exists remotely; the cache row is bookkeeping only.
		s.logger.Warnf("save job outcome for user %d: %v", req.UserID, err)
	}
	return &outcome, nil
}

func (s *Service) cleanup(sourcePath string, tilePaths []string, jobDir string) {
	for _, path := range tilePaths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warnf("cleanup: remove tile %s: %v", filepath.Base(path), err)
		}
	}
	if err := os.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warnf("cleanup: remove source %s: %v", filepath.Base(sourcePath), err)
	}
	if dir := filepath.Clean(jobDir); dir != s.scratchRoot {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warnf("cleanup: remove job dir %s: %v", dir, err)
		}
	}
}
