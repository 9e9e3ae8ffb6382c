package tracking

import (
	"context"
	"time"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/logging"
	"github.com/packsmith/backend/internal/storage"
)

// defaultStatsWindow bounds aggregate queries when no window is given.
const defaultStatsWindow = 30 * 24 * time.Hour

// StartLinker renders the public URL carrying a start payload.
type StartLinker interface {
	StartLink(ctx context.Context, payload string) (string, error)
}

// Service is the tracking core: issue links, decode start payloads into
// events, and query the ledger.
type Service struct {
	store  *storage.Store
	linker StartLinker
	logger *logging.Logger
}

// NewService wires the tracking core.
func NewService(store *storage.Store, linker StartLinker, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.New("[TRACKING] ", logging.LevelInfo)
	}
	return &Service{store: store, linker: linker, logger: logger}
}

// CreateLink issues a link for the tag. An empty slug is derived from the
// tag; a supplied slug is validated. Collisions with an active slug get a
// numeric suffix. Returns the link and its start URL.
func (s *Service) CreateLink(ctx context.Context, tag, slug string) (core.TrackingLink, string, error) {
	if tag == "" {
		return core.TrackingLink{}, "", core.NewError(core.InputInvalid, "tag is required")
	}
	if slug == "" {
		slug = DeriveSlug(tag)
	} else if err := ValidateSlug(slug); err != nil {
		return core.TrackingLink{}, "", err
	}

	chosen := slug
	for n := 2; ; n++ {
		existing, err := s.store.GetLinkBySlug(ctx, chosen, false)
		if err != nil {
			return core.TrackingLink{}, "", err
		}
		if existing == nil {
			break
		}
		chosen = NumberedSlug(slug, n)
	}

	link, err := s.store.CreateLink(ctx, tag, chosen)
	if err != nil {
		return core.TrackingLink{}, "", err
	}
	url, err := s.StartURL(ctx, link.LinkID)
	if err != nil {
		return core.TrackingLink{}, "", err
	}
	s.logger.Infof("created link %d tag=%q slug=%s", link.LinkID, tag, chosen)
	return link, url, nil
}

// StartURL builds a fresh start URL for an existing link.
func (s *Service) StartURL(ctx context.Context, linkID int64) (string, error) {
	payload, err := EncodePayload(linkID)
	if err != nil {
		return "", err
	}
	return s.linker.StartLink(ctx, payload)
}

// HandleStart decodes a start payload and records the event. Returns the
// matched link and whether this is the user's first event for it; a payload
// that fails to decode or points at a deleted link returns (nil, false, nil)
// without recording anything.
func (s *Service) HandleStart(ctx context.Context, payload string, userID int64) (*core.TrackingLink, bool, error) {
	linkID, err := DecodePayload(payload)
	if err != nil {
		s.logger.Debugf("start payload rejected: %v", err)
		return nil, false, nil
	}
	link, err := s.store.GetLink(ctx, linkID, false)
	if err != nil {
		return nil, false, err
	}
	if link == nil {
		return nil, false, nil
	}

	started, err := s.store.HasUserStarted(ctx, linkID, userID)
	if err != nil {
		return nil, false, err
	}
	firstStart := !started
	if _, err := s.store.LogEvent(ctx, linkID, userID, core.EventStart, firstStart); err != nil {
		return nil, false, err
	}
	return link, firstStart, nil
}

// LogVisit records a non-start touch of a link.
func (s *Service) LogVisit(ctx context.Context, linkID, userID int64) error {
	link, err := s.store.GetLink(ctx, linkID, false)
	if err != nil {
		return err
	}
	if link == nil {
		return core.NewError(core.InputInvalid, "link not found")
	}
	_, err = s.store.LogEvent(ctx, linkID, userID, core.EventVisit, false)
	return err
}

// Links lists active links newest first.
func (s *Service) Links(ctx context.Context) ([]core.TrackingLink, error) {
	return s.store.ListLinks(ctx, false)
}

// LinkBySlug returns the active link with the slug, or nil.
func (s *Service) LinkBySlug(ctx context.Context, slug string) (*core.TrackingLink, error) {
	return s.store.GetLinkBySlug(ctx, slug, false)
}

// DeleteLink soft-deletes the link, freeing its slug for reuse.
func (s *Service) DeleteLink(ctx context.Context, linkID int64) (bool, error) {
	ok, err := s.store.SoftDeleteLink(ctx, linkID)
	if err == nil && ok {
		s.logger.Infof("deleted link %d", linkID)
	}
	return ok, err
}

// Events lists a link's events, optionally bounded by an inclusive date
// window.
func (s *Service) Events(ctx context.Context, linkID int64, from, to *time.Time) ([]core.TrackingEvent, error) {
	return s.store.EventsForLink(ctx, linkID, from, to)
}

// Stats aggregates events per link, optionally per day. A missing window
// defaults to the last 30 days.
func (s *Service) Stats(ctx context.Context, linkIDs []int64, from, to *time.Time, daily bool) ([]core.LinkStats, error) {
	if from == nil && to == nil {
		start := time.Now().UTC().Add(-defaultStatsWindow)
		from = &start
	}
	return s.store.AggregatedStats(ctx, linkIDs, from, to, daily)
}
