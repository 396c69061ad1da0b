package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/salon-labs/internal/pricing"
)

// Repository is the persistence the catalog service reads from. *Store satisfies it.
type Repository interface {
	ListOfferings(ctx context.Context) ([]Offering, error)
	GetOfferings(ctx context.Context, ids []string) ([]Offering, error)
	ListBundles(ctx context.Context) ([]Bundle, error)
	GetBundle(ctx context.Context, slug string) (Bundle, error)
}

// Service serves the Labs catalog with a read-through cache for listings.
type Service struct {
	repo   Repository
	cache  *Cache
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Repository Repository
	Cache      *Cache
	Logger     zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("catalog repository is required")
	}
	return &Service{repo: cfg.Repository, cache: cfg.Cache, logger: cfg.Logger}, nil
}

// List returns the active offerings.
func (s *Service) List(ctx context.Context) ([]Offering, error) {
	var cached []Offering
	if s.readCache(ctx, offeringsKey, &cached) {
		return cached, nil
	}
	items, err := s.repo.ListOfferings(ctx)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, offeringsKey, items)
	return items, nil
}

// Bundles returns the bundle index.
func (s *Service) Bundles(ctx context.Context) ([]Bundle, error) {
	var cached []Bundle
	if s.readCache(ctx, bundlesKey, &cached) {
		return cached, nil
	}
	items, err := s.repo.ListBundles(ctx)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, bundlesKey, items)
	return items, nil
}

// Bundle returns a bundle with its offerings expanded in bundle order. A bundle
// referencing a missing or inactive offering cannot be sold.
func (s *Service) Bundle(ctx context.Context, slug string) (Bundle, error) {
	b, err := s.repo.GetBundle(ctx, strings.TrimSpace(slug))
	if err != nil {
		return Bundle{}, err
	}
	byID, err := s.Lookup(ctx, b.ServiceIDs)
	if err != nil {
		return Bundle{}, err
	}
	b.Services = make([]Offering, 0, len(b.ServiceIDs))
	for _, id := range b.ServiceIDs {
		o, ok := byID[id]
		if !ok || !o.Active {
			return Bundle{}, fmt.Errorf("%w: bundle %s references unavailable service %s", ErrNotFound, b.Slug, id)
		}
		b.Services = append(b.Services, o)
	}
	return b, nil
}

// Lookup loads offerings by id straight from the store, bypassing the cache,
// so checkout always prices against current rows.
func (s *Service) Lookup(ctx context.Context, ids []string) (map[string]Offering, error) {
	items, err := s.repo.GetOfferings(ctx, dedupe(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[string]Offering, len(items))
	for _, o := range items {
		out[o.ID] = o
	}
	return out, nil
}

// Offering returns one active offering.
func (s *Service) Offering(ctx context.Context, id string) (Offering, error) {
	byID, err := s.Lookup(ctx, []string{id})
	if err != nil {
		return Offering{}, err
	}
	o, ok := byID[id]
	if !ok || !o.Active {
		return Offering{}, fmt.Errorf("%w: service %s", ErrNotFound, id)
	}
	return o, nil
}

// NameLookup resolves required-service ids to display names, including ones
// absent from the provided map.
func (s *Service) NameLookup(ctx context.Context, items []pricing.LineItem) pricing.NameLookup {
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ServiceID)
		ids = append(ids, it.RequiredServices...)
	}
	byID, err := s.Lookup(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("catalog name lookup failed")
		byID = nil
	}
	return func(id string) string {
		if o, ok := byID[id]; ok {
			return o.Name
		}
		return id
	}
}

// Invalidate drops cached listings.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

func (s *Service) readCache(ctx context.Context, key string, dst any) bool {
	ok, err := s.cache.GetJSON(ctx, key, dst)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
		return false
	}
	return ok
}

func (s *Service) writeCache(ctx context.Context, key string, v any) {
	if err := s.cache.SetJSON(ctx, key, v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
