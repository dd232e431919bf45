package service

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/vocabulary"
)

// FacilitySource loads the facility reference list.
type FacilitySource interface {
	Facilities(ctx context.Context) ([]models.Facility, error)
}

const (
	catalogKey        = "facilities"
	DefaultCatalogTTL = 10 * time.Minute
)

// FacilityCatalog resolves facility codes and names against a cached copy
// of the reference list.
type FacilityCatalog struct {
	src   FacilitySource
	cache *cache.Cache
	ttl   time.Duration
}

type facilityIndex map[string]models.Facility

// NewFacilityCatalog creates a catalog that reloads the list after ttl.
func NewFacilityCatalog(src FacilitySource, ttl time.Duration) *FacilityCatalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &FacilityCatalog{
		src:   src,
		cache: cache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

// Prewarm loads the list so lookups during registration hit the cache.
func (c *FacilityCatalog) Prewarm(ctx context.Context) error {
	_, err := c.index(ctx)
	return err
}

// Invalidate drops the cached list.
func (c *FacilityCatalog) Invalidate() {
	c.cache.Delete(catalogKey)
}

// Lookup finds a facility by code or by display name.
func (c *FacilityCatalog) Lookup(ctx context.Context, codeOrName string) (models.Facility, bool, error) {
	idx, err := c.index(ctx)
	if err != nil {
		return models.Facility{}, false, err
	}
	f, ok := idx[vocabulary.NormalizeCode(codeOrName)]
	return f, ok, nil
}

func (c *FacilityCatalog) index(ctx context.Context) (facilityIndex, error) {
	if v, ok := c.cache.Get(catalogKey); ok {
		return v.(facilityIndex), nil
	}
	list, err := c.src.Facilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load facilities: %w", err)
	}
	idx := make(facilityIndex, len(list)*2)
	for _, f := range list {
		idx[vocabulary.NormalizeCode(f.Name)] = f
	}
	// codes win over names that happen to collide
	for _, f := range list {
		idx[vocabulary.NormalizeCode(f.Code)] = f
	}
	c.cache.Set(catalogKey, idx, c.ttl)
	return idx, nil
}
