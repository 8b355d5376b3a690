package catalog

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	GetMaterial(ctx context.Context, id int64) (Material, error)
	GetComposition(ctx context.Context, materialID int64) ([]Component, error)
	ListMaterials(ctx context.Context) ([]Material, error)
}

// Service provides read access to the material catalog with a read-through
// cache. Concurrent misses for the same key are collapsed.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	group singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// GetMaterial returns one material, cached.
func (s *Service) GetMaterial(ctx context.Context, id int64) (Material, error) {
	if id <= 0 {
		return Material{}, ErrMaterialNotFound
	}
	key := materialKey(id)
	v, err, _ := s.group.Do(key, func() (any, error) {
		var m Material
		err := s.cache.FetchJSON(ctx, key, &m, func(ctx context.Context) (any, error) {
			return s.repo.GetMaterial(ctx, id)
		})
		return m, err
	})
	if err != nil {
		return Material{}, err
	}
	return v.(Material), nil
}

// GetComposition returns the ordered component list, cached.
func (s *Service) GetComposition(ctx context.Context, materialID int64) ([]Component, error) {
	key := compositionKey(materialID)
	v, err, _ := s.group.Do(key, func() (any, error) {
		var components []Component
		err := s.cache.FetchJSON(ctx, key, &components, func(ctx context.Context) (any, error) {
			return s.repo.GetComposition(ctx, materialID)
		})
		return components, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]Component), nil
}

// ListMaterials lists active materials, uncached.
func (s *Service) ListMaterials(ctx context.Context) ([]Material, error) {
	materials, err := s.repo.ListMaterials(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return materials, nil
}
