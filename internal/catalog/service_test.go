package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryCatalog struct {
	materials    map[int64]Material
	compositions map[int64][]Component
	materialHits int
}

func (m *memoryCatalog) GetMaterial(ctx context.Context, id int64) (Material, error) {
	m.materialHits++
	mat, ok := m.materials[id]
	if !ok {
		return Material{}, ErrMaterialNotFound
	}
	return mat, nil
}

func (m *memoryCatalog) GetComposition(ctx context.Context, materialID int64) ([]Component, error) {
	return m.compositions[materialID], nil
}

func (m *memoryCatalog) ListMaterials(ctx context.Context) ([]Material, error) {
	out := make([]Material, 0, len(m.materials))
	for _, mat := range m.materials {
		out = append(out, mat)
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *memoryCatalog) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &memoryCatalog{
		materials: map[int64]Material{
			1: {ID: 1, Code: "DRM-200", Name: "200L Drum with Oil", IsComposite: true, StandardPrice: decimal.RequireFromString("12.50"), IsActive: true},
			2: {ID: 2, Code: "RAG", Name: "Oily Rags", IsDisposable: true, DefaultWasteType: "hazardous", IsActive: true},
		},
		compositions: map[int64][]Component{
			1: {
				{ComponentMaterialID: 10, ComponentType: ComponentTypeContainer, SortOrder: 1},
				{ComponentMaterialID: 11, ComponentType: ComponentTypeContent, SortOrder: 2},
			},
		},
	}
	return NewService(repo, NewCache(client, time.Minute)), repo
}

func TestGetMaterialCached(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetMaterial(ctx, 1)
	require.NoError(t, err)
	require.True(t, first.IsComposite)
	require.True(t, first.StandardPrice.Equal(decimal.RequireFromString("12.50")))

	second, err := svc.GetMaterial(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, first.Code, second.Code)
	require.Equal(t, 1, repo.materialHits)
}

func TestGetMaterialNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetMaterial(context.Background(), 99)
	require.ErrorIs(t, err, ErrMaterialNotFound)

	_, err = svc.GetMaterial(context.Background(), 0)
	require.ErrorIs(t, err, ErrMaterialNotFound)
}

func TestGetCompositionOrdered(t *testing.T) {
	svc, _ := newTestService(t)
	components, err := svc.GetComposition(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, components, 2)
	require.Equal(t, ComponentTypeContainer, components[0].ComponentType)
	require.Equal(t, ComponentTypeContent, components[1].ComponentType)
}
