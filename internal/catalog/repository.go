package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads material records from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetMaterial fetches a single material by id.
func (r *Repository) GetMaterial(ctx context.Context, id int64) (Material, error) {
	var (
		m        Material
		priceStr string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, is_composite, is_disposable, COALESCE(default_waste_type, ''), standard_price::text, is_active
FROM materials WHERE id=$1`, id).
		Scan(&m.ID, &m.Code, &m.Name, &m.IsComposite, &m.IsDisposable, &m.DefaultWasteType, &priceStr, &m.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, ErrMaterialNotFound
		}
		return Material{}, fmt.Errorf("catalog: get material: %w", err)
	}
	m.StandardPrice, err = decimal.NewFromString(priceStr)
	if err != nil {
		return Material{}, fmt.Errorf("catalog: parse standard price: %w", err)
	}
	return m, nil
}

// GetComposition returns the ordered component list of a composite material.
// Non-composite materials yield an empty slice.
func (r *Repository) GetComposition(ctx context.Context, materialID int64) ([]Component, error) {
	rows, err := r.pool.Query(ctx, `SELECT component_material_id, component_type, sort_order
FROM material_compositions WHERE material_id=$1 ORDER BY sort_order ASC, component_material_id ASC`, materialID)
	if err != nil {
		return nil, fmt.Errorf("catalog: get composition: %w", err)
	}
	defer rows.Close()
	components := []Component{}
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.ComponentMaterialID, &c.ComponentType, &c.SortOrder); err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return components, nil
}

// ListMaterials lists active materials for the read surface.
func (r *Repository) ListMaterials(ctx context.Context) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, is_composite, is_disposable, COALESCE(default_waste_type, ''), standard_price::text, is_active
FROM materials WHERE is_active ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list materials: %w", err)
	}
	defer rows.Close()
	materials := []Material{}
	for rows.Next() {
		var (
			m        Material
			priceStr string
		)
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.IsComposite, &m.IsDisposable, &m.DefaultWasteType, &priceStr, &m.IsActive); err != nil {
			return nil, err
		}
		if m.StandardPrice, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("catalog: parse standard price: %w", err)
		}
		materials = append(materials, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return materials, nil
}
