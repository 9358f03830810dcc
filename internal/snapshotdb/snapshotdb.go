// Package snapshotdb is a thin, read-only query handle to the spatial
// database described in spec.md §6: an analytical store of tile/resource/
// entity snapshots (water_tile, resource_tile, resource_entity, map_entity,
// inserter, transport_belt, electric_pole, mining_drill, pumpjack,
// assemblers, water_patch, resource_patch, belt_line, belt_line_segment,
// entity_status_latest) that the core only queries, never writes. That
// writer (the snapshot producer) and its launcher are explicitly out of
// scope per spec.md §1. No other package in this module imports this one;
// placement cues and reachability read the world over RCON instead.
//
// Grounded on codeready-toolchain/tarsy's jackc/pgx/v5 usage for its
// Postgres-backed store — the one repo in the retrieval pack with a real
// Postgres driver dependency.
package snapshotdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Handle wraps a read-only connection pool. No method here ever issues an
// INSERT/UPDATE/DELETE.
type Handle struct {
	pool *pgxpool.Pool
}

// Open connects the pool. dsn is a standard libpq connection string.
func Open(ctx context.Context, dsn string, maxConns int32) (*Handle, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("snapshotdb: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("snapshotdb: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("snapshotdb: ping: %w", err)
	}
	return &Handle{pool: pool}, nil
}

// Close releases the pool.
func (h *Handle) Close() {
	h.pool.Close()
}

// WaterPatch is one row of the water_patch table.
type WaterPatch struct {
	ID         int64
	CenterX    float64
	CenterY    float64
	TileCount  int
}

// WaterPatchesNear returns water patches within radius of (x, y) using
// ST_Distance/ST_Point against the water_patch table.
func (h *Handle) WaterPatchesNear(ctx context.Context, x, y, radius float64) ([]WaterPatch, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT id, ST_X(center), ST_Y(center), tile_count
		FROM water_patch
		WHERE ST_Distance(center, ST_Point($1, $2)) <= $3
	`, x, y, radius)
	if err != nil {
		return nil, fmt.Errorf("snapshotdb: water_patch query: %w", err)
	}
	defer rows.Close()

	var out []WaterPatch
	for rows.Next() {
		var wp WaterPatch
		if err := rows.Scan(&wp.ID, &wp.CenterX, &wp.CenterY, &wp.TileCount); err != nil {
			return nil, fmt.Errorf("snapshotdb: water_patch scan: %w", err)
		}
		out = append(out, wp)
	}
	return out, rows.Err()
}

// ResourcePatch is one row of the resource_patch table.
type ResourcePatch struct {
	ID         int64
	EntityName string
	CenterX    float64
	CenterY    float64
	Amount     int
}

// ResourcePatchesNear returns resource patches of entityName within radius
// of (x, y), via ST_Within against resource_patch geometry.
func (h *Handle) ResourcePatchesNear(ctx context.Context, entityName string, x, y, radius float64) ([]ResourcePatch, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT id, entity_name, ST_X(center), ST_Y(center), amount
		FROM resource_patch
		WHERE entity_name = $1
		  AND ST_Within(ST_Point($2, $3), ST_Buffer(center, $4))
	`, entityName, x, y, radius)
	if err != nil {
		return nil, fmt.Errorf("snapshotdb: resource_patch query: %w", err)
	}
	defer rows.Close()

	var out []ResourcePatch
	for rows.Next() {
		var rp ResourcePatch
		if err := rows.Scan(&rp.ID, &rp.EntityName, &rp.CenterX, &rp.CenterY, &rp.Amount); err != nil {
			return nil, fmt.Errorf("snapshotdb: resource_patch scan: %w", err)
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

// EntityStatus is one row of the entity_status_latest view.
type EntityStatus struct {
	EntityID int64
	Name     string
	Status   string
	X, Y     float64
}

// EntityStatusNear queries the entity_status_latest view for entities
// intersecting a bounding query built from ST_Intersects.
func (h *Handle) EntityStatusNear(ctx context.Context, x, y, radius float64) ([]EntityStatus, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT entity_id, name, status, ST_X(position), ST_Y(position)
		FROM entity_status_latest
		WHERE ST_Intersects(position, ST_Buffer(ST_Point($1, $2), $3))
	`, x, y, radius)
	if err != nil {
		return nil, fmt.Errorf("snapshotdb: entity_status_latest query: %w", err)
	}
	defer rows.Close()

	var out []EntityStatus
	for rows.Next() {
		var es EntityStatus
		if err := rows.Scan(&es.EntityID, &es.Name, &es.Status, &es.X, &es.Y); err != nil {
			return nil, fmt.Errorf("snapshotdb: entity_status_latest scan: %w", err)
		}
		out = append(out, es)
	}
	return out, rows.Err()
}
