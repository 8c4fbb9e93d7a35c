package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// CountyStore reads scrape targets and their platform defaults from Postgres.
// Scraper configs live in jsonb columns so new selectors and patterns never
// need a migration.
type CountyStore struct {
	pool querier
}

// NewCountyStore constructs a CountyStore over the shared pool.
func NewCountyStore(pool querier) (*CountyStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CountyStore{pool: pool}, nil
}

// ListActiveCounties returns every county enabled for scraping, in name order
// so run logs read consistently.
func (s *CountyStore) ListActiveCounties(ctx context.Context) ([]recorder.County, error) {
	query := `
		SELECT id, name, state, active, platform_id, platform, config
		FROM counties
		WHERE active
		ORDER BY name ASC;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active counties: %w", err)
	}
	defer rows.Close()

	var counties []recorder.County
	for rows.Next() {
		var (
			county    recorder.County
			configRaw []byte
		)
		if err := rows.Scan(
			&county.ID,
			&county.Name,
			&county.State,
			&county.Active,
			&county.PlatformID,
			&county.Platform,
			&configRaw,
		); err != nil {
			return nil, fmt.Errorf("scan county row: %w", err)
		}
		if len(configRaw) > 0 {
			if err := json.Unmarshal(configRaw, &county.Config); err != nil {
				return nil, fmt.Errorf("decode config for county %s: %w", county.Name, err)
			}
		}
		counties = append(counties, county)
	}
	return counties, rows.Err()
}

// GetPlatform fetches one platform with its default scraper config.
func (s *CountyStore) GetPlatform(ctx context.Context, id int64) (recorder.Platform, error) {
	query := `SELECT id, name, kind, default_config FROM platforms WHERE id = $1;`
	var (
		platform  recorder.Platform
		configRaw []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&platform.ID,
		&platform.Name,
		&platform.Kind,
		&configRaw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return recorder.Platform{}, recorder.ErrNotFound
		}
		return recorder.Platform{}, fmt.Errorf("get platform: %w", err)
	}
	if len(configRaw) > 0 {
		if err := json.Unmarshal(configRaw, &platform.DefaultConfig); err != nil {
			return recorder.Platform{}, fmt.Errorf("decode platform config: %w", err)
		}
	}
	return platform, nil
}

var _ recorder.CountyStore = (*CountyStore)(nil)
