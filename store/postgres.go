package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-critic/models"
)

// PgxIface is the subset of *pgxpool.Pool the store needs.
type PgxIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const itemColumns = `item_id, category, title, image_url, year, attr1, attr2, attr3,
	description, rating, last_refreshed_at, last_refresh_attempt_at, refresh_error_count`

const getItemSQL = `SELECT ` + itemColumns + ` FROM catalog_items WHERE item_id = $1`

const listStaleSQL = `SELECT ` + itemColumns + ` FROM catalog_items
	WHERE (last_refreshed_at IS NULL OR last_refreshed_at <= $1)
	  AND (last_refresh_attempt_at IS NULL OR last_refresh_attempt_at <= $2)
	ORDER BY last_refreshed_at ASC NULLS FIRST, item_id ASC
	LIMIT $3`

const saveItemSQL = `INSERT INTO catalog_items (` + itemColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (item_id) DO UPDATE SET
		category = EXCLUDED.category,
		title = EXCLUDED.title,
		image_url = EXCLUDED.image_url,
		year = EXCLUDED.year,
		attr1 = EXCLUDED.attr1,
		attr2 = EXCLUDED.attr2,
		attr3 = EXCLUDED.attr3,
		description = EXCLUDED.description,
		rating = EXCLUDED.rating,
		last_refreshed_at = EXCLUDED.last_refreshed_at,
		last_refresh_attempt_at = EXCLUDED.last_refresh_attempt_at,
		refresh_error_count = EXCLUDED.refresh_error_count`

// Postgres is a Store backed by the catalog_items table.
type Postgres struct {
	pool PgxIface
}

// NewPostgres wraps a pool or any PgxIface.
func NewPostgres(pool PgxIface) *Postgres {
	return &Postgres{pool: pool}
}

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (p *Postgres) GetItem(ctx context.Context, itemID string) (*models.CatalogItem, error) {
	item, err := scanItem(p.pool.QueryRow(ctx, getItemSQL, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", itemID, err)
	}
	return item, nil
}

func (p *Postgres) ListStale(ctx context.Context, staleCutoff, retryCutoff time.Time, limit int) ([]*models.CatalogItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, listStaleSQL, staleCutoff, retryCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale items: %w", err)
	}
	defer rows.Close()

	var items []*models.CatalogItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale items: %w", err)
	}
	return items, nil
}

func (p *Postgres) Save(ctx context.Context, item *models.CatalogItem) error {
	if item == nil || item.ItemID == "" {
		return errors.New("save catalog item: missing item id")
	}
	_, err := p.pool.Exec(ctx, saveItemSQL,
		item.ItemID, string(item.Category), item.Title, item.ImageURL, item.Year,
		item.Attr1, item.Attr2, item.Attr3, item.Description, item.Rating,
		item.LastRefreshedAt, item.LastRefreshAttemptAt, item.RefreshErrorCount,
	)
	if err != nil {
		return fmt.Errorf("save item %s: %w", item.ItemID, err)
	}
	return nil
}

func scanItem(row pgx.Row) (*models.CatalogItem, error) {
	var (
		item     models.CatalogItem
		category string
	)
	err := row.Scan(
		&item.ItemID, &category, &item.Title, &item.ImageURL, &item.Year,
		&item.Attr1, &item.Attr2, &item.Attr3, &item.Description, &item.Rating,
		&item.LastRefreshedAt, &item.LastRefreshAttemptAt, &item.RefreshErrorCount,
	)
	if err != nil {
		return nil, err
	}
	item.Category = models.Category(category)
	return &item, nil
}
