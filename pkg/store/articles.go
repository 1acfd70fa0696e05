package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	articlesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celebwire_articles_ingested_total",
		Help: "Articles processed during ingestion by outcome",
	}, []string{"outcome"})
)

// Incoming is a fetched item handed to the store for ingestion.
type Incoming struct {
	EntityID    string
	URL         string
	Title       string
	Description string
	ImageURL    string
	Source      string
	PublishedAt time.Time
}

// IngestResult counts the outcomes of one ingestion pass.
type IngestResult struct {
	New        int
	Duplicates int
	Failed     int
}

// Stored returns the number of items that now exist in the store,
// whether written by this pass or by an earlier one.
func (r IngestResult) Stored() int {
	return r.New + r.Duplicates
}

// IngestArticles writes a batch of fetched items, skipping any whose
// identity key is already present. The operation is idempotent:
// re-ingesting the same items produces zero new rows. A malformed item
// is counted as failed and does not abort the rest of the batch.
func (db *DB) IngestArticles(ctx context.Context, items []Incoming) (IngestResult, error) {
	var result IngestResult
	if len(items) == 0 {
		return result, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO articles
			(identity_key, entity_id, url, title, description, image_url, source, published_at, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return result, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, item := range items {
		key, err := IdentityKey(item.URL)
		if err != nil {
			result.Failed++
			continue
		}

		res, err := stmt.ExecContext(ctx, key, item.EntityID, item.URL, item.Title,
			item.Description, item.ImageURL, item.Source, item.PublishedAt.UTC(), now)
		if err != nil {
			result.Failed++
			continue
		}

		affected, err := res.RowsAffected()
		if err != nil {
			result.Failed++
			continue
		}
		if affected == 0 {
			result.Duplicates++
		} else {
			result.New++
		}
	}

	if err := tx.Commit(); err != nil {
		return IngestResult{Failed: len(items)}, fmt.Errorf("committing ingestion: %w", err)
	}

	articlesIngestedTotal.WithLabelValues("new").Add(float64(result.New))
	articlesIngestedTotal.WithLabelValues("duplicate").Add(float64(result.Duplicates))
	articlesIngestedTotal.WithLabelValues("failed").Add(float64(result.Failed))
	return result, nil
}

// ArticlesByEntity returns the newest stored articles for one entity.
func (db *DB) ArticlesByEntity(ctx context.Context, entityID string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, identity_key, entity_id, url, title, description, image_url, source, published_at, collected_at
		FROM articles WHERE entity_id = ?
		ORDER BY published_at DESC LIMIT ?`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// RecentArticles returns the newest stored articles across all entities.
func (db *DB) RecentArticles(ctx context.Context, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, identity_key, entity_id, url, title, description, image_url, source, published_at, collected_at
		FROM articles
		ORDER BY published_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// EntityCount is the article volume for one entity.
type EntityCount struct {
	EntityID string `json:"entity_id"`
	Articles int    `json:"articles"`
}

// TrendingEntities ranks entities by article volume since the given
// time. Unattributed articles are excluded.
func (db *DB) TrendingEntities(ctx context.Context, since time.Time, limit int) ([]EntityCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT entity_id, COUNT(*) AS n
		FROM articles
		WHERE entity_id != '' AND collected_at >= ?
		GROUP BY entity_id
		ORDER BY n DESC, entity_id ASC
		LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying trending entities: %w", err)
	}
	defer rows.Close()

	var counts []EntityCount
	for rows.Next() {
		var c EntityCount
		if err := rows.Scan(&c.EntityID, &c.Articles); err != nil {
			return nil, fmt.Errorf("scanning trending row: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ArticleCount returns the number of stored articles.
func (db *DB) ArticleCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting articles: %w", err)
	}
	return count, nil
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		var a Article
		var description, imageURL, source sql.NullString
		var publishedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.IdentityKey, &a.EntityID, &a.URL, &a.Title,
			&description, &imageURL, &source, &publishedAt, &a.CollectedAt); err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		a.Description = description.String
		a.ImageURL = imageURL.String
		a.Source = source.String
		if publishedAt.Valid {
			a.PublishedAt = publishedAt.Time
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
