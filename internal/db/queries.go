package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/HanTheDev/art-gateway/internal/models"
)

// ObjectRow is one stored artifact.
type ObjectRow struct {
	Key          string
	Data         []byte
	ContentType  string
	CacheControl string
	ETag         string
	Size         int64
}

func (db *DB) PutObject(ctx context.Context, obj *ObjectRow) error {
	query := `
        INSERT INTO art_objects (key, data, content_type, cache_control, etag, size, uploaded_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (key) DO UPDATE
        SET data = EXCLUDED.data,
            content_type = EXCLUDED.content_type,
            cache_control = EXCLUDED.cache_control,
            etag = EXCLUDED.etag,
            size = EXCLUDED.size,
            uploaded_at = NOW()
    `

	_, err := db.Pool.Exec(ctx, query,
		obj.Key,
		obj.Data,
		obj.ContentType,
		obj.CacheControl,
		obj.ETag,
		obj.Size,
	)

	return err
}

func (db *DB) GetObject(ctx context.Context, key string) (*models.StoredObject, error) {
	query := `
        SELECT key, data, content_type, cache_control, etag, size, uploaded_at
        FROM art_objects
        WHERE key = $1
    `

	var obj models.StoredObject
	err := db.Pool.QueryRow(ctx, query, key).Scan(
		&obj.Key,
		&obj.Data,
		&obj.ContentType,
		&obj.CacheControl,
		&obj.ETag,
		&obj.Size,
		&obj.UploadedAt,
	)

	if err != nil {
		return nil, err
	}

	return &obj, nil
}

// ListObjects returns metadata for keys starting with prefix, newest first.
func (db *DB) ListObjects(ctx context.Context, prefix string) ([]models.StoredObject, error) {
	query := `
        SELECT key, content_type, cache_control, etag, size, uploaded_at
        FROM art_objects
        WHERE starts_with(key, $1)
        ORDER BY uploaded_at DESC
    `

	rows, err := db.Pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []models.StoredObject
	for rows.Next() {
		var obj models.StoredObject
		if err := rows.Scan(
			&obj.Key,
			&obj.ContentType,
			&obj.CacheControl,
			&obj.ETag,
			&obj.Size,
			&obj.UploadedAt,
		); err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}

	return objects, rows.Err()
}

func (db *DB) LogGeneration(ctx context.Context, log *models.GenerationLog) error {
	query := `
        INSERT INTO generation_logs (request_id, client, prompt, provider, outcome, status_code, history_key, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
    `

	_, err := db.Pool.Exec(ctx, query,
		log.RequestID,
		log.Client,
		log.Prompt,
		log.Provider,
		log.Outcome,
		log.StatusCode,
		log.HistoryKey,
		log.DurationMs,
	)

	return err
}

func (db *DB) RecentGenerations(ctx context.Context, limit int) ([]models.GenerationLog, error) {
	query := `
        SELECT id, request_id, client, prompt, provider, outcome, status_code, COALESCE(history_key, ''), duration_ms, created_at
        FROM generation_logs
        ORDER BY created_at DESC
        LIMIT $1
    `

	rows, err := db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.GenerationLog, error) {
		var l models.GenerationLog
		err := row.Scan(
			&l.ID,
			&l.RequestID,
			&l.Client,
			&l.Prompt,
			&l.Provider,
			&l.Outcome,
			&l.StatusCode,
			&l.HistoryKey,
			&l.DurationMs,
			&l.CreatedAt,
		)
		return l, err
	})
	if err != nil {
		return nil, err
	}

	return logs, nil
}

// IsNoRows reports whether err means the row does not exist.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
