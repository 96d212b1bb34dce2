package storage

import (
	"context"
	"fmt"

	"github.com/HanTheDev/art-gateway/internal/db"
	"github.com/HanTheDev/art-gateway/internal/models"
)

// PostgresStore keeps objects in the art_objects table.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	err := s.db.PutObject(ctx, &db.ObjectRow{
		Key:          key,
		Data:         data,
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		ETag:         ETag(data),
		Size:         int64(len(data)),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Object, error) {
	row, err := s.db.GetObject(ctx, key)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return &Object{ObjectInfo: infoFromRow(row), Data: row.Data}, nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	rows, err := s.db.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	infos := make([]ObjectInfo, 0, len(rows))
	for i := range rows {
		infos = append(infos, infoFromRow(&rows[i]))
	}
	return infos, nil
}

func infoFromRow(row *models.StoredObject) ObjectInfo {
	return ObjectInfo{
		Key:          row.Key,
		Size:         row.Size,
		ContentType:  row.ContentType,
		CacheControl: row.CacheControl,
		ETag:         row.ETag,
		UploadedAt:   row.UploadedAt,
	}
}
