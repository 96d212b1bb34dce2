package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/HanTheDev/art-gateway/internal/db"
)

// Runs against a real database when TEST_DATABASE_URL is set.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	database, err := db.NewDB(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(database.Close)
	if err := database.Migrate(context.Background()); err != nil {
		t.Skipf("postgres not usable: %v", err)
	}
	return NewPostgresStore(database)
}

func TestPostgresStore_PutGetList(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()
	prefix := "test/" + uuid.NewString() + "/"

	data := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	if err := store.Put(ctx, prefix+"a.jpg", data, PutOptions{ContentType: "image/jpeg", CacheControl: HistoryCacheControl}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, prefix+"a.jpg", append(data, 0x01), PutOptions{ContentType: "image/jpeg", CacheControl: HistoryCacheControl}); err != nil {
		t.Fatal(err)
	}

	obj, err := store.Get(ctx, prefix+"a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(obj.Data, append(data, 0x01)) || obj.Size != 5 || obj.ETag != ETag(obj.Data) {
		t.Errorf("unexpected object %+v", obj.ObjectInfo)
	}

	infos, err := store.List(ctx, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Key != prefix+"a.jpg" {
		t.Errorf("List = %+v", infos)
	}

	if _, err := store.Get(ctx, prefix+"missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
