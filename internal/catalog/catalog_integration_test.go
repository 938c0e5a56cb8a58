//go:build postgres

package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"mindia/internal/catalog"
	"mindia/internal/models"
)

// storeFactory opens a Postgres-backed Store for integration scenarios,
// applying migrations against a database dedicated to automated runs. The
// factory requires MINDIA_TEST_DATABASE_URL to point at a clean database.
func storeFactory(t *testing.T) *catalog.Store {
	t.Helper()
	dsn := os.Getenv("MINDIA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MINDIA_TEST_DATABASE_URL not set, skipping catalog integration test")
	}

	_, thisFile, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
	if err := catalog.Migrate(dsn, migrationsDir); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := catalog.NewPool(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return catalog.NewStore(pool)
}

func TestMediaCRUDRoundTrip(t *testing.T) {
	store := storeFactory(t)
	ctx := context.Background()
	tenantID := models.DefaultTenantID

	created, err := store.CreateMedia(ctx, models.Media{
		TenantID:         tenantID,
		Type:             models.MediaImage,
		Filename:         "photo.jpg",
		OriginalFilename: "photo.jpg",
		ContentType:      "image/jpeg",
		FileSize:         2048,
		UploadedAt:       time.Now().UTC(),
		StorePermanently: true,
		Storage: models.StorageLocation{
			Backend: models.BackendLocal,
			Key:     "tenants/default/photo.jpg",
			URL:     "http://localhost/files/photo.jpg",
		},
	})
	if err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}

	fetched, err := store.GetMedia(ctx, tenantID, created.ID)
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if fetched.Filename != "photo.jpg" {
		t.Fatalf("expected filename to round-trip, got %q", fetched.Filename)
	}

	if err := store.SoftDeleteMedia(ctx, tenantID, created.ID); err != nil {
		t.Fatalf("SoftDeleteMedia: %v", err)
	}
	if _, err := store.GetMedia(ctx, tenantID, created.ID); err == nil {
		t.Fatalf("expected soft-deleted media to no longer be fetchable")
	}
}

func TestFileGroupAddAndListItems(t *testing.T) {
	store := storeFactory(t)
	ctx := context.Background()
	tenantID := models.DefaultTenantID

	group, err := store.CreateFileGroup(ctx, tenantID)
	if err != nil {
		t.Fatalf("CreateFileGroup: %v", err)
	}

	media, err := store.CreateMedia(ctx, models.Media{
		TenantID: tenantID, Type: models.MediaImage, Filename: "a.jpg",
		ContentType: "image/jpeg", UploadedAt: time.Now().UTC(), StorePermanently: true,
		Storage: models.StorageLocation{Backend: models.BackendLocal, Key: "a.jpg"},
	})
	if err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}

	if _, err := store.AddFileGroupItem(ctx, tenantID, group.ID, media.ID); err != nil {
		t.Fatalf("AddFileGroupItem: %v", err)
	}

	items, err := store.ListFileGroupItems(ctx, tenantID, group.ID)
	if err != nil {
		t.Fatalf("ListFileGroupItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}
