package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	backend := NewSQLiteBackend(db)
	if err := backend.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return backend
}

func TestSQLiteBackendWriteReadRemove(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()
	id := StorageID("api_response:customers")

	if _, err := backend.Read(ctx, id); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("Read() before write error = %v, want ErrSlotNotFound", err)
	}

	if err := backend.Write(ctx, id, []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := backend.Write(ctx, id, []byte("v2"), time.Minute); err != nil {
		t.Fatalf("Write(update) error = %v", err)
	}

	got, err := backend.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("Read() = %q, want v2", got)
	}

	if err := backend.Remove(ctx, id); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := backend.Remove(ctx, id); err != nil {
		t.Fatalf("Remove(again) error = %v", err)
	}
	if _, err := backend.Read(ctx, id); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("Read() after remove error = %v, want ErrSlotNotFound", err)
	}
}

func TestSQLiteBackendRejectsEmptyID(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	if err := backend.Write(ctx, " ", []byte("v"), 0); err == nil {
		t.Fatalf("Write() expected error for empty id")
	}
	if _, err := backend.Read(ctx, ""); err == nil || errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("Read() expected validation error for empty id, got %v", err)
	}
}

func TestSQLiteBackendServesStore(t *testing.T) {
	backend := setupSQLiteBackend(t)
	clock := newFakeClock()
	store := NewStore(backend, Options{Name: "responses", Compress: true, Now: clock.Now})
	ctx := context.Background()

	if !store.Set(ctx, "a", "alpha", time.Minute) || !store.Set(ctx, "b", "beta", time.Hour) {
		t.Fatalf("Set() expected success")
	}

	ids, err := backend.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("List() = %v, want 2 ids", ids)
	}

	clock.Advance(2 * time.Minute)
	report := store.GC(ctx)
	if report.Expired != 1 || report.Scanned != 2 {
		t.Fatalf("GC() = %+v, want 1 expired of 2 scanned", report)
	}
	if got := GetOr(ctx, store, "b", ""); got != "beta" {
		t.Fatalf("Get(b) = %q, want beta", got)
	}

	if !store.Clear(ctx) {
		t.Fatalf("Clear() expected success")
	}
	ids, err = backend.List(ctx)
	if err != nil {
		t.Fatalf("List() after clear error = %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("List() after clear = %v, want empty", ids)
	}
}
