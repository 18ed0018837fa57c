package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mpsdash/internal/errs"
	"mpsdash/internal/infrastructure/persistence/sqlite/model"
)

// SQLiteBackend stores slots as rows of cache_slots. The upsert is a single
// statement, which SQLite applies atomically.
type SQLiteBackend struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Backend = (*SQLiteBackend)(nil)

func NewSQLiteBackend(db *gorm.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db, now: time.Now}
}

// Migrate creates the cache_slots table.
func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	if err := b.db.WithContext(ctx).AutoMigrate(&model.CacheSlot{}); err != nil {
		return errs.Wrap(err, "auto migrate cache_slots")
	}
	return nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Read(ctx context.Context, id string) ([]byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("slot id is required")
	}

	var row model.CacheSlot
	if err := b.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, errs.Wrap(err, "query cache slot")
	}
	return row.Data, nil
}

func (b *SQLiteBackend) Write(ctx context.Context, id string, data []byte, _ time.Duration) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("slot id is required")
	}

	row := model.CacheSlot{
		ID:        id,
		Data:      data,
		UpdatedAt: b.now().UTC().Format(time.RFC3339Nano),
	}

	if err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"data":       row.Data,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert cache slot")
	}
	return nil
}

func (b *SQLiteBackend) Remove(ctx context.Context, id string) error {
	if err := b.db.WithContext(ctx).Where("id = ?", id).Delete(&model.CacheSlot{}).Error; err != nil {
		return errs.Wrap(err, "delete cache slot")
	}
	return nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := b.db.WithContext(ctx).Model(&model.CacheSlot{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, errs.Wrap(err, "list cache slots")
	}
	return ids, nil
}
