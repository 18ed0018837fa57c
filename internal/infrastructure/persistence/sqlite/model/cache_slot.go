package model

// CacheSlot is one cache entry when the slot backend is SQLite. Data holds
// the encoded slot exactly as the file backend would write it.
type CacheSlot struct {
	ID        string `gorm:"column:id;type:text;primaryKey"`
	Data      []byte `gorm:"column:data;type:blob;not null"`
	UpdatedAt string `gorm:"column:updated_at;type:text;not null"`
}

func (CacheSlot) TableName() string {
	return "cache_slots"
}
