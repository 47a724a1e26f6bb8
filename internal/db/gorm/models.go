package gorm

// KVEntry is one key-value row. The value is replaced as a whole on every write.
type KVEntry struct {
	Key            string `gorm:"primaryKey;type:text"`
	Value          []byte `gorm:"type:bytea;not null"`
	UpdatedAtEpoch int64  `gorm:"index:idx_kv_entries_updated,sort:desc;not null"`
}

func (KVEntry) TableName() string { return "kv_entries" }
