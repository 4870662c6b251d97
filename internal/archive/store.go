package archive

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type store interface {
	SaveBatch(ctx context.Context, records []Record) error
}

type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm connection as an archive store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the archive table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Record{})
}

// SaveBatch inserts records, skipping eventIds already archived.
func (s *Store) SaveBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&records).Error
}
