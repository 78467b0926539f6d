package draft

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMStore implements Store over a shared GORM handle. The handle comes
// from the session store so drafts live in the same database; the postgres
// schema is created by the session migrations, SQLite by auto-migration
// here.
type GORMStore struct {
	db *gorm.DB
}

// NewGORMStore wraps an existing GORM handle and ensures the drafts table
// exists.
func NewGORMStore(db *gorm.DB) (*GORMStore, error) {
	if err := db.AutoMigrate(&Draft{}); err != nil {
		return nil, fmt.Errorf("drafts auto-migration failed: %w", err)
	}
	return &GORMStore{db: db}, nil
}

func (s *GORMStore) Save(ctx context.Context, id, ownerID string, m Metadata) error {
	if err := m.Validate(); err != nil {
		return err
	}

	d := Draft{ID: id, OwnerID: ownerID}
	d.Apply(m)

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "description", "tags", "visibility", "category", "updated_at",
			}),
		}).
		Create(&d).Error
}

func (s *GORMStore) Get(ctx context.Context, id string) (*Draft, error) {
	var d Draft
	err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *GORMStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Draft{}, "id = ?", id).Error
}

var _ Store = (*GORMStore)(nil)
