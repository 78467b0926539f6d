package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/reelhaven/reelhaven/pkg/session"
)

// SaveRendition upserts a rendition record keyed by (session, name).
// Pipeline stages are idempotent, so a redelivered transcode simply
// overwrites its earlier record.
func (s *GORMStore) SaveRendition(ctx context.Context, r *session.Rendition) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing session.Rendition
		err := tx.Where("session_id = ? AND name = ?", r.SessionID, r.Name).
			First(&existing).Error
		if err == nil {
			r.ID = existing.ID
			r.CreatedAt = existing.CreatedAt
			return tx.Model(&existing).
				Select("Width", "Height", "Bitrate", "FPS", "ManifestPath", "SegmentCount", "Status").
				Updates(r).Error
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		return tx.Create(r).Error
	})
}

// ListRenditions returns renditions for a session in ascending bitrate order,
// which is also the order the pipeline produced them in.
func (s *GORMStore) ListRenditions(ctx context.Context, sessionID string) ([]*session.Rendition, error) {
	var renditions []*session.Rendition
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("bitrate ASC").
		Find(&renditions).Error
	if err != nil {
		return nil, err
	}
	return renditions, nil
}
