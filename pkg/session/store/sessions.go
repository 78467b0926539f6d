package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/reelhaven/reelhaven/pkg/session"
)

func (s *GORMStore) Create(ctx context.Context, sess *session.Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		if isDuplicateKey(err) {
			return session.ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (s *GORMStore) Get(ctx context.Context, id string) (*session.Session, error) {
	var sess session.Session
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
		return nil, convertNotFound(err)
	}
	return &sess, nil
}

func (s *GORMStore) GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*session.Session, error) {
	var sess session.Session
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND idempotency_key = ?", ownerID, key).
		First(&sess).Error
	if err != nil {
		return nil, convertNotFound(err)
	}
	return &sess, nil
}

func (s *GORMStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*session.Session, error) {
	var sessions []*session.Session
	q := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// AdvanceReceived is the protocol layer's only write path for the received
// high-water mark. The guard on (state, received_bytes) makes a duplicate or
// out-of-order append a no-op at the database even if the per-session lock
// is somehow bypassed.
func (s *GORMStore) AdvanceReceived(ctx context.Context, id string, from, to int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess session.Session
		if err := tx.Where("id = ?", id).First(&sess).Error; err != nil {
			return convertNotFound(err)
		}

		updates := map[string]any{
			"received_bytes": to,
			"updated_at":     time.Now().UTC(),
		}
		if to == sess.DeclaredSize {
			updates["state"] = session.StateUploaded
		}

		result := tx.Model(&session.Session{}).
			Where("id = ? AND state = ? AND received_bytes = ?", id, session.StateOpen, from).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return session.ErrConflict
		}
		return nil
	})
}

func (s *GORMStore) CompareAndSetState(ctx context.Context, id string, from, to session.State, touch func(*session.Session)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess session.Session
		if err := tx.Where("id = ?", id).First(&sess).Error; err != nil {
			return convertNotFound(err)
		}
		if sess.State != from {
			return session.ErrConflict
		}

		sess.State = to
		if touch != nil {
			touch(&sess)
		}
		sess.UpdatedAt = time.Now().UTC()

		result := tx.Model(&session.Session{}).
			Where("id = ? AND state = ?", id, from).
			Select("*").
			Omit("id", "created_at").
			Updates(&sess)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return session.ErrConflict
		}
		return nil
	})
}

func (s *GORMStore) SetFailed(ctx context.Context, id, errorCode string) error {
	result := s.db.WithContext(ctx).Model(&session.Session{}).
		Where("id = ? AND state NOT IN ?", id,
			[]session.State{session.StateFailed, session.StateAborted, session.StateHDReady}).
		Updates(map[string]any{
			"state":      session.StateFailed,
			"error_code": errorCode,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Already terminal: failed twice is idempotent, anything else is a
		// conflict the caller may want to know about.
		sess, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if sess.State == session.StateFailed {
			return nil
		}
		return session.ErrConflict
	}
	return nil
}

func (s *GORMStore) AppendWarning(ctx context.Context, id, warning string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess session.Session
		if err := tx.Where("id = ?", id).First(&sess).Error; err != nil {
			return convertNotFound(err)
		}
		combined := warning
		if sess.Warning != "" {
			combined = sess.Warning + "; " + warning
		}
		return tx.Model(&sess).Update("warning", combined).Error
	})
}

func (s *GORMStore) SetPinRecord(ctx context.Context, id, contentAddress string, size int64, verifiedAt *time.Time) error {
	result := s.db.WithContext(ctx).Model(&session.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"content_address": contentAddress,
			"pin_size":        size,
			"pin_verified_at": verifiedAt,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *GORMStore) SetManifestPath(ctx context.Context, id, path string) error {
	result := s.db.WithContext(ctx).Model(&session.Session{}).
		Where("id = ?", id).
		Update("manifest_path", path)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *GORMStore) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*session.Session, error) {
	var sessions []*session.Session
	q := s.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?",
			[]session.State{session.StateFailed, session.StateAborted, session.StateHDReady},
			cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *GORMStore) ListByStates(ctx context.Context, states []session.State, cutoff time.Time, limit int) ([]*session.Session, error) {
	var sessions []*session.Session
	q := s.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", states, cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *GORMStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&session.Rendition{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&session.Session{}).Error
	})
}
