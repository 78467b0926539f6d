package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/reelhaven/reelhaven/pkg/session"
)

// AcquireLease claims the pipeline lease for the session. A lease is live
// when lease_expires_at is in the future; expired leases are claimable by
// anyone, which is what redelivers work after a worker dies mid-stage.
func (s *GORMStore) AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	now := time.Now().UTC()
	expiry := now.Add(ttl)

	result := s.db.WithContext(ctx).Model(&session.Session{}).
		Where("id = ? AND (lease_owner = ? OR lease_expires_at IS NULL OR lease_expires_at < ?)",
			id, owner, now).
		Updates(map[string]any{
			"lease_owner":      owner,
			"lease_expires_at": expiry,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Either the session is gone or someone else holds a live lease.
		var sess session.Session
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
			return convertNotFound(err)
		}
		return session.ErrLeaseHeld
	}
	return nil
}

// ReleaseLease clears the lease only when owner matches the current holder.
func (s *GORMStore) ReleaseLease(ctx context.Context, id, owner string) error {
	result := s.db.WithContext(ctx).Model(&session.Session{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		Updates(map[string]any{
			"lease_owner":      "",
			"lease_expires_at": gorm.Expr("NULL"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var sess session.Session
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
			return convertNotFound(err)
		}
		if sess.LeaseOwner == "" {
			// Already released (lease expired and was cleaned up).
			return nil
		}
		return session.ErrNotLeaseOwner
	}
	return nil
}
