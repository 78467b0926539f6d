// Package draft stores the video metadata a creator edits while their upload
// is still in flight. Drafts live next to the session so the edit form works
// from the first byte, long before the video is playable.
package draft

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a draft does not exist.
var ErrNotFound = errors.New("draft not found")

// Visibility values a draft can carry.
const (
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
	VisibilityPrivate  = "private"
)

// Metadata is the editable part of a draft.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`
	Category    string   `json:"category,omitempty"`
}

// Validate checks field limits before a draft is persisted.
func (m *Metadata) Validate() error {
	if len(m.Title) > 255 {
		return errors.New("title exceeds 255 characters")
	}
	if len(m.Description) > 10000 {
		return errors.New("description exceeds 10000 characters")
	}
	switch m.Visibility {
	case "", VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
	default:
		return errors.New("visibility must be public, unlisted or private")
	}
	return nil
}

// Draft is the persisted form of Metadata.
type Draft struct {
	ID          string `gorm:"primaryKey;size:36"`
	OwnerID     string `gorm:"size:255;not null;index"`
	Title       string `gorm:"size:255"`
	Description string
	Tags        string `gorm:"type:text"` // comma-joined
	Visibility  string `gorm:"size:32"`
	Category    string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides the GORM default.
func (Draft) TableName() string {
	return "upload_drafts"
}

// Apply copies metadata onto the persisted draft.
func (d *Draft) Apply(m Metadata) {
	d.Title = m.Title
	d.Description = m.Description
	d.Tags = strings.Join(m.Tags, ",")
	d.Visibility = m.Visibility
	d.Category = m.Category
}

// Metadata converts the persisted draft back to its editable form.
func (d *Draft) Metadata() Metadata {
	var tags []string
	if d.Tags != "" {
		tags = strings.Split(d.Tags, ",")
	}
	return Metadata{
		Title:       d.Title,
		Description: d.Description,
		Tags:        tags,
		Visibility:  d.Visibility,
		Category:    d.Category,
	}
}

// Store persists drafts.
type Store interface {
	// Save creates the draft or overwrites its metadata.
	Save(ctx context.Context, id, ownerID string, m Metadata) error

	// Get returns the draft by ID.
	Get(ctx context.Context, id string) (*Draft, error)

	// Delete removes the draft. Missing drafts are ignored.
	Delete(ctx context.Context, id string) error
}
