// Package repository implements the typed persistent store adapter.
// Interfaces are defined in interfaces.go; each entity's implementation
// lives in its own file.
package repository

import (
	"errors"

	"talkroom_server/pkg/errorx"

	"gorm.io/gorm"
)

// wrapDBError classifies a gorm error: record-not-found maps to
// CodeNotFound, anything else to CodeInternalServerError.
func wrapDBError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorx.Wrap(err, errorx.CodeNotFound, msg)
	}
	return errorx.Wrap(err, errorx.CodeInternalServerError, msg)
}

func wrapDBErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorx.Wrapf(err, errorx.CodeNotFound, format, args...)
	}
	return errorx.Wrapf(err, errorx.CodeInternalServerError, format, args...)
}

// LoadOption is an abstract eager-load hint. Callers say what they want
// included ("images", "followers"); the repository translates to preloads.
type LoadOption func(tx *gorm.DB) *gorm.DB

// WithProfile eager-loads the owning user profile.
func WithProfile() LoadOption {
	return func(tx *gorm.DB) *gorm.DB { return tx.Preload("UserProfile") }
}

// WithProfileImages eager-loads profile images below the profile.
func WithProfileImages() LoadOption {
	return func(tx *gorm.DB) *gorm.DB { return tx.Preload("UserProfile.Images.Media") }
}

// WithProfileFollowers eager-loads the relationships pointing at the
// profile, for nickname override resolution.
func WithProfileFollowers() LoadOption {
	return func(tx *gorm.DB) *gorm.DB { return tx.Preload("UserProfile.Followers") }
}

// WithImages eager-loads images directly on a profile query.
func WithImages() LoadOption {
	return func(tx *gorm.DB) *gorm.DB { return tx.Preload("Images.Media") }
}

// WithFollowers eager-loads followers directly on a profile query.
func WithFollowers() LoadOption {
	return func(tx *gorm.DB) *gorm.DB { return tx.Preload("Followers") }
}

// WithRoom eager-loads the room on a membership query.
func WithRoom() LoadOption {
	return func(tx *gorm.DB) *gorm.DB { return tx.Preload("Room") }
}

// WithFiles eager-loads history files and their media rows.
func WithFiles() LoadOption {
	return func(tx *gorm.DB) *gorm.DB { return tx.Preload("Files.Media") }
}

// WithReadMarkers eager-loads per-viewer read markers on a history query.
func WithReadMarkers() LoadOption {
	return func(tx *gorm.DB) *gorm.DB { return tx.Preload("UserProfileMapping") }
}

func applyOptions(tx *gorm.DB, opts []LoadOption) *gorm.DB {
	for _, opt := range opts {
		tx = opt(tx)
	}
	return tx
}
