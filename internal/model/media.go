package model

import "gorm.io/gorm"

// Profile image types.
const (
	ImageTypeProfile int8 = iota + 1
	ImageTypeBackground
)

// S3Media is the shared base record for stored file bodies. Subtype rows
// (profile images, history files) reference it by Uid.
type S3Media struct {
	gorm.Model

	Uid         string `gorm:"column:uid;uniqueIndex;type:varchar(32);not null"`
	OriginUid   string `gorm:"column:origin_uid;type:varchar(32)"`
	Bucket      string `gorm:"column:bucket;type:varchar(64);not null"`
	Filename    string `gorm:"column:filename;type:varchar(255);not null"`
	Filepath    string `gorm:"column:filepath;type:varchar(255);not null"`
	ContentType string `gorm:"column:content_type;type:varchar(128);not null"`
	UploadedBy  uint   `gorm:"column:uploaded_by"`
	IsActive    bool   `gorm:"column:is_active;not null;default:true"`
}

func (S3Media) TableName() string { return "s3_media" }

// ChatHistoryFile attaches one stored body to a history entry. Order is a
// dense 1-based sequence within the history.
type ChatHistoryFile struct {
	gorm.Model

	Uid           string `gorm:"column:uid;index;type:varchar(32);not null"`
	ChatHistoryID uint   `gorm:"column:chat_history_id;not null;uniqueIndex:uniq_history_order"`
	Order         int    `gorm:"column:file_order;not null;uniqueIndex:uniq_history_order"`

	Media *S3Media `gorm:"foreignKey:Uid;references:Uid"`
}

func (ChatHistoryFile) TableName() string { return "chat_history_files" }

// UserProfileImage attaches one stored body to a profile.
type UserProfileImage struct {
	gorm.Model

	Uid           string `gorm:"column:uid;index;type:varchar(32);not null"`
	UserProfileID uint   `gorm:"column:user_profile_id;index;not null"`
	Type          int8   `gorm:"column:type;not null;default:1"`
	IsDefault     bool   `gorm:"column:is_default;not null;default:false"`

	Media *S3Media `gorm:"foreignKey:Uid;references:Uid"`
}

func (UserProfileImage) TableName() string { return "user_profile_images" }
