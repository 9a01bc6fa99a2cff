package model

import "gorm.io/gorm"

// Room types.
const (
	RoomTypeOneToOne int8 = iota + 1
	RoomTypeGroup
)

// History types.
const (
	HistoryTypeMessage int8 = iota + 1
	HistoryTypeFile
	HistoryTypeNotice
)

// HistoryTypeName returns the lowercase wire name of a history type.
func HistoryTypeName(t int8) string {
	switch t {
	case HistoryTypeMessage:
		return "message"
	case HistoryTypeFile:
		return "file"
	case HistoryTypeNotice:
		return "notice"
	default:
		return ""
	}
}

// HistoryTypeValue is the inverse of HistoryTypeName; unknown names
// return 0.
func HistoryTypeValue(name string) int8 {
	switch name {
	case "message":
		return HistoryTypeMessage
	case "file":
		return HistoryTypeFile
	case "notice":
		return HistoryTypeNotice
	default:
		return 0
	}
}

// ChatRoom is a conversation. Deactivation is one-way: once the last
// member leaves, IsActive flips to false and never back for this id.
type ChatRoom struct {
	gorm.Model

	Name     *string `gorm:"column:name;type:varchar(64)"`
	Type     int8    `gorm:"column:type;not null;default:2"`
	IsActive bool    `gorm:"column:is_active;not null;default:true"`

	Memberships []ChatRoomUserAssociation `gorm:"foreignKey:RoomID"`
}

func (ChatRoom) TableName() string { return "chat_rooms" }

// ChatRoomUserAssociation links one profile into one room; the pair is
// unique. RoomName is a per-member display override.
type ChatRoomUserAssociation struct {
	gorm.Model

	RoomID        uint   `gorm:"column:room_id;not null;uniqueIndex:uniq_room_profile"`
	UserProfileID uint   `gorm:"column:user_profile_id;not null;uniqueIndex:uniq_room_profile"`
	RoomName      string `gorm:"column:room_name;type:varchar(64)"`

	Room        *ChatRoom    `gorm:"foreignKey:RoomID"`
	UserProfile *UserProfile `gorm:"foreignKey:UserProfileID"`
}

func (ChatRoomUserAssociation) TableName() string { return "chat_room_user_association" }

// ChatHistory is one history entry. RedisID is the stable cross-layer
// identity: generated in-handler before the DB assigns ID, carried by
// every cache entry, and used by patch to reconcile cache and DB.
type ChatHistory struct {
	gorm.Model

	RedisID       string  `gorm:"column:redis_id;uniqueIndex;type:char(32);not null"`
	RoomID        uint    `gorm:"column:room_id;index;not null"`
	UserProfileID uint    `gorm:"column:user_profile_id;index;not null"`
	Contents      *string `gorm:"column:contents;type:text"`
	Type          int8    `gorm:"column:type;not null"`
	IsActive      bool    `gorm:"column:is_active;not null;default:true"`

	Room               *ChatRoom                    `gorm:"foreignKey:RoomID"`
	UserProfile        *UserProfile                 `gorm:"foreignKey:UserProfileID"`
	UserProfileMapping []ChatHistoryUserAssociation `gorm:"foreignKey:HistoryID"`
	Files              []ChatHistoryFile            `gorm:"foreignKey:ChatHistoryID"`
}

func (ChatHistory) TableName() string { return "chat_histories" }

// ChatHistoryUserAssociation is a per-viewer read marker.
type ChatHistoryUserAssociation struct {
	gorm.Model

	HistoryID     uint `gorm:"column:history_id;not null;uniqueIndex:uniq_history_profile"`
	UserProfileID uint `gorm:"column:user_profile_id;not null;uniqueIndex:uniq_history_profile"`
	IsRead        bool `gorm:"column:is_read;not null;default:false"`
}

func (ChatHistoryUserAssociation) TableName() string { return "chat_history_user_association" }
