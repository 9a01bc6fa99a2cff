// Package model defines the gorm entities backing the chat service.
package model

import (
	"database/sql"

	"gorm.io/gorm"
)

// User is an account. Accounts are never destroyed; deactivation is a flag.
type User struct {
	gorm.Model

	Uid         string       `gorm:"column:uid;uniqueIndex;type:varchar(128);not null"`
	Password    string       `gorm:"column:password;type:varchar(128);not null"` // bcrypt hash
	Name        string       `gorm:"column:name;type:varchar(64);not null"`
	Mobile      string       `gorm:"column:mobile;type:varchar(32)"`
	Email       string       `gorm:"column:email;type:varchar(128)"`
	LastLogin   sql.NullTime `gorm:"column:last_login"`
	IsActive    bool         `gorm:"column:is_active;not null;default:true"`
	IsSuperuser bool         `gorm:"column:is_superuser;not null;default:false"`

	Profiles []UserProfile `gorm:"foreignKey:UserID"`
	Sessions []UserSession `gorm:"foreignKey:UserID"`
}

func (User) TableName() string { return "users" }

// UserProfile is a user's persona inside rooms. Exactly one profile per
// user carries IsDefault.
type UserProfile struct {
	gorm.Model

	UserID        uint   `gorm:"column:user_id;index;not null"`
	IdentityID    string `gorm:"column:identity_id;uniqueIndex;type:varchar(128);not null"`
	Nickname      string `gorm:"column:nickname;type:varchar(64);not null"`
	StatusMessage string `gorm:"column:status_message;type:varchar(255)"`
	IsDefault     bool   `gorm:"column:is_default;not null;default:false"`
	IsActive      bool   `gorm:"column:is_active;not null;default:true"`

	User      *User              `gorm:"foreignKey:UserID"`
	Images    []UserProfileImage `gorm:"foreignKey:UserProfileID"`
	Followers []UserRelationship `gorm:"foreignKey:OtherProfileID"`
}

func (UserProfile) TableName() string { return "user_profiles" }

// NicknameFor resolves the nickname another profile sees for this one:
// the viewer's relationship override when present, the profile's own
// nickname otherwise. Followers must be preloaded.
func (p *UserProfile) NicknameFor(viewerProfileID int64) string {
	for i := range p.Followers {
		r := &p.Followers[i]
		if int64(r.MyProfileID) == viewerProfileID && r.OtherProfileNickname != "" {
			return r.OtherProfileNickname
		}
	}
	return p.Nickname
}

// Relationship types.
const (
	RelationshipFriend int8 = iota + 1
	RelationshipFamily
)

// UserRelationship is a directed edge: my profile's view of another
// profile, including a nickname override. The pair is unique.
type UserRelationship struct {
	gorm.Model

	MyProfileID          uint   `gorm:"column:my_profile_id;not null;uniqueIndex:uniq_relationship"`
	OtherProfileID       uint   `gorm:"column:other_profile_id;not null;uniqueIndex:uniq_relationship"`
	OtherProfileNickname string `gorm:"column:other_profile_nickname;type:varchar(64)"`
	Type                 int8   `gorm:"column:type;not null;default:1"`
	Favorites            bool   `gorm:"column:favorites;not null;default:false"`
	IsHidden             bool   `gorm:"column:is_hidden;not null;default:false"`
	IsForbidden          bool   `gorm:"column:is_forbidden;not null;default:false"`

	OtherProfile *UserProfile `gorm:"foreignKey:OtherProfileID"`
}

func (UserRelationship) TableName() string { return "user_relationships" }

// UserSession is an issued login session; its uuid is what the signed
// cookie carries.
type UserSession struct {
	gorm.Model

	SessionID string       `gorm:"column:session_id;uniqueIndex;type:char(36);not null"`
	UserID    uint         `gorm:"column:user_id;index;not null"`
	ExpiresAt sql.NullTime `gorm:"column:expires_at"`

	User *User `gorm:"foreignKey:UserID"`
}

func (UserSession) TableName() string { return "user_sessions" }
