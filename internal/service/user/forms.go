package user

import "talkroom_server/internal/cache"

// SignUpRequest registers an account with its default profile.
type SignUpRequest struct {
	Uid      string `json:"uid" binding:"required,min=4,max=64"`
	Password string `json:"password" binding:"required,min=8,max=64"`
	Name     string `json:"name" binding:"required,max=64"`
	Nickname string `json:"nickname" binding:"required,max=64"`
	Mobile   string `json:"mobile" binding:"omitempty,max=32"`
	Email    string `json:"email" binding:"omitempty,email"`
}

// LoginRequest authenticates by uid and password.
type LoginRequest struct {
	Uid      string `json:"uid" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ImageUploadRequest attaches one base64 body to a profile.
type ImageUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	Type        string `json:"type" binding:"required,oneof=profile background"`
	IsDefault   bool   `json:"is_default"`
	Data        string `json:"data" binding:"required"`
}

// RelationshipRequest creates a directed relationship edge.
type RelationshipRequest struct {
	OtherProfileID       int64  `json:"other_profile_id" binding:"required"`
	OtherProfileNickname string `json:"other_profile_nickname" binding:"omitempty,max=64"`
	Type                 string `json:"type" binding:"required,oneof=FRIEND FAMILY"`
	Favorites            bool   `json:"favorites"`
}

// UserReply is the account view.
type UserReply struct {
	ID        int64         `json:"id"`
	Uid       string        `json:"uid"`
	Name      string        `json:"name"`
	Email     string        `json:"email,omitempty"`
	Mobile    string        `json:"mobile,omitempty"`
	LastLogin string        `json:"last_login,omitempty"`
	Profiles  []ProfileReply `json:"profiles,omitempty"`
}

// ProfileReply is the profile view with signed image URLs.
type ProfileReply struct {
	ID            int64             `json:"id"`
	IdentityID    string            `json:"identity_id"`
	Nickname      string            `json:"nickname"`
	StatusMessage string            `json:"status_message,omitempty"`
	IsDefault     bool              `json:"is_default"`
	Images        []cache.ImageFile `json:"images"`
}

// LoginReply carries the issued credentials.
type LoginReply struct {
	User        UserReply `json:"user"`
	Cookie      string    `json:"-"`
	AccessToken string    `json:"access_token"`
}
