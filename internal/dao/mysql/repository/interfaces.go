package repository

import (
	"talkroom_server/internal/model"

	"gorm.io/gorm"
)

// UserRepository accesses accounts and login sessions.
type UserRepository interface {
	Create(user *model.User) error
	FindByUid(uid string) (*model.User, error)
	FindByID(id int64) (*model.User, error)
	UpdateLastLogin(id int64) error
}

// UserProfileRepository accesses profiles.
type UserProfileRepository interface {
	Create(profile *model.UserProfile) error
	FindByID(id int64, opts ...LoadOption) (*model.UserProfile, error)
	FindActiveByIDs(ids []int64, opts ...LoadOption) ([]model.UserProfile, error)
	FindByUserID(userID int64) ([]model.UserProfile, error)
	FindDefaultByUserID(userID int64) (*model.UserProfile, error)
}

// RelationshipRepository accesses directed profile relationships.
type RelationshipRepository interface {
	Create(rel *model.UserRelationship) error
	FindByMyProfileID(myProfileID int64, opts ...LoadOption) ([]model.UserRelationship, error)
	SearchByNickname(myProfileID int64, nickname string) ([]model.UserRelationship, error)
}

// RoomRepository accesses chat rooms.
type RoomRepository interface {
	Create(room *model.ChatRoom) error
	FindByID(id int64) (*model.ChatRoom, error)
	SetInactive(id int64) error
}

// MembershipRepository accesses room membership rows.
type MembershipRepository interface {
	Create(assoc *model.ChatRoomUserAssociation) error
	BulkCreate(assocs []model.ChatRoomUserAssociation) error
	FindByRoomID(roomID int64, opts ...LoadOption) ([]model.ChatRoomUserAssociation, error)
	FindByProfileID(profileID int64, opts ...LoadOption) ([]model.ChatRoomUserAssociation, error)
	Delete(roomID, profileID int64) error
}

// HistoryRepository accesses chat histories, read markers, and history
// files.
type HistoryRepository interface {
	Create(history *model.ChatHistory) error
	ListByRoom(roomID int64, offset, limit int, opts ...LoadOption) ([]model.ChatHistory, error)
	FindByRedisIDs(redisIDs []string, opts ...LoadOption) ([]model.ChatHistory, error)
	UpdateByRedisIDs(redisIDs []string, values map[string]any) error
	BulkCreateReadMarkers(markers []model.ChatHistoryUserAssociation) error
	MarkRead(markerIDs []int64) error
	CreateFiles(files []model.ChatHistoryFile) error
}

// MediaRepository accesses the polymorphic media base and subtype rows.
type MediaRepository interface {
	CreateMedia(media *model.S3Media) error
	CreateProfileImage(image *model.UserProfileImage) error
	FindMediaByUids(uids []string) ([]model.S3Media, error)
	FindImagesByProfileIDs(profileIDs []int64, onlyDefault bool) ([]model.UserProfileImage, error)
}

// SessionRepository accesses login sessions.
type SessionRepository interface {
	Create(session *model.UserSession) error
	FindBySessionID(sessionID string) (*model.UserSession, error)
	DeleteBySessionID(sessionID string) error
}

// Repositories aggregates every repository over one gorm handle.
type Repositories struct {
	DB           *gorm.DB
	User         UserRepository
	UserProfile  UserProfileRepository
	Relationship RelationshipRepository
	Room         RoomRepository
	Membership   MembershipRepository
	History      HistoryRepository
	Media        MediaRepository
	Session      SessionRepository
}

// NewRepositories builds the aggregate over a gorm handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:           db,
		User:         NewUserRepository(db),
		UserProfile:  NewUserProfileRepository(db),
		Relationship: NewRelationshipRepository(db),
		Room:         NewRoomRepository(db),
		Membership:   NewMembershipRepository(db),
		History:      NewHistoryRepository(db),
		Media:        NewMediaRepository(db),
		Session:      NewSessionRepository(db),
	}
}

// WithTransaction runs fn against a transactional copy of every
// repository. Rollback on error, commit otherwise.
func (r *Repositories) WithTransaction(fn func(repos *Repositories) error) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
