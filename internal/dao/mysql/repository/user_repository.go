package repository

import (
	"time"

	"talkroom_server/internal/model"

	"gorm.io/gorm"
)

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates the account repository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *model.User) error {
	if err := r.db.Create(user).Error; err != nil {
		return wrapDBErrorf(err, "create user uid=%s", user.Uid)
	}
	return nil
}

func (r *userRepository) FindByUid(uid string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("uid = ?", uid).First(&user).Error; err != nil {
		return nil, wrapDBErrorf(err, "find user uid=%s", uid)
	}
	return &user, nil
}

func (r *userRepository) FindByID(id int64) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, wrapDBErrorf(err, "find user id=%d", id)
	}
	return &user, nil
}

func (r *userRepository) UpdateLastLogin(id int64) error {
	res := r.db.Model(&model.User{}).Where("id = ?", id).Update("last_login", time.Now())
	if res.Error != nil {
		return wrapDBErrorf(res.Error, "update last_login id=%d", id)
	}
	return nil
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates the login session repository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(session *model.UserSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return wrapDBError(err, "create user session")
	}
	return nil
}

func (r *sessionRepository) FindBySessionID(sessionID string) (*model.UserSession, error) {
	var session model.UserSession
	if err := r.db.Preload("User").Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, wrapDBErrorf(err, "find session %s", sessionID)
	}
	return &session, nil
}

func (r *sessionRepository) DeleteBySessionID(sessionID string) error {
	res := r.db.Where("session_id = ?", sessionID).Delete(&model.UserSession{})
	if res.Error != nil {
		return wrapDBErrorf(res.Error, "delete session %s", sessionID)
	}
	return nil
}
