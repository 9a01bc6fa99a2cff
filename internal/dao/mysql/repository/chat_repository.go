package repository

import (
	"talkroom_server/internal/model"

	"gorm.io/gorm"
)

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository creates the chat room repository.
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(room *model.ChatRoom) error {
	if err := r.db.Create(room).Error; err != nil {
		return wrapDBError(err, "create chat room")
	}
	return nil
}

func (r *roomRepository) FindByID(id int64) (*model.ChatRoom, error) {
	var room model.ChatRoom
	if err := r.db.First(&room, id).Error; err != nil {
		return nil, wrapDBErrorf(err, "find room id=%d", id)
	}
	return &room, nil
}

func (r *roomRepository) SetInactive(id int64) error {
	res := r.db.Model(&model.ChatRoom{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return wrapDBErrorf(res.Error, "deactivate room id=%d", id)
	}
	return nil
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository creates the room membership repository.
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) Create(assoc *model.ChatRoomUserAssociation) error {
	if err := r.db.Create(assoc).Error; err != nil {
		return wrapDBErrorf(err, "create membership room=%d profile=%d", assoc.RoomID, assoc.UserProfileID)
	}
	return nil
}

func (r *membershipRepository) BulkCreate(assocs []model.ChatRoomUserAssociation) error {
	if len(assocs) == 0 {
		return nil
	}
	if err := r.db.Create(&assocs).Error; err != nil {
		return wrapDBError(err, "bulk create memberships")
	}
	return nil
}

func (r *membershipRepository) FindByRoomID(roomID int64, opts ...LoadOption) ([]model.ChatRoomUserAssociation, error) {
	var assocs []model.ChatRoomUserAssociation
	tx := applyOptions(r.db, opts)
	if err := tx.Where("room_id = ?", roomID).Find(&assocs).Error; err != nil {
		return nil, wrapDBErrorf(err, "find memberships room_id=%d", roomID)
	}
	return assocs, nil
}

func (r *membershipRepository) FindByProfileID(profileID int64, opts ...LoadOption) ([]model.ChatRoomUserAssociation, error) {
	var assocs []model.ChatRoomUserAssociation
	tx := applyOptions(r.db, opts)
	if err := tx.Where("user_profile_id = ?", profileID).Find(&assocs).Error; err != nil {
		return nil, wrapDBErrorf(err, "find memberships profile_id=%d", profileID)
	}
	return assocs, nil
}

func (r *membershipRepository) Delete(roomID, profileID int64) error {
	res := r.db.Where("room_id = ? AND user_profile_id = ?", roomID, profileID).
		Delete(&model.ChatRoomUserAssociation{})
	if res.Error != nil {
		return wrapDBErrorf(res.Error, "delete membership room=%d profile=%d", roomID, profileID)
	}
	return nil
}

type historyRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates the chat history repository.
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Create(history *model.ChatHistory) error {
	if err := r.db.Create(history).Error; err != nil {
		return wrapDBErrorf(err, "create history redis_id=%s", history.RedisID)
	}
	return nil
}

func (r *historyRepository) ListByRoom(roomID int64, offset, limit int, opts ...LoadOption) ([]model.ChatHistory, error) {
	var histories []model.ChatHistory
	tx := applyOptions(r.db, opts)
	err := tx.Where("room_id = ?", roomID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&histories).Error
	if err != nil {
		return nil, wrapDBErrorf(err, "list histories room_id=%d", roomID)
	}
	return histories, nil
}

func (r *historyRepository) FindByRedisIDs(redisIDs []string, opts ...LoadOption) ([]model.ChatHistory, error) {
	if len(redisIDs) == 0 {
		return nil, nil
	}
	var histories []model.ChatHistory
	tx := applyOptions(r.db, opts)
	if err := tx.Where("redis_id IN ?", redisIDs).Find(&histories).Error; err != nil {
		return nil, wrapDBError(err, "find histories by redis ids")
	}
	return histories, nil
}

func (r *historyRepository) UpdateByRedisIDs(redisIDs []string, values map[string]any) error {
	if len(redisIDs) == 0 || len(values) == 0 {
		return nil
	}
	res := r.db.Model(&model.ChatHistory{}).Where("redis_id IN ?", redisIDs).Updates(values)
	if res.Error != nil {
		return wrapDBError(res.Error, "update histories by redis ids")
	}
	return nil
}

func (r *historyRepository) BulkCreateReadMarkers(markers []model.ChatHistoryUserAssociation) error {
	if len(markers) == 0 {
		return nil
	}
	if err := r.db.Create(&markers).Error; err != nil {
		return wrapDBError(err, "bulk create read markers")
	}
	return nil
}

func (r *historyRepository) MarkRead(markerIDs []int64) error {
	if len(markerIDs) == 0 {
		return nil
	}
	res := r.db.Model(&model.ChatHistoryUserAssociation{}).
		Where("id IN ?", markerIDs).Update("is_read", true)
	if res.Error != nil {
		return wrapDBError(res.Error, "mark read")
	}
	return nil
}

func (r *historyRepository) CreateFiles(files []model.ChatHistoryFile) error {
	if len(files) == 0 {
		return nil
	}
	if err := r.db.Create(&files).Error; err != nil {
		return wrapDBError(err, "create history files")
	}
	return nil
}

type mediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository creates the media repository.
func NewMediaRepository(db *gorm.DB) MediaRepository {
	return &mediaRepository{db: db}
}

func (r *mediaRepository) CreateMedia(media *model.S3Media) error {
	if err := r.db.Create(media).Error; err != nil {
		return wrapDBErrorf(err, "create media uid=%s", media.Uid)
	}
	return nil
}

func (r *mediaRepository) CreateProfileImage(image *model.UserProfileImage) error {
	if err := r.db.Create(image).Error; err != nil {
		return wrapDBErrorf(err, "create profile image uid=%s", image.Uid)
	}
	return nil
}

func (r *mediaRepository) FindMediaByUids(uids []string) ([]model.S3Media, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	var media []model.S3Media
	if err := r.db.Where("uid IN ?", uids).Find(&media).Error; err != nil {
		return nil, wrapDBError(err, "find media by uids")
	}
	return media, nil
}

func (r *mediaRepository) FindImagesByProfileIDs(profileIDs []int64, onlyDefault bool) ([]model.UserProfileImage, error) {
	if len(profileIDs) == 0 {
		return nil, nil
	}
	var images []model.UserProfileImage
	tx := r.db.Preload("Media").Where("user_profile_id IN ?", profileIDs)
	if onlyDefault {
		tx = tx.Where("is_default = ?", true)
	}
	if err := tx.Find(&images).Error; err != nil {
		return nil, wrapDBError(err, "find profile images")
	}
	return images, nil
}
