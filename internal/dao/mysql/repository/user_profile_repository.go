package repository

import (
	"talkroom_server/internal/model"

	"gorm.io/gorm"
)

type userProfileRepository struct {
	db *gorm.DB
}

// NewUserProfileRepository creates the profile repository.
func NewUserProfileRepository(db *gorm.DB) UserProfileRepository {
	return &userProfileRepository{db: db}
}

func (r *userProfileRepository) Create(profile *model.UserProfile) error {
	if err := r.db.Create(profile).Error; err != nil {
		return wrapDBErrorf(err, "create profile identity=%s", profile.IdentityID)
	}
	return nil
}

func (r *userProfileRepository) FindByID(id int64, opts ...LoadOption) (*model.UserProfile, error) {
	var profile model.UserProfile
	tx := applyOptions(r.db, opts)
	if err := tx.First(&profile, id).Error; err != nil {
		return nil, wrapDBErrorf(err, "find profile id=%d", id)
	}
	return &profile, nil
}

func (r *userProfileRepository) FindActiveByIDs(ids []int64, opts ...LoadOption) ([]model.UserProfile, error) {
	var profiles []model.UserProfile
	tx := applyOptions(r.db, opts)
	if err := tx.Where("id IN ? AND is_active = ?", ids, true).Find(&profiles).Error; err != nil {
		return nil, wrapDBError(err, "find profiles by ids")
	}
	return profiles, nil
}

func (r *userProfileRepository) FindByUserID(userID int64) ([]model.UserProfile, error) {
	var profiles []model.UserProfile
	if err := r.db.Where("user_id = ?", userID).Find(&profiles).Error; err != nil {
		return nil, wrapDBErrorf(err, "find profiles user_id=%d", userID)
	}
	return profiles, nil
}

func (r *userProfileRepository) FindDefaultByUserID(userID int64) (*model.UserProfile, error) {
	var profile model.UserProfile
	if err := r.db.Where("user_id = ? AND is_default = ?", userID, true).First(&profile).Error; err != nil {
		return nil, wrapDBErrorf(err, "find default profile user_id=%d", userID)
	}
	return &profile, nil
}

type relationshipRepository struct {
	db *gorm.DB
}

// NewRelationshipRepository creates the relationship repository.
func NewRelationshipRepository(db *gorm.DB) RelationshipRepository {
	return &relationshipRepository{db: db}
}

func (r *relationshipRepository) Create(rel *model.UserRelationship) error {
	if err := r.db.Create(rel).Error; err != nil {
		return wrapDBErrorf(err, "create relationship %d->%d", rel.MyProfileID, rel.OtherProfileID)
	}
	return nil
}

func (r *relationshipRepository) FindByMyProfileID(myProfileID int64, opts ...LoadOption) ([]model.UserRelationship, error) {
	var rels []model.UserRelationship
	tx := r.db.Preload("OtherProfile.Images.Media")
	tx = applyOptions(tx, opts)
	if err := tx.Where("my_profile_id = ?", myProfileID).Find(&rels).Error; err != nil {
		return nil, wrapDBErrorf(err, "find relationships my_profile_id=%d", myProfileID)
	}
	return rels, nil
}

func (r *relationshipRepository) SearchByNickname(myProfileID int64, nickname string) ([]model.UserRelationship, error) {
	var rels []model.UserRelationship
	err := r.db.Preload("OtherProfile.Images.Media").
		Joins("JOIN user_profiles ON user_profiles.id = user_relationships.other_profile_id").
		Where("user_relationships.my_profile_id = ?", myProfileID).
		Where("user_relationships.other_profile_nickname LIKE ? OR user_profiles.nickname LIKE ?",
			"%"+nickname+"%", "%"+nickname+"%").
		Find(&rels).Error
	if err != nil {
		return nil, wrapDBErrorf(err, "search relationships nickname=%s", nickname)
	}
	return rels, nil
}
