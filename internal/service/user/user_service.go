// Package user implements accounts: signup, session login, profiles,
// profile images, and relationships.
package user

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/internal/model"
	"talkroom_server/internal/storage"
	"talkroom_server/pkg/constants"
	"talkroom_server/pkg/errorx"
	"talkroom_server/pkg/util/jwt"
	"talkroom_server/pkg/util/snowflake"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service is the account service.
type Service struct {
	repos  *repository.Repositories
	coord  *cache.Coordinator
	store  *storage.Store
	signer *CookieSigner
}

// NewService wires the account service.
func NewService(repos *repository.Repositories, coord *cache.Coordinator, store *storage.Store, signer *CookieSigner) *Service {
	return &Service{repos: repos, coord: coord, store: store, signer: signer}
}

// SignUp registers an account and its default profile in one
// transaction. The uid must be unused.
func (s *Service) SignUp(req SignUpRequest) (*UserReply, error) {
	if _, err := s.repos.User.FindByUid(req.Uid); err == nil {
		return nil, errorx.New(errorx.CodeAlreadySignedUp)
	} else if !errorx.IsNotFound(err) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "hash password")
	}

	account := model.User{
		Uid:      req.Uid,
		Password: string(hash),
		Name:     req.Name,
		Mobile:   req.Mobile,
		Email:    req.Email,
		IsActive: true,
	}
	profile := model.UserProfile{
		IdentityID: snowflake.GenerateIDString(),
		Nickname:   req.Nickname,
		IsDefault:  true,
		IsActive:   true,
	}
	err = s.repos.WithTransaction(func(r *repository.Repositories) error {
		if err := r.User.Create(&account); err != nil {
			return err
		}
		profile.UserID = account.ID
		return r.UserProfile.Create(&profile)
	})
	if err != nil {
		return nil, err
	}

	reply := userReplyOf(&account)
	reply.Profiles = []ProfileReply{s.profileReplyOf(&profile)}
	return &reply, nil
}

// Login verifies credentials and issues a session cookie plus a bearer
// token.
func (s *Service) Login(req LoginRequest) (*LoginReply, error) {
	account, err := s.repos.User.FindByUid(req.Uid)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, errorx.New(errorx.CodeInvalidUID)
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, errorx.New(errorx.CodePermissionDenied)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(req.Password)) != nil {
		return nil, errorx.New(errorx.CodeInvalidPassword)
	}

	session := model.UserSession{
		SessionID: uuid.New().String(),
		UserID:    account.ID,
		ExpiresAt: sql.NullTime{Time: time.Now().Add(constants.SessionMaxAge), Valid: true},
	}
	if err := s.repos.Session.Create(&session); err != nil {
		return nil, err
	}
	if err := s.repos.User.UpdateLastLogin(int64(account.ID)); err != nil {
		return nil, err
	}
	token, err := jwt.GenerateAccessToken(int64(account.ID))
	if err != nil {
		return nil, err
	}

	return &LoginReply{
		User:        userReplyOf(account),
		Cookie:      s.signer.Sign(session.SessionID),
		AccessToken: token,
	}, nil
}

// Logout revokes the session behind a cookie value.
func (s *Service) Logout(cookieValue string) error {
	sessionID, err := s.signer.Verify(cookieValue)
	if err != nil {
		return err
	}
	return s.repos.Session.DeleteBySessionID(sessionID)
}

// Authenticate resolves a cookie value to its live account.
func (s *Service) Authenticate(cookieValue string) (*model.User, error) {
	sessionID, err := s.signer.Verify(cookieValue)
	if err != nil {
		return nil, err
	}
	session, err := s.repos.Session.FindBySessionID(sessionID)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, errorx.New(errorx.CodeUnauthorized)
		}
		return nil, err
	}
	if session.ExpiresAt.Valid && session.ExpiresAt.Time.Before(time.Now()) {
		return nil, errorx.New(errorx.CodeTokenExpired)
	}
	if session.User == nil || !session.User.IsActive {
		return nil, errorx.New(errorx.CodeUnauthorized)
	}
	return session.User, nil
}

// AuthenticateToken resolves a bearer token to its live account.
func (s *Service) AuthenticateToken(token string) (*model.User, error) {
	claims, err := jwt.ParseToken(token)
	if err != nil {
		return nil, err
	}
	account, err := s.repos.User.FindByID(claims.UserID)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, errorx.New(errorx.CodeUnauthorized)
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, errorx.New(errorx.CodeUnauthorized)
	}
	return account, nil
}

// WhoAmI returns the account view with all its profiles.
func (s *Service) WhoAmI(userID int64) (*UserReply, error) {
	account, err := s.repos.User.FindByID(userID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.repos.UserProfile.FindByUserID(userID)
	if err != nil {
		return nil, err
	}
	reply := userReplyOf(account)
	for i := range profiles {
		reply.Profiles = append(reply.Profiles, s.profileReplyOf(&profiles[i]))
	}
	return &reply, nil
}

// Profile returns one profile with signed image URLs.
func (s *Service) Profile(profileID int64) (*ProfileReply, error) {
	profile, err := s.repos.UserProfile.FindByID(profileID, repository.WithImages())
	if err != nil {
		return nil, err
	}
	reply := s.profileReplyOf(profile)
	return &reply, nil
}

// OwnsProfile checks that a profile belongs to an account and is live.
func (s *Service) OwnsProfile(userID, profileID int64) (bool, error) {
	profile, err := s.repos.UserProfile.FindByID(profileID)
	if err != nil {
		if errorx.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return int64(profile.UserID) == userID && profile.IsActive, nil
}

// UploadProfileImage stores one image body and attaches it.
func (s *Service) UploadProfileImage(ctx context.Context, profileID int64, req ImageUploadRequest) (*cache.ImageFile, error) {
	body, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInvalid, "decode image body")
	}
	imageType := model.ImageTypeProfile
	if req.Type == "background" {
		imageType = model.ImageTypeBackground
	}

	uid := strings.ReplaceAll(uuid.New().String(), "-", "")
	obj := storage.Object{
		Bucket:   s.store.Bucket(),
		Filepath: fmt.Sprintf("profile/%d/%s_%s", profileID, uid, req.Filename),
		Data:     body,
	}
	if err := s.store.Upload(ctx, obj); err != nil {
		return nil, err
	}

	err = s.repos.WithTransaction(func(r *repository.Repositories) error {
		media := model.S3Media{
			Uid:         uid,
			Bucket:      obj.Bucket,
			Filename:    req.Filename,
			Filepath:    obj.Filepath,
			ContentType: req.ContentType,
			UploadedBy:  uint(profileID),
			IsActive:    true,
		}
		if err := r.Media.CreateMedia(&media); err != nil {
			return err
		}
		return r.Media.CreateProfileImage(&model.UserProfileImage{
			Uid:           uid,
			UserProfileID: uint(profileID),
			Type:          imageType,
			IsDefault:     req.IsDefault,
		})
	})
	if err != nil {
		return nil, err
	}

	return &cache.ImageFile{
		Uid:       uid,
		Type:      req.Type,
		IsDefault: req.IsDefault,
		Bucket:    obj.Bucket,
		Filepath:  obj.Filepath,
		URL:       s.store.SignedURL(obj.Bucket, obj.Filepath),
	}, nil
}

// CreateRelationship adds a directed edge and invalidates the cached
// followings set so the next read re-syncs.
func (s *Service) CreateRelationship(ctx context.Context, myProfileID int64, req RelationshipRequest) error {
	if myProfileID == req.OtherProfileID {
		return errorx.Newf(errorx.CodeInvalid, "cannot follow yourself")
	}
	if _, err := s.repos.UserProfile.FindByID(req.OtherProfileID); err != nil {
		return err
	}
	relType := model.RelationshipFriend
	if req.Type == "FAMILY" {
		relType = model.RelationshipFamily
	}
	err := s.repos.Relationship.Create(&model.UserRelationship{
		MyProfileID:          uint(myProfileID),
		OtherProfileID:       uint(req.OtherProfileID),
		OtherProfileNickname: req.OtherProfileNickname,
		Type:                 relType,
		Favorites:            req.Favorites,
	})
	if err != nil {
		return err
	}
	return s.coord.InvalidateFollowings(ctx, myProfileID)
}

// Followings reads the cached relationship set.
func (s *Service) Followings(ctx context.Context, profileID int64) ([]cache.Following, error) {
	return s.coord.Followings(ctx, profileID, cache.GetOptions{Sync: true})
}

// SearchFollowings searches relationships by nickname, override first.
func (s *Service) SearchFollowings(myProfileID int64, nickname string) ([]cache.Following, error) {
	rels, err := s.repos.Relationship.SearchByNickname(myProfileID, nickname)
	if err != nil {
		return nil, err
	}
	results := make([]cache.Following, 0, len(rels))
	for i := range rels {
		rel := &rels[i]
		other := rel.OtherProfile
		if other == nil || !other.IsActive {
			continue
		}
		f := cache.Following{
			ID:          int64(other.ID),
			IdentityID:  other.IdentityID,
			Nickname:    other.Nickname,
			Type:        rel.Type,
			Favorites:   rel.Favorites,
			IsHidden:    rel.IsHidden,
			IsForbidden: rel.IsForbidden,
			Files:       []cache.ImageFile{},
		}
		if rel.OtherProfileNickname != "" {
			f.Nickname = rel.OtherProfileNickname
		}
		for j := range other.Images {
			img := &other.Images[j]
			if !img.IsDefault || img.Media == nil {
				continue
			}
			f.Files = append(f.Files, cache.ImageFile{
				Uid:       img.Uid,
				IsDefault: true,
				Bucket:    img.Media.Bucket,
				Filepath:  img.Media.Filepath,
				URL:       s.store.SignedURL(img.Media.Bucket, img.Media.Filepath),
			})
		}
		results = append(results, f)
	}
	return results, nil
}

func userReplyOf(account *model.User) UserReply {
	reply := UserReply{
		ID:     int64(account.ID),
		Uid:    account.Uid,
		Name:   account.Name,
		Email:  account.Email,
		Mobile: account.Mobile,
	}
	if account.LastLogin.Valid {
		reply.LastLogin = account.LastLogin.Time.Format("2006-01-02 15:04:05")
	}
	return reply
}

func (s *Service) profileReplyOf(profile *model.UserProfile) ProfileReply {
	reply := ProfileReply{
		ID:            int64(profile.ID),
		IdentityID:    profile.IdentityID,
		Nickname:      profile.Nickname,
		StatusMessage: profile.StatusMessage,
		IsDefault:     profile.IsDefault,
		Images:        []cache.ImageFile{},
	}
	for i := range profile.Images {
		img := &profile.Images[i]
		if img.Media == nil {
			continue
		}
		reply.Images = append(reply.Images, cache.ImageFile{
			Uid:       img.Uid,
			Type:      imageTypeName(img.Type),
			IsDefault: img.IsDefault,
			Bucket:    img.Media.Bucket,
			Filepath:  img.Media.Filepath,
			URL:       s.store.SignedURL(img.Media.Bucket, img.Media.Filepath),
		})
	}
	return reply
}

func imageTypeName(t int8) string {
	if t == model.ImageTypeBackground {
		return "background"
	}
	return "profile"
}
