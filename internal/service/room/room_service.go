// Package room implements room creation and listing outside the
// websocket path.
package room

import (
	"context"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/internal/model"
	"talkroom_server/pkg/errorx"

	"go.uber.org/zap"
)

// CreateRequest opens a room with the creator and the targets inside.
type CreateRequest struct {
	Name             *string `json:"name" binding:"omitempty,max=64"`
	Type             string  `json:"type" binding:"required,oneof=one_to_one group"`
	TargetProfileIDs []int64 `json:"target_user_profile_ids" binding:"required,min=1"`
}

// RoomReply is the created or listed room view.
type RoomReply struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	UnreadMsgCnt int64   `json:"unread_msg_cnt"`
	Timestamp    float64 `json:"timestamp"`
}

// Service is the room service.
type Service struct {
	repos *repository.Repositories
	coord *cache.Coordinator
}

// NewService wires the room service.
func NewService(repos *repository.Repositories, coord *cache.Coordinator) *Service {
	return &Service{repos: repos, coord: coord}
}

// Create opens a room, memberships included, and warms its cache views.
// Every target must be a live profile.
func (s *Service) Create(ctx context.Context, creatorProfileID int64, req CreateRequest) (*RoomReply, error) {
	roomType := model.RoomTypeGroup
	if req.Type == "one_to_one" {
		roomType = model.RoomTypeOneToOne
	}
	if roomType == model.RoomTypeOneToOne && len(req.TargetProfileIDs) != 1 {
		return nil, errorx.Newf(errorx.CodeInvalid, "one-to-one room needs exactly one target")
	}

	memberIDs := []int64{creatorProfileID}
	for _, id := range req.TargetProfileIDs {
		if id == creatorProfileID {
			continue
		}
		memberIDs = append(memberIDs, id)
	}
	profiles, err := s.repos.UserProfile.FindActiveByIDs(memberIDs)
	if err != nil {
		return nil, err
	}
	if len(profiles) != len(memberIDs) {
		return nil, errorx.Newf(errorx.CodeNotFound, "room target missing or inactive")
	}

	room := model.ChatRoom{
		Name:     req.Name,
		Type:     roomType,
		IsActive: true,
	}
	err = s.repos.WithTransaction(func(r *repository.Repositories) error {
		if err := r.Room.Create(&room); err != nil {
			return err
		}
		assocs := make([]model.ChatRoomUserAssociation, 0, len(memberIDs))
		for _, id := range memberIDs {
			assocs = append(assocs, model.ChatRoomUserAssociation{
				RoomID:        room.ID,
				UserProfileID: uint(id),
			})
		}
		return r.Membership.BulkCreate(assocs)
	})
	if err != nil {
		return nil, err
	}

	roomID := int64(room.ID)
	if _, err := s.coord.RoomInfo(ctx, roomID, cache.GetOptions{Sync: true, Required: true}); err != nil {
		return nil, err
	}
	now := cache.UnixSeconds(time.Now())
	for _, id := range memberIDs {
		if err := s.coord.UpsertRoomItem(ctx, id, cache.RoomItem{ID: roomID, Timestamp: now}); err != nil {
			zap.L().Error("room index seed failed",
				zap.Int64("room_id", roomID),
				zap.Int64("profile_id", id),
				zap.Error(err))
		}
	}

	name, err := s.displayName(ctx, roomID, creatorProfileID, req.Name)
	if err != nil {
		return nil, err
	}
	return &RoomReply{
		ID:        roomID,
		Name:      name,
		Type:      req.Type,
		Timestamp: now,
	}, nil
}

// List returns a profile's rooms, newest activity first. Unnamed rooms
// get their per-viewer default name.
func (s *Service) List(ctx context.Context, profileID int64) ([]RoomReply, error) {
	items, err := s.coord.RoomItems(ctx, profileID, cache.GetOptions{Sync: true})
	if err != nil {
		return nil, err
	}
	replies := make([]RoomReply, 0, len(items))
	for _, item := range items {
		name := item.Name
		if name == "" {
			name, err = s.coord.GenerateDefaultRoomName(ctx, item.ID, profileID)
			if err != nil {
				zap.L().Error("room name derivation failed", zap.Int64("room_id", item.ID), zap.Error(err))
				name = ""
			}
		}
		replies = append(replies, RoomReply{
			ID:           item.ID,
			Name:         name,
			UnreadMsgCnt: item.UnreadMsgCnt,
			Timestamp:    item.Timestamp,
		})
	}
	return replies, nil
}

func (s *Service) displayName(ctx context.Context, roomID, viewerProfileID int64, explicit *string) (string, error) {
	if explicit != nil && *explicit != "" {
		return *explicit, nil
	}
	return s.coord.GenerateDefaultRoomName(ctx, roomID, viewerProfileID)
}
