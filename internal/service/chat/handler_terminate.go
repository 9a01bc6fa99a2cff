package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/dao/mysql/repository"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// terminateHandler removes the sender from the room and closes the
// session. The last member leaving deactivates the room, flushes the
// cached history into the relational store, and drops every cache view.
type terminateHandler struct {
	syncer *Syncer
}

func newTerminateHandler(syncer *Syncer) func() Handler {
	return func() Handler { return terminateHandler{syncer: syncer} }
}

func (h terminateHandler) Handle(ctx context.Context, hctx *HandlerContext, data json.RawMessage) (*Outcome, error) {
	lock, err := hctx.Coord.Lock(ctx, cache.RoomInfoLock)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	info, err := hctx.Coord.RoomInfo(ctx, hctx.RoomID, cache.GetOptions{Sync: true, Required: true})
	if err != nil {
		return nil, err
	}

	remaining := make([]int64, 0, len(info.UserProfileIDs))
	for _, id := range info.UserProfileIDs {
		if id != hctx.ProfileID {
			remaining = append(remaining, id)
		}
	}
	last := len(remaining) == 0

	err = hctx.Repos.WithTransaction(func(r *repository.Repositories) error {
		if err := r.Membership.Delete(hctx.RoomID, hctx.ProfileID); err != nil {
			return err
		}
		if last {
			return r.Room.SetInactive(hctx.RoomID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := hctx.Coord.RemoveRoomItem(ctx, hctx.ProfileID, hctx.RoomID); err != nil {
		zap.L().Error("room index removal failed", zap.Int64("profile_id", hctx.ProfileID), zap.Error(err))
	}
	if err := hctx.Coord.DeleteMembers(ctx, hctx.RoomID, hctx.ProfileID); err != nil {
		zap.L().Error("member view removal failed", zap.Int64("profile_id", hctx.ProfileID), zap.Error(err))
	}
	for _, viewerID := range remaining {
		if err := hctx.Coord.RemoveMember(ctx, hctx.RoomID, viewerID, hctx.ProfileID); err != nil {
			zap.L().Error("member view reconcile failed",
				zap.Int64("room_id", hctx.RoomID),
				zap.Int64("viewer_id", viewerID),
				zap.Error(err))
		}
	}

	outcome := &Outcome{Close: &CloseDirective{Code: websocket.CloseGoingAway, Text: "left room"}}

	now := time.Now()
	contents := fmt.Sprintf("%s님이 나갔습니다.", hctx.Profile.Nickname)
	notice := cache.HistoryEntry{
		RedisID:       NewRedisID(),
		UserProfileID: hctx.ProfileID,
		Contents:      &contents,
		Type:          "notice",
		Files:         []cache.HistoryFile{},
		ReadUserIDs:   readersOf(info, hctx.ProfileID),
		Timestamp:     cache.UnixSeconds(now),
		Date:          entryDate(now),
		IsActive:      true,
	}

	if last {
		// The notice lands in the history first so the flush persists
		// it along with everything only the cache holds.
		if err := storeEntry(ctx, hctx, notice); err != nil {
			return nil, err
		}
		if err := h.syncer.FlushRoom(ctx, hctx.RoomID); err != nil {
			zap.L().Error("history flush failed", zap.Int64("room_id", hctx.RoomID), zap.Error(err))
		}
		if err := hctx.Coord.DeleteRoomInfo(ctx, hctx.RoomID); err != nil {
			return nil, err
		}
		if err := hctx.Coord.Cache().Delete(ctx, cache.RoomHistoriesKey(hctx.RoomID)); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	connected := make([]int64, 0, len(info.ConnectedProfileIDs))
	for _, id := range info.ConnectedProfileIDs {
		if id != hctx.ProfileID {
			connected = append(connected, id)
		}
	}
	info.UserProfileIDs = remaining
	info.ConnectedProfileIDs = connected
	delete(info.UserProfileFiles, hctx.ProfileID)
	if err := hctx.Coord.SaveRoomInfo(ctx, info); err != nil {
		return nil, err
	}
	hctx.Room = info

	if err := storeEntry(ctx, hctx, notice); err != nil {
		return nil, err
	}
	bumpRoomIndexes(ctx, hctx, notice.Timestamp)

	outcome.Multicast = []SendForm{{Type: TypeTerminate, Data: TerminateReply{
		History:       notice,
		UserProfileID: hctx.ProfileID,
	}}}
	return outcome, nil
}
