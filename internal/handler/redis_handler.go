package handler

import (
	"fmt"
	"strconv"

	"talkroom_server/internal/cache"
	"talkroom_server/pkg/errorx"

	"github.com/gin-gonic/gin"
)

// RedisHandler exposes the cache views for operators: inspect what a
// room or profile currently holds, and evict stale views.
type RedisHandler struct {
	coord *cache.Coordinator
}

// NewRedisHandler creates the cache introspection handler.
func NewRedisHandler(coord *cache.Coordinator) *RedisHandler {
	return &RedisHandler{coord: coord}
}

// ListRooms handles GET /redis/rooms.
func (h *RedisHandler) ListRooms(c *gin.Context) {
	keys, err := h.coord.Cache().ScanKeys(c.Request.Context(), "room:*:info")
	if err != nil {
		HandleError(c, err)
		return
	}
	roomIDs := make([]int64, 0, len(keys))
	for _, key := range keys {
		var roomID int64
		if _, err := fmt.Sscanf(key, "room:%d:info", &roomID); err == nil {
			roomIDs = append(roomIDs, roomID)
		}
	}
	HandleSuccess(c, gin.H{"room_ids": roomIDs})
}

// GetRoom handles GET /redis/rooms/:room_id.
func (h *RedisHandler) GetRoom(c *gin.Context) {
	roomID, ok := parseID(c, "room_id")
	if !ok {
		return
	}
	info, err := h.coord.RoomInfo(c.Request.Context(), roomID, cache.GetOptions{Required: true})
	if err != nil {
		HandleError(c, err)
		return
	}
	count, err := h.coord.HistoryCount(c.Request.Context(), roomID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"info": info, "history_count": count})
}

// RoomScoped serves the two four-segment room inspections. They share
// one route because gin rejects a static segment beside the :room_id
// wildcard: GET /redis/rooms/user_profile/:id lists a profile's cached
// room index, GET /redis/rooms/:room_id/chat_histories dumps a room's
// cached history.
func (h *RedisHandler) RoomScoped(c *gin.Context) {
	if c.Param("room_id") == "user_profile" {
		profileID, err := strconv.ParseInt(c.Param("selector"), 10, 64)
		if err != nil {
			HandleError(c, errorx.New(errorx.CodeInvalid))
			return
		}
		h.userRooms(c, profileID)
		return
	}
	if c.Param("selector") == "chat_histories" {
		if roomID, ok := parseID(c, "room_id"); ok {
			h.roomHistories(c, roomID)
		}
		return
	}
	HandleError(c, errorx.New(errorx.CodeNotFound))
}

// GetRoomHistories handles GET /redis/chats/:room_id.
func (h *RedisHandler) GetRoomHistories(c *gin.Context) {
	roomID, ok := parseID(c, "room_id")
	if !ok {
		return
	}
	h.roomHistories(c, roomID)
}

func (h *RedisHandler) roomHistories(c *gin.Context, roomID int64) {
	entries, err := h.coord.Histories(c.Request.Context(), roomID, 0, -1)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"histories": entries})
}

// GetMemberView handles GET /redis/user_profiles/:room_id/:viewer_id:
// one viewer's cached member set, uncached views stay empty.
func (h *RedisHandler) GetMemberView(c *gin.Context) {
	roomID, ok := parseID(c, "room_id")
	if !ok {
		return
	}
	viewerID, ok := parseID(c, "viewer_id")
	if !ok {
		return
	}
	members, err := h.coord.Members(c.Request.Context(), roomID, viewerID, cache.GetOptions{})
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"user_profiles": members})
}

// DeleteRoom handles DELETE /redis/rooms/:room_id: evicts every cache
// view of the room so the next reader re-syncs from the store.
func (h *RedisHandler) DeleteRoom(c *gin.Context) {
	roomID, ok := parseID(c, "room_id")
	if !ok {
		return
	}
	keys, err := h.coord.Cache().ScanKeys(c.Request.Context(), fmt.Sprintf("room:%d:*", roomID))
	if err != nil {
		HandleError(c, err)
		return
	}
	if err := h.coord.Cache().Delete(c.Request.Context(), keys...); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"deleted": len(keys)})
}

// GetUserRooms handles GET /redis/users/:user_profile_id/chat_rooms.
func (h *RedisHandler) GetUserRooms(c *gin.Context) {
	profileID, ok := parseID(c, "user_profile_id")
	if !ok {
		return
	}
	h.userRooms(c, profileID)
}

func (h *RedisHandler) userRooms(c *gin.Context, profileID int64) {
	items, err := h.coord.RoomItems(c.Request.Context(), profileID, cache.GetOptions{})
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"chat_rooms": items})
}

// GetFollowings handles GET /redis/followings/:user_profile_id.
func (h *RedisHandler) GetFollowings(c *gin.Context) {
	profileID, ok := parseID(c, "user_profile_id")
	if !ok {
		return
	}
	followings, err := h.coord.Followings(c.Request.Context(), profileID, cache.GetOptions{})
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"followings": followings})
}

// DeleteFollowing handles DELETE /redis/followings/:user_profile_id.
// target_id or target_name narrows the eviction to matching cached
// entries; with neither the whole set drops and re-syncs on next read.
func (h *RedisHandler) DeleteFollowing(c *gin.Context) {
	profileID, ok := parseID(c, "user_profile_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	targetID := c.Query("target_id")
	targetName := c.Query("target_name")
	if targetID == "" && targetName == "" {
		if err := h.coord.InvalidateFollowings(ctx, profileID); err != nil {
			HandleError(c, err)
			return
		}
		HandleSuccess(c, gin.H{"deleted": "all"})
		return
	}
	key := cache.FollowingsKey(profileID)
	raws, err := h.coord.Cache().SMembers(ctx, key)
	if err != nil {
		HandleError(c, err)
		return
	}
	removed := 0
	for _, raw := range raws {
		var f cache.Following
		if err := cache.Unmarshal(raw, &f); err != nil {
			HandleError(c, err)
			return
		}
		if (targetID != "" && strconv.FormatInt(f.ID, 10) == targetID) ||
			(targetName != "" && f.Nickname == targetName) {
			if err := h.coord.Cache().SRem(ctx, key, raw); err != nil {
				HandleError(c, err)
				return
			}
			removed++
		}
	}
	HandleSuccess(c, gin.H{"deleted": removed})
}

// DeleteUser handles DELETE /redis/users/:user_profile_id: evicts a
// profile's index and followings views.
func (h *RedisHandler) DeleteUser(c *gin.Context) {
	profileID, ok := parseID(c, "user_profile_id")
	if !ok {
		return
	}
	keys, err := h.coord.Cache().ScanKeys(c.Request.Context(), fmt.Sprintf("user:%d:*", profileID))
	if err != nil {
		HandleError(c, err)
		return
	}
	if err := h.coord.Cache().Delete(c.Request.Context(), keys...); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"deleted": len(keys)})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil {
		HandleError(c, errorx.New(errorx.CodeInvalid))
		return 0, false
	}
	return id, true
}
