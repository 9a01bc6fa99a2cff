package handler

import (
	"strconv"

	roomsvc "talkroom_server/internal/service/room"
	usersvc "talkroom_server/internal/service/user"
	"talkroom_server/pkg/errorx"

	"github.com/gin-gonic/gin"
)

// RoomHandler serves room routes.
type RoomHandler struct {
	roomSvc *roomsvc.Service
	userSvc *usersvc.Service
}

// NewRoomHandler creates the room handler.
func NewRoomHandler(roomSvc *roomsvc.Service, userSvc *usersvc.Service) *RoomHandler {
	return &RoomHandler{roomSvc: roomSvc, userSvc: userSvc}
}

// Create handles POST /profiles/:user_profile_id/rooms.
func (h *RoomHandler) Create(c *gin.Context) {
	profileID, ok := h.ownedProfileID(c)
	if !ok {
		return
	}
	var req roomsvc.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.roomSvc.Create(c.Request.Context(), profileID, req)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// CreateRoom handles POST /chats/rooms/create: the creating profile
// rides in the body instead of the path.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		UserProfileID int64 `json:"user_profile_id" binding:"required"`
		roomsvc.CreateRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	account := CurrentUser(c)
	owns, err := h.userSvc.OwnsProfile(int64(account.ID), req.UserProfileID)
	if err != nil {
		HandleError(c, err)
		return
	}
	if !owns {
		HandleError(c, errorx.New(errorx.CodePermissionDenied))
		return
	}
	data, err := h.roomSvc.Create(c.Request.Context(), req.UserProfileID, req.CreateRequest)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// List handles GET /profiles/:user_profile_id/rooms.
func (h *RoomHandler) List(c *gin.Context) {
	profileID, ok := h.ownedProfileID(c)
	if !ok {
		return
	}
	data, err := h.roomSvc.List(c.Request.Context(), profileID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

func (h *RoomHandler) ownedProfileID(c *gin.Context) (int64, bool) {
	profileID, err := strconv.ParseInt(c.Param("user_profile_id"), 10, 64)
	if err != nil {
		HandleError(c, errorx.New(errorx.CodeInvalid))
		return 0, false
	}
	account := CurrentUser(c)
	owns, err := h.userSvc.OwnsProfile(int64(account.ID), profileID)
	if err != nil {
		HandleError(c, err)
		return 0, false
	}
	if !owns {
		HandleError(c, errorx.New(errorx.CodePermissionDenied))
		return 0, false
	}
	return profileID, true
}
