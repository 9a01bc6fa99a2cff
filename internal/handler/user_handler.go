package handler

import (
	"strconv"

	usersvc "talkroom_server/internal/service/user"
	"talkroom_server/pkg/constants"
	"talkroom_server/pkg/errorx"

	"github.com/gin-gonic/gin"
)

// UserHandler serves account routes.
type UserHandler struct {
	userSvc *usersvc.Service
}

// NewUserHandler creates the account handler.
func NewUserHandler(userSvc *usersvc.Service) *UserHandler {
	return &UserHandler{userSvc: userSvc}
}

// SignUp handles POST /users/signup.
func (h *UserHandler) SignUp(c *gin.Context) {
	var req usersvc.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.userSvc.SignUp(req)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// Login handles POST /users/login. The session lands in a cookie; the
// body additionally carries a bearer token for non-browser clients.
func (h *UserHandler) Login(c *gin.Context) {
	var req usersvc.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.userSvc.Login(req)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.SetCookie(constants.SessionCookieName, data.Cookie,
		int(constants.SessionMaxAge.Seconds()), "/", "", false, true)
	HandleSuccess(c, data)
}

// Logout handles POST /users/logout.
func (h *UserHandler) Logout(c *gin.Context) {
	cookie, err := c.Cookie(constants.SessionCookieName)
	if err != nil || cookie == "" {
		HandleError(c, errorx.New(errorx.CodeUnauthorized))
		return
	}
	if err := h.userSvc.Logout(cookie); err != nil {
		HandleError(c, err)
		return
	}
	c.SetCookie(constants.SessionCookieName, "", -1, "/", "", false, true)
	HandleSuccess(c, nil)
}

// WhoAmI handles GET /users/me.
func (h *UserHandler) WhoAmI(c *gin.Context) {
	account := CurrentUser(c)
	data, err := h.userSvc.WhoAmI(int64(account.ID))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// Profile handles GET /profiles/:user_profile_id.
func (h *UserHandler) Profile(c *gin.Context) {
	profileID, err := strconv.ParseInt(c.Param("user_profile_id"), 10, 64)
	if err != nil {
		HandleError(c, errorx.New(errorx.CodeInvalid))
		return
	}
	data, err := h.userSvc.Profile(profileID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// UploadImage handles POST /profiles/:user_profile_id/images.
func (h *UserHandler) UploadImage(c *gin.Context) {
	profileID, ok := h.ownedProfileID(c)
	if !ok {
		return
	}
	var req usersvc.ImageUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.userSvc.UploadProfileImage(c.Request.Context(), profileID, req)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// Followings handles GET /profiles/:user_profile_id/followings.
func (h *UserHandler) Followings(c *gin.Context) {
	profileID, ok := h.ownedProfileID(c)
	if !ok {
		return
	}
	if nickname := c.Query("nickname"); nickname != "" {
		data, err := h.userSvc.SearchFollowings(profileID, nickname)
		if err != nil {
			HandleError(c, err)
			return
		}
		HandleSuccess(c, data)
		return
	}
	data, err := h.userSvc.Followings(c.Request.Context(), profileID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// CreateFollowing handles POST /profiles/:user_profile_id/followings.
func (h *UserHandler) CreateFollowing(c *gin.Context) {
	profileID, ok := h.ownedProfileID(c)
	if !ok {
		return
	}
	var req usersvc.RelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.userSvc.CreateRelationship(c.Request.Context(), profileID, req); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}

// ownedProfileID parses the path profile id and checks it belongs to
// the authenticated account.
func (h *UserHandler) ownedProfileID(c *gin.Context) (int64, bool) {
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
