package handler

import (
	"strings"

	"talkroom_server/internal/model"
	usersvc "talkroom_server/internal/service/user"
	"talkroom_server/pkg/constants"
	"talkroom_server/pkg/errorx"

	"github.com/gin-gonic/gin"
)

const ctxUserKey = "authed_user"

// authenticate resolves the request's account from the session cookie
// or a bearer token.
func authenticate(c *gin.Context, svc *usersvc.Service) (*model.User, error) {
	if cookie, err := c.Cookie(constants.SessionCookieName); err == nil && cookie != "" {
		return svc.Authenticate(cookie)
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return svc.AuthenticateToken(strings.TrimPrefix(auth, "Bearer "))
	}
	return nil, errorx.New(errorx.CodeUnauthorized)
}

// RequireAuth guards a route group behind a live session.
func RequireAuth(svc *usersvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := authenticate(c, svc)
		if err != nil {
			HandleError(c, err)
			c.Abort()
			return
		}
		c.Set(ctxUserKey, account)
		c.Next()
	}
}

// CurrentUser reads the authenticated account off the context.
func CurrentUser(c *gin.Context) *model.User {
	value, ok := c.Get(ctxUserKey)
	if !ok {
		return nil
	}
	account, _ := value.(*model.User)
	return account
}
