package handler

import (
	"net/http"
	"strconv"

	"talkroom_server/internal/model"
	chatsvc "talkroom_server/internal/service/chat"
	usersvc "talkroom_server/internal/service/user"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin is already policed by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WsHandler upgrades chat connections and hands them to the session
// engine.
type WsHandler struct {
	deps       *chatsvc.Deps
	dispatcher *chatsvc.Dispatcher
	userSvc    *usersvc.Service
}

// NewWsHandler creates the websocket entry handler.
func NewWsHandler(deps *chatsvc.Deps, dispatcher *chatsvc.Dispatcher, userSvc *usersvc.Service) *WsHandler {
	return &WsHandler{deps: deps, dispatcher: dispatcher, userSvc: userSvc}
}

// Connect handles GET /chats/:user_profile_id/:room_id. Credentials
// ride the session cookie or a token query parameter; failures close
// the upgraded socket with a policy or payload code so websocket
// clients get a real close frame instead of an HTTP error.
func (h *WsHandler) Connect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Error("websocket upgrade failed", zap.Error(err))
		return
	}

	account, err := h.authenticateWs(c)
	if err != nil {
		closeConn(conn, websocket.ClosePolicyViolation, "authentication required")
		return
	}

	profileID, err1 := strconv.ParseInt(c.Param("user_profile_id"), 10, 64)
	roomID, err2 := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err1 != nil || err2 != nil {
		closeConn(conn, websocket.CloseInvalidFramePayloadData, "bad path")
		return
	}
	owns, err := h.userSvc.OwnsProfile(int64(account.ID), profileID)
	if err != nil || !owns {
		closeConn(conn, websocket.CloseInvalidFramePayloadData, "profile mismatch")
		return
	}

	session := chatsvc.NewSession(h.deps, h.dispatcher, conn, profileID, roomID)
	session.Run(c.Request.Context())
}

func (h *WsHandler) authenticateWs(c *gin.Context) (*model.User, error) {
	if token := c.Query("token"); token != "" {
		return h.userSvc.AuthenticateToken(token)
	}
	return authenticate(c, h.userSvc)
}

func closeConn(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	_ = conn.Close()
}
