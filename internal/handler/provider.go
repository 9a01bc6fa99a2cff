package handler

import (
	"talkroom_server/internal/cache"
	chatsvc "talkroom_server/internal/service/chat"
	roomsvc "talkroom_server/internal/service/room"
	usersvc "talkroom_server/internal/service/user"
	"talkroom_server/internal/storage"
)

// Handlers aggregates every handler for the router.
type Handlers struct {
	User  *UserHandler
	Room  *RoomHandler
	Redis *RedisHandler
	Media *MediaHandler
	Ws    *WsHandler

	// UserSvc backs the auth middleware.
	UserSvc *usersvc.Service
}

// NewHandlers wires every handler.
func NewHandlers(
	userSvc *usersvc.Service,
	roomSvc *roomsvc.Service,
	coord *cache.Coordinator,
	store *storage.Store,
	chatDeps *chatsvc.Deps,
	dispatcher *chatsvc.Dispatcher,
) *Handlers {
	return &Handlers{
		User:    NewUserHandler(userSvc),
		Room:    NewRoomHandler(roomSvc, userSvc),
		Redis:   NewRedisHandler(coord),
		Media:   NewMediaHandler(store),
		Ws:      NewWsHandler(chatDeps, dispatcher, userSvc),
		UserSvc: userSvc,
	}
}
