// Package router maps the HTTP surface onto the handlers.
package router

import (
	"talkroom_server/internal/handler"

	"github.com/gin-gonic/gin"
)

// Router registers every route group.
type Router struct {
	handlers *handler.Handlers
}

// NewRouter creates the router over the handler aggregate.
func NewRouter(handlers *handler.Handlers) *Router {
	return &Router{handlers: handlers}
}

// RegisterRoutes mounts all route groups on the engine.
func (r *Router) RegisterRoutes(engine *gin.Engine) {
	auth := handler.RequireAuth(r.handlers.UserSvc)

	users := engine.Group("/users")
	{
		users.POST("/signup", r.handlers.User.SignUp)
		users.POST("/login", r.handlers.User.Login)
		users.POST("/logout", r.handlers.User.Logout)
		users.GET("/me", auth, r.handlers.User.WhoAmI)
		users.GET("/whoami", auth, r.handlers.User.WhoAmI)
		users.GET("/profile/:user_profile_id", auth, r.handlers.User.Profile)
		users.POST("/relationship/:user_profile_id/create", auth, r.handlers.User.CreateFollowing)
		users.GET("/relationship/:user_profile_id/search", auth, r.handlers.User.Followings)
	}

	profiles := engine.Group("/profiles", auth)
	{
		profiles.GET("/:user_profile_id", r.handlers.User.Profile)
		profiles.POST("/:user_profile_id/images", r.handlers.User.UploadImage)
		profiles.GET("/:user_profile_id/followings", r.handlers.User.Followings)
		profiles.POST("/:user_profile_id/followings", r.handlers.User.CreateFollowing)
		profiles.GET("/:user_profile_id/rooms", r.handlers.Room.List)
		profiles.POST("/:user_profile_id/rooms", r.handlers.Room.Create)
	}

	redis := engine.Group("/redis", auth)
	{
		redis.GET("/rooms", r.handlers.Redis.ListRooms)
		redis.GET("/rooms/:room_id", r.handlers.Redis.GetRoom)
		redis.GET("/rooms/:room_id/:selector", r.handlers.Redis.RoomScoped)
		redis.DELETE("/rooms/:room_id", r.handlers.Redis.DeleteRoom)
		redis.GET("/chats/:room_id", r.handlers.Redis.GetRoomHistories)
		redis.GET("/user_profiles/:room_id/:viewer_id", r.handlers.Redis.GetMemberView)
		redis.GET("/users/:user_profile_id/chat_rooms", r.handlers.Redis.GetUserRooms)
		redis.DELETE("/users/:user_profile_id", r.handlers.Redis.DeleteUser)
		redis.GET("/followings/:user_profile_id", r.handlers.Redis.GetFollowings)
		redis.DELETE("/followings/:user_profile_id", r.handlers.Redis.DeleteFollowing)
	}

	// Signed URLs carry their own auth.
	engine.GET("/media/:bucket/*filepath", r.handlers.Media.Download)

	engine.POST("/chats/rooms/create", auth, r.handlers.Room.CreateRoom)
	engine.GET("/chats/:user_profile_id/:room_id", r.handlers.Ws.Connect)
}
