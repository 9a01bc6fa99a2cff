package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/config"
	"talkroom_server/internal/dao/mysql"
	redisdao "talkroom_server/internal/dao/redis"
	"talkroom_server/internal/handler"
	"talkroom_server/internal/https_server"
	"talkroom_server/internal/infrastructure/logger"
	chatsvc "talkroom_server/internal/service/chat"
	roomsvc "talkroom_server/internal/service/room"
	usersvc "talkroom_server/internal/service/user"
	"talkroom_server/internal/storage"
	"talkroom_server/pkg/constants"
	"talkroom_server/pkg/util/jwt"
	"talkroom_server/pkg/util/snowflake"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	conf := config.GetConfig()

	logger.Init(&conf.LogConfig, conf.MainConfig.Mode)
	defer zap.L().Sync()

	if conf.MainConfig.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	jwt.Init(conf.JWTConfig.Secret, conf.JWTConfig.AccessTokenExpiry)
	snowflake.Init(conf.SnowflakeConfig.MachineID)

	if err := handler.InitTrans("en"); err != nil {
		zap.L().Fatal("init validator translator", zap.Error(err))
	}

	repos := mysql.Init()
	rdb := redisdao.Init()

	store, err := storage.New(&conf.StorageConfig)
	if err != nil {
		zap.L().Fatal("init storage", zap.Error(err))
	}

	coord := cache.NewCoordinator(rdb, repos, store)

	bus, err := chatsvc.NewBus(conf.MainConfig.MessageMode)
	if err != nil {
		zap.L().Fatal("init bus", zap.Error(err))
	}
	defer bus.Close()

	syncer := chatsvc.NewSyncer(coord, repos, constants.SyncInterval)
	syncCtx, stopSyncer := context.WithCancel(context.Background())
	go syncer.Run(syncCtx)

	cookieSigner := usersvc.NewCookieSigner(conf.SessionConfig.Secret)
	userService := usersvc.NewService(repos, coord, store, cookieSigner)
	roomService := roomsvc.NewService(repos, coord)

	chatDeps := &chatsvc.Deps{Repos: repos, Coord: coord, Bus: bus, Store: store}
	dispatcher := chatsvc.NewDispatcher(syncer)

	handlers := handler.NewHandlers(userService, roomService, coord, store, chatDeps, dispatcher)
	engine := https_server.Init(handlers)

	addr := fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port)
	server := &http.Server{Addr: addr, Handler: engine}

	go func() {
		zap.L().Info("server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("shutting down")

	stopSyncer()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("graceful shutdown failed", zap.Error(err))
	}

	// Last drain so cache-only entries survive the restart.
	if err := syncer.Sync(context.Background()); err != nil {
		zap.L().Error("final history sync failed", zap.Error(err))
	}
}
