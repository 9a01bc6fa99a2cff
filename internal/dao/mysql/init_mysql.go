// Package mysql initializes the relational store and hands out the
// repository layer.
package mysql

import (
	"fmt"

	"talkroom_server/internal/config"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/internal/model"

	"go.uber.org/zap"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Init opens the MySQL connection, migrates the schema, and returns the
// repository aggregate. Fatal on failure.
func Init() *repository.Repositories {
	conf := config.GetConfig()

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		conf.MysqlConfig.User,
		conf.MysqlConfig.Password,
		conf.MysqlConfig.Host,
		conf.MysqlConfig.Port,
		conf.MysqlConfig.DatabaseName,
	)

	db, err := gorm.Open(mysqldriver.Open(dsn), &gorm.Config{})
	if err != nil {
		zap.L().Fatal(err.Error())
	}

	if err := Migrate(db); err != nil {
		zap.L().Fatal(err.Error())
	}

	return repository.NewRepositories(db)
}

// Migrate creates or updates every table. Shared with the sqlite-backed
// test setup.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.UserProfile{},
		&model.UserRelationship{},
		&model.UserSession{},
		&model.S3Media{},
		&model.UserProfileImage{},
		&model.ChatRoom{},
		&model.ChatRoomUserAssociation{},
		&model.ChatHistory{},
		&model.ChatHistoryUserAssociation{},
		&model.ChatHistoryFile{},
	)
}
