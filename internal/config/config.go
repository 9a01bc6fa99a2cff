// Package config loads and holds the application configuration.
// Configuration is TOML, searched across several candidate paths so the
// binary can run from the repo root or from a package directory.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// MainConfig holds server identity and listen address.
type MainConfig struct {
	AppName     string `toml:"appName"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Mode        string `toml:"mode"`        // "dev" or "release"
	MessageMode string `toml:"messageMode"` // "redis" or "kafka"
}

// MysqlConfig holds the relational store connection parameters.
type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

// RedisConfig holds cache and pub/sub connection parameters.
type RedisConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	Db       int    `toml:"db"`
}

// KafkaConfig holds the alternate bus parameters, used when
// mainConfig.messageMode is "kafka".
type KafkaConfig struct {
	HostPort  string        `toml:"hostPort"`
	ChatTopic string        `toml:"chatTopic"`
	Partition int           `toml:"partition"`
	Timeout   time.Duration `toml:"timeout"`
}

// LogConfig configures zap output and lumberjack rotation.
type LogConfig struct {
	LogPath    string `toml:"logPath"`
	FileName   string `toml:"fileName"`
	MaxSize    int    `toml:"maxSize"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAge     int    `toml:"maxAge"`
	Level      string `toml:"level"`
}

// SessionConfig configures the signed session cookie.
type SessionConfig struct {
	Secret string `toml:"secret"`
}

// StorageConfig configures the local object store.
type StorageConfig struct {
	Root       string `toml:"root"`       // directory holding bucket subdirectories
	BucketName string `toml:"bucketName"` // default media bucket
	URLSecret  string `toml:"urlSecret"`  // signing key for presigned URLs
	BaseURL    string `toml:"baseURL"`    // public prefix, e.g. "/media"
}

// JWTConfig configures the query-token authentication path.
type JWTConfig struct {
	Secret            string `toml:"secret"`
	AccessTokenExpiry int    `toml:"accessTokenExpiry"` // minutes
}

// SnowflakeConfig configures the media uid generator node.
type SnowflakeConfig struct {
	MachineID int64 `toml:"machineId"`
}

// Config aggregates all sections.
type Config struct {
	MainConfig      `toml:"mainConfig"`
	MysqlConfig     `toml:"mysqlConfig"`
	RedisConfig     `toml:"redisConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	LogConfig       `toml:"logConfig"`
	SessionConfig   `toml:"sessionConfig"`
	StorageConfig   `toml:"storageConfig"`
	JWTConfig       `toml:"jwtConfig"`
	SnowflakeConfig `toml:"snowflakeConfig"`
}

var config *Config

// LoadConfig tries each candidate path and keeps the first file that parses.
func LoadConfig() error {
	paths := []string{
		"configs/config_local.toml",
		"configs/config.toml",
		"../../configs/config_local.toml",
		"../../configs/config.toml",
	}
	cfg := new(Config)
	for _, path := range paths {
		if _, err := toml.DecodeFile(path, cfg); err == nil {
			config = cfg
			return nil
		}
	}
	return fmt.Errorf("could not find configuration file in any of the search paths")
}

// GetConfig returns the lazily loaded configuration singleton.
func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
	}
	return config
}
